package middleware

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

// RequireAdmin restricts a route to administrator accounts. It must run after
// Auth so the user id is present in the request context.
func RequireAdmin(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).
			Select("id", "is_admin").
			First(&user, "id = ?", userID).Error; err != nil {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		if !user.IsAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
