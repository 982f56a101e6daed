package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/pkg/response"
)

// Health returns a readiness probe that also pings the database.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "ok"
		dbStatus := "ok"

		if db != nil {
			if sqlDB, err := db.DB(); err != nil {
				dbStatus = "error"
				status = "degraded"
			} else if err := sqlDB.PingContext(requestContext(c)); err != nil {
				dbStatus = "error"
				status = "degraded"
			}
		}

		code := http.StatusOK
		if status != "ok" {
			code = http.StatusServiceUnavailable
		}
		response.Success(c, code, gin.H{"status": status, "database": dbStatus})
	}
}
