package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerAccessRoutes(api *gin.RouterGroup, h *handlers.AccessHandler) {
	api.POST("/access/decide", h.Decide)
}
