package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, h *handlers.SessionHandler) {
	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.ListActive)
		sessions.POST("/:id/revoke", h.Revoke)
		sessions.POST("/revoke-others", h.RevokeOthers)
	}
}
