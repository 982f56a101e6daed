package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerInvitationRoutes(api *gin.RouterGroup, h *handlers.InvitationHandler) {
	invitations := api.Group("/invitations")
	{
		invitations.POST("", h.Send)
		invitations.POST("/:id/resend", h.Resend)
		invitations.DELETE("/:id", h.Revoke)
		invitations.PATCH("/:id/permissions", h.UpdatePermissions)
	}

	api.GET("/projects/:projectID/invitations", h.List)
	api.GET("/projects/:projectID/invitations/stats", h.Stats)
}
