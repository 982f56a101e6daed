package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerOnboardingRoutes(api *gin.RouterGroup, h *handlers.OnboardingHandler, requireAdmin gin.HandlerFunc) {
	onboarding := api.Group("/projects/:projectID/onboarding")
	{
		onboarding.GET("", h.Status)
		onboarding.POST("/start", h.Start)
		onboarding.POST("/steps/:step/complete", h.CompleteStep)
		onboarding.POST("/steps/:step/go", h.GoToStep)

		onboarding.POST("/:userID/block", requireAdmin, h.Block)
		onboarding.POST("/:userID/unblock", requireAdmin, h.Unblock)
		onboarding.POST("/:userID/remind", requireAdmin, h.SendReminder)
	}

	api.GET("/organizations/:orgID/onboarding", requireAdmin, h.ListByOrganization)
	api.GET("/organizations/:orgID/onboarding/stats", requireAdmin, h.StatsByOrganization)
}
