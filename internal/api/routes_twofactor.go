package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerTwoFactorRoutes(api *gin.RouterGroup, h *handlers.TwoFactorHandler) {
	twofa := api.Group("/2fa")
	{
		twofa.POST("/phone", h.RegisterPhone)
		twofa.POST("/send-code", h.SendCode)
		twofa.POST("/verify-code", h.VerifyCode)
		twofa.POST("/enable", h.Enable)
		twofa.POST("/disable", h.Disable)
		twofa.GET("/status", h.Status)

		twofa.POST("/step-up", h.RequestStepUp)
		twofa.POST("/step-up/:challengeID/complete", h.CompleteStepUp)
		twofa.POST("/step-up/:challengeID/cancel", h.CancelStepUp)
	}
}
