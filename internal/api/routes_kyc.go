package api

import (
	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/handlers"
)

func registerKYCRoutes(api *gin.RouterGroup, h *handlers.KYCHandler, requireAdmin gin.HandlerFunc) {
	kyc := api.Group("/kyc")
	{
		kyc.POST("", h.Start)
		kyc.GET("/status", h.Status)
		kyc.POST("/:id/documents", h.UploadDocument)
		kyc.DELETE("/:id/documents/:docID", h.DeleteDocument)
		kyc.POST("/:id/submit", h.Submit)

		kyc.GET("", requireAdmin, h.List)
		kyc.POST("/:id/review", requireAdmin, h.MarkInReview)
		kyc.POST("/:id/approve", requireAdmin, h.Approve)
		kyc.POST("/:id/reject", requireAdmin, h.Reject)
		kyc.POST("/:id/request-info", requireAdmin, h.RequestMoreInfo)
		kyc.POST("/:id/documents/:docID/verify", requireAdmin, h.VerifyDocument)
	}
}
