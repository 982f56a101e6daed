package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type TwoFactorHandler struct {
	twofactor *services.TwoFactorService
	stepUp    *services.StepUpService
}

func NewTwoFactorHandler(twofactor *services.TwoFactorService, stepUp *services.StepUpService) *TwoFactorHandler {
	return &TwoFactorHandler{twofactor: twofactor, stepUp: stepUp}
}

type registerPhoneRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=8,max=20"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
}

type sendCodeRequest struct {
	Purpose string `json:"purpose" validate:"required"`
}

type verifyCodeRequest struct {
	Code    string `json:"code" validate:"required,min=4,max=10"`
	Purpose string `json:"purpose" validate:"required"`
}

type stepUpRequest struct {
	Action string `json:"action" validate:"required,max=200"`
}

type stepUpCompleteRequest struct {
	Code string `json:"code" validate:"required,min=4,max=10"`
}

// POST /api/2fa/phone
func (h *TwoFactorHandler) RegisterPhone(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req registerPhoneRequest
	if !bindAndValidate(c, &req) {
		return
	}

	phone, err := h.twofactor.RegisterPhone(requestContext(c), userID, req.PhoneNumber, strings.ToUpper(req.CountryCode))
	if err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"phone_number": services.MaskPhoneNumber(phone.PhoneNumber),
		"verified":     phone.IsVerified,
	})
}

// POST /api/2fa/send-code
func (h *TwoFactorHandler) SendCode(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req sendCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.twofactor.SendCode(requestContext(c), userID, models.SMSPurpose(strings.ToUpper(strings.TrimSpace(req.Purpose))))
	if err != nil {
		// Throttle errors still carry the instant a retry becomes possible.
		if result != nil && (errors.Is(err, services.ErrResendCooldown) || errors.Is(err, services.ErrDailyLimitReached)) {
			appErr := mapTwoFactorError(err).(*appErrors.AppError)
			c.JSON(appErr.StatusCode, gin.H{
				"success": false,
				"error": gin.H{
					"code":                 appErr.Code,
					"message":              appErr.Message,
					"next_allowed_send_at": result.NextAllowedSendAt,
					"remaining_today":      result.RemainingToday,
				},
			})
			return
		}
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// POST /api/2fa/verify-code
func (h *TwoFactorHandler) VerifyCode(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req verifyCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	purpose := models.SMSPurpose(strings.ToUpper(strings.TrimSpace(req.Purpose)))
	if err := h.twofactor.VerifyCode(requestContext(c), userID, req.Code, purpose); err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

// POST /api/2fa/enable
func (h *TwoFactorHandler) Enable(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.twofactor.Enable2FA(requestContext(c), userID); err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enabled": true})
}

// POST /api/2fa/disable
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.twofactor.Disable2FA(requestContext(c), userID); err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enabled": false})
}

// GET /api/2fa/status
func (h *TwoFactorHandler) Status(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	status, err := h.twofactor.Status(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// POST /api/2fa/step-up
//
// Opens a challenge for the calling session. Completing it stamps the session
// with a fresh verification, after which the client retries the guarded
// operation. Users inside the freshness window or without 2FA skip straight
// to executed.
func (h *TwoFactorHandler) RequestStepUp(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := currentSessionID(c)
	if sessionID == "" {
		response.Error(c, appErrors.NewBadRequest("a tracked session is required for step-up"))
		return
	}

	var req stepUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	// The session stamp is the outcome; there is no action to park.
	result, err := h.stepUp.Require(requestContext(c), sessionID, userID, req.Action,
		func(context.Context) error { return nil })
	if err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, result)
}

// POST /api/2fa/step-up/:challengeID/complete
func (h *TwoFactorHandler) CompleteStepUp(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	challengeID := strings.TrimSpace(c.Param("challengeID"))
	if challengeID == "" {
		response.Error(c, appErrors.NewBadRequest("challenge id is required"))
		return
	}

	var req stepUpCompleteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.stepUp.Complete(requestContext(c), challengeID, userID, req.Code); err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"executed": true})
}

// POST /api/2fa/step-up/:challengeID/cancel
func (h *TwoFactorHandler) CancelStepUp(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	challengeID := strings.TrimSpace(c.Param("challengeID"))
	if challengeID == "" {
		response.Error(c, appErrors.NewBadRequest("challenge id is required"))
		return
	}

	if err := h.stepUp.Cancel(requestContext(c), challengeID, userID); err != nil {
		response.Error(c, mapTwoFactorError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

func mapTwoFactorError(err error) error {
	switch {
	case errors.Is(err, services.ErrPhoneNotFound):
		return appErrors.NewBadRequest("register a phone number first")
	case errors.Is(err, services.ErrPhoneNotVerified):
		return appErrors.ErrPhoneNotVerified
	case errors.Is(err, services.ErrInvalidPhoneNumber):
		return appErrors.NewBadRequest("the phone number could not be parsed for the given country")
	case errors.Is(err, services.ErrDailyLimitReached):
		return appErrors.ErrSMSRateLimited
	case errors.Is(err, services.ErrResendCooldown):
		return appErrors.ErrSMSCooldown
	case errors.Is(err, services.ErrCodeInvalid):
		return appErrors.ErrCodeInvalid
	case errors.Is(err, services.ErrChallengeNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrSessionExpired):
		return appErrors.ErrUnauthorized
	case errors.Is(err, services.ErrSMSDeliveryFailed):
		return appErrors.ErrDependencyFailure
	default:
		return err
	}
}
