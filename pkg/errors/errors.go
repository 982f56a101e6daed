package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application. Every verification
// failure mode carries its own code so clients can tell whether to retry,
// wait, or contact an administrator.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrInvitationInvalid = &AppError{
		Code:       "invitation.invalid",
		Message:    "This invitation link is not valid",
		StatusCode: http.StatusNotFound,
	}

	ErrInvitationExpired = &AppError{
		Code:       "invitation.expired",
		Message:    "This invitation has expired; ask the project team to resend it",
		StatusCode: http.StatusGone,
	}

	ErrInvitationConsumed = &AppError{
		Code:       "invitation.consumed",
		Message:    "This invitation has already been used or revoked",
		StatusCode: http.StatusConflict,
	}

	ErrSMSRateLimited = &AppError{
		Code:       "twofactor.rate_limited",
		Message:    "Daily SMS code limit reached; try again tomorrow",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrSMSCooldown = &AppError{
		Code:       "twofactor.cooldown",
		Message:    "A code was just sent; wait before requesting another",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrCodeInvalid = &AppError{
		Code:       "twofactor.code_invalid",
		Message:    "The verification code is invalid or has expired",
		StatusCode: http.StatusBadRequest,
	}

	ErrPhoneNotVerified = &AppError{
		Code:       "twofactor.phone_not_verified",
		Message:    "Verify your phone number before enabling two-factor authentication",
		StatusCode: http.StatusBadRequest,
	}

	ErrStepUpRequired = &AppError{
		Code:       "twofactor.step_up_required",
		Message:    "A fresh verification code is required for this action",
		StatusCode: http.StatusUnauthorized,
	}

	ErrDocumentsIncomplete = &AppError{
		Code:       "kyc.documents_incomplete",
		Message:    "Upload all required documents before submitting for review",
		StatusCode: http.StatusBadRequest,
	}

	ErrOnboardingBlocked = &AppError{
		Code:       "onboarding.blocked",
		Message:    "Your access has been suspended; contact an administrator",
		StatusCode: http.StatusForbidden,
	}

	ErrOnboardingIncomplete = &AppError{
		Code:       "onboarding.incomplete",
		Message:    "Complete the remaining onboarding steps to access the platform",
		StatusCode: http.StatusForbidden,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrDependencyFailure = &AppError{
		Code:       "DEPENDENCY_FAILURE",
		Message:    "A downstream service failed; please retry",
		StatusCode: http.StatusBadGateway,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
