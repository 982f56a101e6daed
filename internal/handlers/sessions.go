package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/lcourbet/promogate/internal/auth"
	"github.com/lcourbet/promogate/internal/services"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type SessionHandler struct {
	sessions *services.SessionService
	jwt      *iauth.JWTService
}

func NewSessionHandler(sessions *services.SessionService, jwt *iauth.JWTService) *SessionHandler {
	return &SessionHandler{sessions: sessions, jwt: jwt}
}

type createSessionRequest struct {
	DeviceInfo map[string]string `json:"device_info"`
}

type revokeSessionRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// POST /api/sessions
//
// Opens a tracked session for the authenticated user and returns a fresh
// access token bound to it. Step-up verification is recorded per session, so
// callers needing sensitive operations must use a session-bound token.
func (h *SessionHandler) Create(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &req) {
			return
		}
	}

	session, rawToken, err := h.sessions.Create(requestContext(c), services.CreateSessionInput{
		UserID:     userID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:    userID,
		SessionID: session.ID,
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session":       session,
		"session_token": rawToken,
		"access_token":  accessToken,
	})
}

// GET /api/sessions
func (h *SessionHandler) ListActive(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListActive(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	current := currentSessionID(c)
	items := make([]gin.H, 0, len(sessions))
	for i := range sessions {
		items = append(items, gin.H{
			"session": sessions[i],
			"current": sessions[i].ID == current,
		})
	}

	response.Success(c, http.StatusOK, gin.H{"sessions": items})
}

// POST /api/sessions/:id/revoke
func (h *SessionHandler) Revoke(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, appErrors.NewBadRequest("session id is required"))
		return
	}

	session, err := h.sessions.ByID(requestContext(c), sessionID)
	if err != nil {
		response.Error(c, mapSessionError(err))
		return
	}
	if session.UserID != userID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	var req revokeSessionRequest
	if c.Request.ContentLength > 0 {
		if !bindAndValidate(c, &req) {
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "revoked by user"
	}

	if err := h.sessions.Revoke(requestContext(c), sessionID, reason); err != nil {
		response.Error(c, mapSessionError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/sessions/revoke-others
func (h *SessionHandler) RevokeOthers(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.sessions.RevokeAllExcept(requestContext(c), userID, currentSessionID(c), "revoked by user")
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": count})
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrSessionExpired), errors.Is(err, services.ErrSessionRevoked):
		return appErrors.NewBadRequest("the session is no longer active")
	default:
		return err
	}
}
