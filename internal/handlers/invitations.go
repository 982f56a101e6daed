package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type InvitationHandler struct {
	invitations *services.InvitationService
}

func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

type sendInvitationRequest struct {
	ProjectID   string          `json:"project_id" validate:"required,uuid4"`
	Email       string          `json:"email" validate:"required,email"`
	FirstName   string          `json:"first_name" validate:"omitempty,max=128"`
	LastName    string          `json:"last_name" validate:"omitempty,max=128"`
	Role        string          `json:"role" validate:"required"`
	Message     string          `json:"message" validate:"omitempty,max=2000"`
	CompanyID   string          `json:"company_id" validate:"omitempty,uuid4"`
	Permissions map[string]bool `json:"permissions"`
}

type updatePermissionsRequest struct {
	Permissions map[string]bool `json:"permissions" validate:"required"`
}

type invitationInfoResponse struct {
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Role        string    `json:"role"`
	ProjectID   string    `json:"project_id"`
	ProjectName string    `json:"project_name,omitempty"`
	InviterName string    `json:"inviter_name,omitempty"`
	Message     string    `json:"message,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type invitationCreatedResponse struct {
	Invitation *models.ProjectInvitation `json:"invitation"`
	Link       string                    `json:"link"`
}

// POST /api/invitations
func (h *InvitationHandler) Send(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req sendInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role := models.ParticipantRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		response.Error(c, appErrors.NewBadRequest("unknown participant role"))
		return
	}

	invitation, link, err := h.invitations.Send(requestContext(c), services.SendInvitationInput{
		ProjectID:   req.ProjectID,
		Email:       req.Email,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Role:        role,
		Message:     req.Message,
		CompanyID:   req.CompanyID,
		InvitedBy:   userID,
		Permissions: req.Permissions,
	})
	if err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusCreated, invitationCreatedResponse{
		Invitation: invitation,
		Link:       link,
	})
}

// GET /api/projects/:projectID/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("projectID"))
	if projectID == "" {
		response.Error(c, appErrors.NewBadRequest("project id is required"))
		return
	}

	filters := services.ListFilters{
		Status: models.InvitationStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Email:  strings.TrimSpace(c.Query("email")),
	}

	invitations, err := h.invitations.List(requestContext(c), projectID, filters)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invitations": invitations})
}

// GET /api/projects/:projectID/invitations/stats
func (h *InvitationHandler) Stats(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("projectID"))
	if projectID == "" {
		response.Error(c, appErrors.NewBadRequest("project id is required"))
		return
	}

	stats, err := h.invitations.Stats(requestContext(c), projectID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// POST /api/invitations/:id/resend
func (h *InvitationHandler) Resend(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	invitation, link, err := h.invitations.Resend(requestContext(c), id, currentUserID(c))
	if err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusOK, invitationCreatedResponse{
		Invitation: invitation,
		Link:       link,
	})
}

// DELETE /api/invitations/:id
func (h *InvitationHandler) Revoke(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	if err := h.invitations.Revoke(requestContext(c), id, currentUserID(c)); err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// PATCH /api/invitations/:id/permissions
func (h *InvitationHandler) UpdatePermissions(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.NewBadRequest("invitation id is required"))
		return
	}

	var req updatePermissionsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.invitations.UpdatePermissions(requestContext(c), id, req.Permissions); err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// GET /api/invitations/:id
//
// The path segment carries the raw invitation token from the emailed link.
func (h *InvitationHandler) Info(c *gin.Context) {
	token := strings.TrimSpace(c.Param("id"))
	if token == "" {
		response.Error(c, appErrors.ErrInvitationInvalid)
		return
	}

	invitation, err := h.invitations.InfoByToken(requestContext(c), token)
	if err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	info := invitationInfoResponse{
		Email:     invitation.Email,
		FirstName: invitation.FirstName,
		LastName:  invitation.LastName,
		Role:      string(invitation.Role),
		ProjectID: invitation.ProjectID,
		Message:   invitation.Message,
		ExpiresAt: invitation.ExpiresAt,
	}
	if invitation.Project != nil {
		info.ProjectName = invitation.Project.Name
	}
	if invitation.Inviter != nil {
		info.InviterName = invitation.Inviter.FullName()
	}

	response.Success(c, http.StatusOK, info)
}

// POST /api/invitations/:id/accept
//
// The path segment carries the raw invitation token; the caller must be
// authenticated so acceptance can be bound to their account.
func (h *InvitationHandler) Accept(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	token := strings.TrimSpace(c.Param("id"))
	if token == "" {
		response.Error(c, appErrors.ErrInvitationInvalid)
		return
	}

	invitation, err := h.invitations.Accept(requestContext(c), token, userID)
	if err != nil {
		response.Error(c, mapInvitationError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"invitation": invitation,
		"project_id": invitation.ProjectID,
		"role":       invitation.Role,
	})
}

func mapInvitationError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvitationNotFound):
		return appErrors.ErrInvitationInvalid
	case errors.Is(err, services.ErrInvitationExpired):
		return appErrors.ErrInvitationExpired
	case errors.Is(err, services.ErrInvitationConsumed):
		return appErrors.ErrInvitationConsumed
	case errors.Is(err, services.ErrInvitationDuplicate):
		return appErrors.NewBadRequest("a pending invitation already exists for this email")
	default:
		return err
	}
}
