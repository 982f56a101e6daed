package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type OnboardingHandler struct {
	onboarding *services.OnboardingService
}

func NewOnboardingHandler(onboarding *services.OnboardingService) *OnboardingHandler {
	return &OnboardingHandler{onboarding: onboarding}
}

type blockOnboardingRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// GET /api/projects/:projectID/onboarding
func (h *OnboardingHandler) Status(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	projectID := strings.TrimSpace(c.Param("projectID"))
	if projectID == "" {
		response.Error(c, appErrors.NewBadRequest("project id is required"))
		return
	}

	row, err := h.onboarding.Status(requestContext(c), userID, projectID)
	if err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"onboarding":          row,
		"remaining_steps":     row.RemainingSteps(),
		"progress_percentage": row.ProgressPercent(),
	})
}

// POST /api/projects/:projectID/onboarding/start
func (h *OnboardingHandler) Start(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	projectID := strings.TrimSpace(c.Param("projectID"))
	if projectID == "" {
		response.Error(c, appErrors.NewBadRequest("project id is required"))
		return
	}

	row, err := h.onboarding.Start(requestContext(c), userID, projectID)
	if err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"onboarding": row})
}

// POST /api/projects/:projectID/onboarding/steps/:step/complete
func (h *OnboardingHandler) CompleteStep(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	projectID := strings.TrimSpace(c.Param("projectID"))
	step := strings.TrimSpace(c.Param("step"))
	if projectID == "" || step == "" {
		response.Error(c, appErrors.NewBadRequest("project id and step are required"))
		return
	}

	row, err := h.onboarding.CompleteStep(requestContext(c), userID, projectID, step)
	if err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"onboarding":          row,
		"remaining_steps":     row.RemainingSteps(),
		"progress_percentage": row.ProgressPercent(),
	})
}

// POST /api/projects/:projectID/onboarding/steps/:step/go
func (h *OnboardingHandler) GoToStep(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	projectID := strings.TrimSpace(c.Param("projectID"))
	step := strings.TrimSpace(c.Param("step"))
	if projectID == "" || step == "" {
		response.Error(c, appErrors.NewBadRequest("project id and step are required"))
		return
	}

	row, err := h.onboarding.GoToStep(requestContext(c), userID, projectID, step)
	if err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"onboarding": row})
}

// POST /api/projects/:projectID/onboarding/:userID/block (admin)
func (h *OnboardingHandler) Block(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("projectID"))
	targetID := strings.TrimSpace(c.Param("userID"))
	if projectID == "" || targetID == "" {
		response.Error(c, appErrors.NewBadRequest("project id and user id are required"))
		return
	}

	var req blockOnboardingRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.onboarding.Block(requestContext(c), targetID, projectID, req.Reason, currentUserID(c)); err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"blocked": true})
}

// POST /api/projects/:projectID/onboarding/:userID/unblock (admin)
func (h *OnboardingHandler) Unblock(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("projectID"))
	targetID := strings.TrimSpace(c.Param("userID"))
	if projectID == "" || targetID == "" {
		response.Error(c, appErrors.NewBadRequest("project id and user id are required"))
		return
	}

	if err := h.onboarding.Unblock(requestContext(c), targetID, projectID, currentUserID(c)); err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"blocked": false})
}

// POST /api/projects/:projectID/onboarding/:userID/remind (admin)
func (h *OnboardingHandler) SendReminder(c *gin.Context) {
	projectID := strings.TrimSpace(c.Param("projectID"))
	targetID := strings.TrimSpace(c.Param("userID"))
	if projectID == "" || targetID == "" {
		response.Error(c, appErrors.NewBadRequest("project id and user id are required"))
		return
	}

	if err := h.onboarding.SendReminder(requestContext(c), targetID, projectID, currentUserID(c)); err != nil {
		response.Error(c, mapOnboardingError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

// GET /api/organizations/:orgID/onboarding (admin)
func (h *OnboardingHandler) ListByOrganization(c *gin.Context) {
	orgID := strings.TrimSpace(c.Param("orgID"))
	if orgID == "" {
		response.Error(c, appErrors.NewBadRequest("organization id is required"))
		return
	}

	status := models.OnboardingStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	rows, err := h.onboarding.ListByOrganization(requestContext(c), orgID, status)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"onboarding": rows})
}

// GET /api/organizations/:orgID/onboarding/stats (admin)
func (h *OnboardingHandler) StatsByOrganization(c *gin.Context) {
	orgID := strings.TrimSpace(c.Param("orgID"))
	if orgID == "" {
		response.Error(c, appErrors.NewBadRequest("organization id is required"))
		return
	}

	stats, err := h.onboarding.StatsByOrganization(requestContext(c), orgID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

func mapOnboardingError(err error) error {
	switch {
	case errors.Is(err, services.ErrOnboardingNotFound):
		return appErrors.ErrNotFound
	case errors.Is(err, services.ErrOnboardingBlocked):
		return appErrors.ErrOnboardingBlocked
	case errors.Is(err, services.ErrUnknownStep):
		return appErrors.NewBadRequest("the step is not part of this onboarding plan")
	default:
		return err
	}
}
