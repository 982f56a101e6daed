package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/services"
	appErrors "github.com/lcourbet/promogate/pkg/errors"
	"github.com/lcourbet/promogate/pkg/response"
)

type AccessHandler struct {
	access *services.AccessService
}

func NewAccessHandler(access *services.AccessService) *AccessHandler {
	return &AccessHandler{access: access}
}

type accessDecideRequest struct {
	ProjectID string `json:"project_id" validate:"required,uuid4"`
	Action    string `json:"action" validate:"omitempty,max=64"`
}

// POST /api/access/decide
//
// Evaluates whether the caller may perform an action on a project. An empty
// action checks bare platform access. The decision is returned rather than
// enforced so clients can adapt their UI before attempting the operation.
func (h *AccessHandler) Decide(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req accessDecideRequest
	if !bindAndValidate(c, &req) {
		return
	}

	decision, err := h.access.Decide(requestContext(c), services.DecideInput{
		UserID:    userID,
		ProjectID: req.ProjectID,
		SessionID: currentSessionID(c),
		Action:    req.Action,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, decision)
}
