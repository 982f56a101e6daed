package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/pkg/response"
)

type ActivityHandler struct {
	activity *services.ActivityService
}

func NewActivityHandler(activity *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// GET /api/activity (admin)
func (h *ActivityHandler) List(c *gin.Context) {
	opts := services.ActivityListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "page_size", 50),
		Filters: services.ActivityFilters{
			UserID:     strings.TrimSpace(c.Query("user_id")),
			ProjectID:  strings.TrimSpace(c.Query("project_id")),
			ActionType: strings.TrimSpace(c.Query("action")),
			Since:      parseTimeQuery(c, "since"),
			Until:      parseTimeQuery(c, "until"),
		},
	}

	entries, total, err := h.activity.List(requestContext(c), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	totalPages := 0
	if opts.PageSize > 0 {
		totalPages = int((total + int64(opts.PageSize) - 1) / int64(opts.PageSize))
	}
	response.SuccessWithMeta(c, http.StatusOK, gin.H{"activity": entries}, &response.Meta{
		Page:       opts.Page,
		PerPage:    opts.PageSize,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

func parseTimeQuery(c *gin.Context, key string) *time.Time {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}
