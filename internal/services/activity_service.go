package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
)

// ActivityEntry captures a single stakeholder-facing event to persist.
type ActivityEntry struct {
	UserID         *string
	OrganizationID *string
	ProjectID      *string
	ActionType     string
	ResourceType   string
	ResourceID     string
	Details        map[string]any
}

// ActivityFilters encapsulates optional filters when querying activity records.
type ActivityFilters struct {
	UserID     string
	ProjectID  string
	ActionType string
	Since      *time.Time
	Until      *time.Time
}

// ActivityListOptions controls pagination and filtering for activity queries.
type ActivityListOptions struct {
	Page     int
	PageSize int
	Filters  ActivityFilters
}

// ActivityService persists and retrieves the append-only activity trail.
type ActivityService struct {
	db *gorm.DB
}

// NewActivityService constructs an ActivityService using the provided database handle.
func NewActivityService(db *gorm.DB) (*ActivityService, error) {
	if db == nil {
		return nil, errors.New("activity service: db is required")
	}
	return &ActivityService{db: db}, nil
}

// Record stores an activity entry, marshalling details into JSON form.
func (s *ActivityService) Record(ctx context.Context, entry ActivityEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.ActionType) == "" {
		return errors.New("activity service: action type is required")
	}

	record := models.ActivityLog{
		ActionType:   strings.TrimSpace(entry.ActionType),
		ResourceType: strings.TrimSpace(entry.ResourceType),
		ResourceID:   strings.TrimSpace(entry.ResourceID),
	}

	if entry.Details != nil {
		encoded, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("activity service: marshal details: %w", err)
		}
		record.Details = encoded
	}

	record.UserID = trimmedID(entry.UserID)
	record.OrganizationID = trimmedID(entry.OrganizationID)
	record.ProjectID = trimmedID(entry.ProjectID)

	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns paginated activity records ordered by creation time descending.
func (s *ActivityService) List(ctx context.Context, opts ActivityListOptions) ([]models.ActivityLog, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	var (
		results []models.ActivityLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	query = applyActivityFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("activity service: count records: %w", err)
	}

	if err := query.
		Preload("User").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("activity service: list records: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes activity records older than the retention window.
func (s *ActivityService) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	if retention <= 0 {
		return 0, errors.New("activity service: retention must be positive")
	}

	cutoff := time.Now().Add(-retention)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("activity service: cleanup records: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyActivityFilters(query *gorm.DB, filters ActivityFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.ProjectID != "" {
		query = query.Where("project_id = ?", filters.ProjectID)
	}
	if filters.ActionType != "" {
		query = query.Where("action_type = ?", filters.ActionType)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

func trimmedID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
