package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/logger"
	"github.com/lcourbet/promogate/pkg/mail"
)

var (
	// ErrOnboardingNotFound indicates no onboarding record exists for the pair.
	ErrOnboardingNotFound = errors.New("onboarding: not found")
	// ErrOnboardingBlocked signals the record is administratively blocked.
	ErrOnboardingBlocked = errors.New("onboarding: blocked")
	// ErrUnknownStep signals the step is not part of the stakeholder's plan.
	ErrUnknownStep = errors.New("onboarding: step not in plan")
)

// OnboardingOption customises OnboardingService behaviour.
type OnboardingOption func(*OnboardingService)

// WithOnboardingClock injects a custom clock primarily for testing.
func WithOnboardingClock(clock func() time.Time) OnboardingOption {
	return func(s *OnboardingService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OnboardingService tracks stakeholders through their role's step plan.
// Status is always derived from the plan and the completed set; clients can
// only complete steps, never write a status.
type OnboardingService struct {
	db       *gorm.DB
	activity *ActivityService
	mailer   mail.Mailer
	now      func() time.Time
	log      *zap.Logger
}

// NewOnboardingService constructs an OnboardingService with the provided dependencies.
func NewOnboardingService(db *gorm.DB, activity *ActivityService, mailer mail.Mailer, opts ...OnboardingOption) (*OnboardingService, error) {
	if db == nil {
		return nil, errors.New("onboarding service: db is required")
	}

	service := &OnboardingService{
		db:       db,
		activity: activity,
		mailer:   mailer,
		now:      time.Now,
		log:      logger.WithModule("onboarding"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// ensureOnboardingRow creates the onboarding record for a participant if it
// does not exist yet. Shared with invitation acceptance so both entry points
// provision the same shape.
func ensureOnboardingRow(tx *gorm.DB, userID, projectID string, role models.ParticipantRole) error {
	plan, err := models.OnboardingPlan(role)
	if err != nil {
		return err
	}

	currentStep := ""
	if len(plan.Required) > 0 {
		currentStep = plan.Required[0]
	}

	row := models.StakeholderOnboarding{
		UserID:        userID,
		ProjectID:     projectID,
		Role:          role,
		Status:        models.OnboardingNotStarted,
		CurrentStep:   currentStep,
		RequiredSteps: datatypes.NewJSONSlice(plan.Required),
		OptionalSteps: datatypes.NewJSONSlice(plan.Optional),
	}

	return tx.Where(models.StakeholderOnboarding{UserID: userID, ProjectID: projectID}).
		Attrs(row).
		FirstOrCreate(&models.StakeholderOnboarding{}).Error
}

// EnsureForParticipant provisions the onboarding record outside the
// acceptance transaction, for participants added through other paths.
func (s *OnboardingService) EnsureForParticipant(ctx context.Context, userID, projectID string, role models.ParticipantRole) error {
	ctx = ensureContext(ctx)
	if !role.Valid() {
		return fmt.Errorf("onboarding service: invalid role %q", role)
	}
	return ensureOnboardingRow(s.db.WithContext(ctx), userID, projectID, role)
}

// Start marks the onboarding as begun and settles the derived status.
func (s *OnboardingService) Start(ctx context.Context, userID, projectID string) (*models.StakeholderOnboarding, error) {
	ctx = ensureContext(ctx)

	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if row.Status == models.OnboardingBlocked {
		return nil, ErrOnboardingBlocked
	}

	now := s.now()
	updates := map[string]any{
		"status":           s.deriveStatus(row, true),
		"last_activity_at": now,
	}
	if row.StartedAt == nil {
		updates["started_at"] = now
	}

	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("onboarding service: start: %w", err)
	}

	return s.byPair(ctx, userID, projectID)
}

// CompleteStep adds a step to the completed set and recomputes the derived
// status. Completing an already-completed step is a no-op, not an error.
func (s *OnboardingService) CompleteStep(ctx context.Context, userID, projectID, step string) (*models.StakeholderOnboarding, error) {
	ctx = ensureContext(ctx)

	step = strings.TrimSpace(step)
	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if row.Status == models.OnboardingBlocked {
		return nil, ErrOnboardingBlocked
	}
	if !containsString(row.RequiredSteps, step) && !containsString(row.OptionalSteps, step) {
		return nil, ErrUnknownStep
	}

	now := s.now()
	if !row.HasCompleted(step) {
		row.CompletedSteps = append(row.CompletedSteps, step)
	}

	status := s.deriveStatus(row, true)
	remaining := row.RemainingSteps()

	updates := map[string]any{
		"completed_steps":  datatypes.NewJSONSlice([]string(row.CompletedSteps)),
		"status":           status,
		"last_activity_at": now,
	}
	if row.StartedAt == nil {
		updates["started_at"] = now
	}
	if len(remaining) > 0 {
		updates["current_step"] = remaining[0]
	} else {
		updates["current_step"] = ""
		if row.CompletedAt == nil {
			updates["completed_at"] = now
		}
	}

	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("onboarding service: complete step: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &userID,
		ProjectID:    &projectID,
		ActionType:   "onboarding.step_completed",
		ResourceType: "onboarding",
		ResourceID:   row.ID,
		Details:      map[string]any{"step": step, "status": string(status)},
	})

	return s.byPair(ctx, userID, projectID)
}

// GoToStep moves the cursor without completing anything.
func (s *OnboardingService) GoToStep(ctx context.Context, userID, projectID, step string) (*models.StakeholderOnboarding, error) {
	ctx = ensureContext(ctx)

	step = strings.TrimSpace(step)
	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if row.Status == models.OnboardingBlocked {
		return nil, ErrOnboardingBlocked
	}
	if !containsString(row.RequiredSteps, step) && !containsString(row.OptionalSteps, step) {
		return nil, ErrUnknownStep
	}

	updates := map[string]any{
		"current_step":     step,
		"last_activity_at": s.now(),
	}
	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("onboarding service: go to step: %w", err)
	}

	return s.byPair(ctx, userID, projectID)
}

// Block suspends a stakeholder. BLOCKED overrides every derived status until
// an administrator lifts it.
func (s *OnboardingService) Block(ctx context.Context, userID, projectID, reason, actorID string) error {
	ctx = ensureContext(ctx)

	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":         models.OnboardingBlocked,
		"blocked_reason": strings.TrimSpace(reason),
	}
	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return fmt.Errorf("onboarding service: block: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &actorID,
		ProjectID:    &projectID,
		ActionType:   "onboarding.blocked",
		ResourceType: "onboarding",
		ResourceID:   row.ID,
		Details:      map[string]any{"subject_user_id": userID, "reason": reason},
	})

	return nil
}

// Unblock lifts a suspension and restores the derived status.
func (s *OnboardingService) Unblock(ctx context.Context, userID, projectID, actorID string) error {
	ctx = ensureContext(ctx)

	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if row.Status != models.OnboardingBlocked {
		return nil
	}

	started := row.StartedAt != nil || len(row.CompletedSteps) > 0
	updates := map[string]any{
		"status":         s.deriveStatus(row, started),
		"blocked_reason": "",
	}
	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		return fmt.Errorf("onboarding service: unblock: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &actorID,
		ProjectID:    &projectID,
		ActionType:   "onboarding.unblocked",
		ResourceType: "onboarding",
		ResourceID:   row.ID,
		Details:      map[string]any{"subject_user_id": userID},
	})

	return nil
}

// Status returns the onboarding record for a stakeholder on a project.
func (s *OnboardingService) Status(ctx context.Context, userID, projectID string) (*models.StakeholderOnboarding, error) {
	return s.byPair(ensureContext(ctx), userID, projectID)
}

// OnboardingStats summarises onboarding progress across an organization.
type OnboardingStats struct {
	Total      int64 `json:"total"`
	NotStarted int64 `json:"not_started"`
	InProgress int64 `json:"in_progress"`
	PendingKYC int64 `json:"pending_kyc"`
	Pending2FA int64 `json:"pending_2fa"`
	Completed  int64 `json:"completed"`
	Blocked    int64 `json:"blocked"`
}

// ListByOrganization returns onboarding records across an organization's projects.
func (s *OnboardingService) ListByOrganization(ctx context.Context, organizationID string, status models.OnboardingStatus) ([]models.StakeholderOnboarding, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).
		Joins("JOIN projects ON projects.id = stakeholder_onboardings.project_id").
		Where("projects.organization_id = ?", organizationID).
		Preload("User").
		Preload("Project").
		Order("stakeholder_onboardings.created_at DESC")
	if status != "" {
		query = query.Where("stakeholder_onboardings.status = ?", status)
	}

	var rows []models.StakeholderOnboarding
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("onboarding service: list by organization: %w", err)
	}
	return rows, nil
}

// StatsByOrganization counts onboarding records by status across an organization.
func (s *OnboardingService) StatsByOrganization(ctx context.Context, organizationID string) (*OnboardingStats, error) {
	ctx = ensureContext(ctx)

	var rows []struct {
		Status models.OnboardingStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.StakeholderOnboarding{}).
		Select("stakeholder_onboardings.status, COUNT(*) as count").
		Joins("JOIN projects ON projects.id = stakeholder_onboardings.project_id").
		Where("projects.organization_id = ?", organizationID).
		Group("stakeholder_onboardings.status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("onboarding service: stats: %w", err)
	}

	stats := &OnboardingStats{}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case models.OnboardingNotStarted:
			stats.NotStarted = row.Count
		case models.OnboardingInProgress:
			stats.InProgress = row.Count
		case models.OnboardingPendingKYC:
			stats.PendingKYC = row.Count
		case models.OnboardingPending2FA:
			stats.Pending2FA = row.Count
		case models.OnboardingCompleted:
			stats.Completed = row.Count
		case models.OnboardingBlocked:
			stats.Blocked = row.Count
		}
	}
	return stats, nil
}

// SendReminder emails the stakeholder their remaining steps. Delivery is
// best-effort; the reminder is recorded either way.
func (s *OnboardingService) SendReminder(ctx context.Context, userID, projectID, actorID string) error {
	ctx = ensureContext(ctx)

	row, err := s.byPair(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if row.Status == models.OnboardingCompleted {
		return nil
	}

	if s.mailer != nil {
		var user models.User
		if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err == nil {
			msg := mail.OnboardingReminderEmail(user.Email, row.RemainingSteps())
			if mailErr := s.mailer.Send(ctx, msg); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
				s.log.Warn("reminder email delivery failed",
					zap.String("user_id", userID),
					zap.Error(mailErr))
			}
		}
	}

	return s.activity.Record(ctx, ActivityEntry{
		UserID:       &actorID,
		ProjectID:    &projectID,
		ActionType:   "onboarding.reminder_sent",
		ResourceType: "onboarding",
		ResourceID:   row.ID,
		Details:      map[string]any{"subject_user_id": userID},
	})
}

// deriveStatus computes the server-owned status from the plan and the
// completed set. started distinguishes NOT_STARTED from IN_PROGRESS when no
// steps are completed yet.
func (s *OnboardingService) deriveStatus(row *models.StakeholderOnboarding, started bool) models.OnboardingStatus {
	remaining := row.RemainingSteps()
	if len(remaining) == 0 {
		return models.OnboardingCompleted
	}

	if !started && len(row.CompletedSteps) == 0 && row.StartedAt == nil {
		return models.OnboardingNotStarted
	}

	next := remaining[0]
	switch {
	case strings.HasPrefix(next, "kyc"):
		return models.OnboardingPendingKYC
	case next == models.StepTwoFactor:
		return models.OnboardingPending2FA
	}
	return models.OnboardingInProgress
}

func (s *OnboardingService) byPair(ctx context.Context, userID, projectID string) (*models.StakeholderOnboarding, error) {
	var row models.StakeholderOnboarding
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", strings.TrimSpace(userID), strings.TrimSpace(projectID)).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOnboardingNotFound
		}
		return nil, fmt.Errorf("onboarding service: find record: %w", err)
	}
	return &row, nil
}
