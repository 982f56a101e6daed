package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/metrics"
)

// sensitiveActions require a fresh step-up verification on top of the
// capability flag.
var sensitiveActions = map[string]bool{
	"reserve_lots":       true,
	"validate_documents": true,
	"export_data":        true,
}

// Decision is the single verdict shape every caller consumes. When
// RequiresStepUp is set the capability exists but the session must complete a
// step-up challenge before the action proceeds.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	RequiresStepUp bool   `json:"requires_step_up,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// DecideInput identifies the actor, project, action and calling session.
type DecideInput struct {
	UserID    string
	ProjectID string
	SessionID string
	Action    string
}

// AccessService is the single chokepoint for stakeholder authorisation.
// Handlers and middleware call Decide and nothing else.
type AccessService struct {
	db       *gorm.DB
	sessions *SessionService
	stepUp   *StepUpService
}

// NewAccessService constructs an AccessService with the provided dependencies.
func NewAccessService(db *gorm.DB, sessions *SessionService, stepUp *StepUpService) (*AccessService, error) {
	if db == nil {
		return nil, errors.New("access service: db is required")
	}
	return &AccessService{db: db, sessions: sessions, stepUp: stepUp}, nil
}

// Decide evaluates whether a stakeholder may perform an action on a project.
// Order matters: a block always wins, incomplete onboarding denies platform
// access, then the capability flag and step-up freshness settle the rest.
func (s *AccessService) Decide(ctx context.Context, input DecideInput) (*Decision, error) {
	ctx = ensureContext(ctx)

	decision, err := s.decide(ctx, input)
	if err != nil {
		metrics.AccessDecisions.WithLabelValues(input.Action, "error").Inc()
		return nil, err
	}

	result := "deny"
	switch {
	case decision.RequiresStepUp:
		result = "step_up"
	case decision.Allowed:
		result = "allow"
	}
	metrics.AccessDecisions.WithLabelValues(input.Action, result).Inc()

	return decision, nil
}

func (s *AccessService) decide(ctx context.Context, input DecideInput) (*Decision, error) {
	var onboarding models.StakeholderOnboarding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", input.UserID, input.ProjectID).
		First(&onboarding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Decision{Reason: "not_a_participant"}, nil
		}
		return nil, fmt.Errorf("access service: find onboarding: %w", err)
	}

	if onboarding.Status == models.OnboardingBlocked {
		return &Decision{Reason: "blocked"}, nil
	}
	if onboarding.Status != models.OnboardingCompleted {
		return &Decision{Reason: "onboarding_incomplete"}, nil
	}

	// Empty action means plain platform access, granted once onboarded.
	if input.Action == "" {
		return &Decision{Allowed: true}, nil
	}

	var permissions models.StakeholderPermissions
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", input.UserID, input.ProjectID).
		First(&permissions).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Decision{Reason: "no_permissions"}, nil
		}
		return nil, fmt.Errorf("access service: find permissions: %w", err)
	}

	if !permissions.Allows(input.Action) {
		return &Decision{Reason: "permission_denied"}, nil
	}

	if sensitiveActions[input.Action] && s.sessions != nil && s.stepUp != nil {
		// Users without 2FA run sensitive actions directly.
		var user models.User
		if err := s.db.WithContext(ctx).First(&user, "id = ?", input.UserID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("access service: find user: %w", err)
			}
		}
		if user.TwoFactorEnabled {
			session, err := s.sessions.ByID(ctx, input.SessionID)
			if err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					return &Decision{RequiresStepUp: true, Reason: "step_up_required"}, nil
				}
				return nil, err
			}
			if !s.sessions.StepUpFresh(session, s.stepUp.Window()) {
				return &Decision{RequiresStepUp: true, Reason: "step_up_required"}, nil
			}
		}
	}

	return &Decision{Allowed: true}, nil
}
