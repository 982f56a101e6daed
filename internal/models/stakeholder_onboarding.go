package models

import (
	"time"

	"gorm.io/datatypes"
)

// OnboardingStatus is derived from the step plan and completed steps; it is
// never written directly by clients. BLOCKED is the only administrative
// override and takes precedence over every derived value.
type OnboardingStatus string

const (
	OnboardingNotStarted OnboardingStatus = "NOT_STARTED"
	OnboardingInProgress OnboardingStatus = "IN_PROGRESS"
	OnboardingPendingKYC OnboardingStatus = "PENDING_KYC"
	OnboardingPending2FA OnboardingStatus = "PENDING_2FA"
	OnboardingCompleted  OnboardingStatus = "COMPLETED"
	OnboardingBlocked    OnboardingStatus = "BLOCKED"
)

// StakeholderOnboarding tracks a stakeholder's progress through the step plan
// of their role on a project.
type StakeholderOnboarding struct {
	BaseModel

	UserID    string          `gorm:"type:uuid;not null;uniqueIndex:idx_onboarding_user_project" json:"user_id"`
	ProjectID string          `gorm:"type:uuid;not null;uniqueIndex:idx_onboarding_user_project" json:"project_id"`
	Role      ParticipantRole `gorm:"not null" json:"role"`

	Status         OnboardingStatus `gorm:"not null;default:NOT_STARTED;index" json:"status"`
	CurrentStep    string           `json:"current_step"`
	RequiredSteps  datatypes.JSONSlice[string] `json:"required_steps"`
	OptionalSteps  datatypes.JSONSlice[string] `json:"optional_steps"`
	CompletedSteps datatypes.JSONSlice[string] `json:"completed_steps"`

	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	BlockedReason string `json:"blocked_reason,omitempty"`
	Notes         string `json:"notes,omitempty"`

	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// HasCompleted reports whether a step is already in the completed set.
func (o *StakeholderOnboarding) HasCompleted(step string) bool {
	for _, s := range o.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// ProgressPercent reports required-step completion as a whole percentage.
// Optional steps do not count towards progress.
func (o *StakeholderOnboarding) ProgressPercent() int {
	if len(o.RequiredSteps) == 0 {
		return 100
	}
	done := 0
	for _, step := range o.RequiredSteps {
		if o.HasCompleted(step) {
			done++
		}
	}
	return done * 100 / len(o.RequiredSteps)
}

// RemainingSteps returns the required steps not yet completed, in plan order.
func (o *StakeholderOnboarding) RemainingSteps() []string {
	var remaining []string
	for _, step := range o.RequiredSteps {
		if !o.HasCompleted(step) {
			remaining = append(remaining, step)
		}
	}
	return remaining
}
