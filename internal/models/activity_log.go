package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityLog is an append-only record of stakeholder-facing events:
// invitations, verification decisions, onboarding transitions, access denials.
type ActivityLog struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         *string        `gorm:"type:uuid;index" json:"user_id"`
	OrganizationID *string        `gorm:"type:uuid;index" json:"organization_id"`
	ProjectID      *string        `gorm:"type:uuid;index" json:"project_id"`
	ActionType     string         `gorm:"not null;index" json:"action_type"`
	ResourceType   string         `gorm:"index" json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	Details        datatypes.JSON `json:"details,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
