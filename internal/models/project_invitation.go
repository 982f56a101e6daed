package models

import (
	"time"

	"gorm.io/datatypes"
)

// InvitationStatus tracks the lifecycle of a project invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationExpired  InvitationStatus = "EXPIRED"
	InvitationRevoked  InvitationStatus = "REVOKED"
)

// ProjectInvitation represents an invitation for an external stakeholder to
// join a project in a given role. Only the SHA-256 digest of the token is
// stored; the raw token lives solely in the emailed link.
type ProjectInvitation struct {
	BaseModel

	ProjectID string          `gorm:"type:uuid;not null;index" json:"project_id"`
	Email     string          `gorm:"not null;index" json:"email"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Role      ParticipantRole `gorm:"not null" json:"role"`
	Message   string          `json:"message,omitempty"`

	// CompanyID links supplier and broker invitations to their firm.
	CompanyID *string `gorm:"type:uuid;index" json:"company_id,omitempty"`

	TokenHash string           `gorm:"uniqueIndex;not null" json:"-"`
	Status    InvitationStatus `gorm:"not null;default:PENDING;index" json:"status"`
	ExpiresAt time.Time        `gorm:"index" json:"expires_at"`

	InvitedBy  string     `gorm:"type:uuid;not null" json:"invited_by"`
	AcceptedBy *string    `gorm:"type:uuid" json:"accepted_by,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`

	// Permissions overrides the role defaults when set; applied at acceptance.
	Permissions datatypes.JSON `json:"permissions,omitempty"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Inviter *User    `gorm:"foreignKey:InvitedBy" json:"inviter,omitempty"`
}

// ProjectParticipant links an accepted stakeholder to a project. The
// (project, user) pair is unique so re-acceptance cannot duplicate membership.
type ProjectParticipant struct {
	BaseModel

	ProjectID    string          `gorm:"type:uuid;not null;uniqueIndex:idx_participant_project_user" json:"project_id"`
	UserID       string          `gorm:"type:uuid;not null;uniqueIndex:idx_participant_project_user" json:"user_id"`
	Role         ParticipantRole `gorm:"not null" json:"role"`
	InvitationID *string         `gorm:"type:uuid" json:"invitation_id,omitempty"`
	JoinedAt     time.Time       `json:"joined_at"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
