package models

import (
	"time"

	"gorm.io/datatypes"
)

// StakeholderSession is a server-side session record. Only the SHA-256 digest
// of the session token is stored; revocation is permanent.
type StakeholderSession struct {
	BaseModel

	UserID           string `gorm:"type:uuid;not null;index" json:"user_id"`
	SessionTokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	DeviceInfo datatypes.JSON `json:"device_info,omitempty"`

	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time  `json:"last_used_at"`

	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`

	// StepUpVerifiedAt records the last TRANSACTION-grade code verification on
	// this session; sensitive actions inside the window skip re-challenge.
	StepUpVerifiedAt *time.Time `json:"step_up_verified_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Active reports whether the session is usable at the given instant.
func (s *StakeholderSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
