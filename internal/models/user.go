package models

import "time"

// AccountType distinguishes internal staff from invited external stakeholders.
type AccountType string

const (
	AccountInternal AccountType = "INTERNAL"
	AccountExternal AccountType = "EXTERNAL"
)

// User is a platform account. External stakeholders are created through the
// invitation flow and keep a pointer to the project that invited them first.
type User struct {
	BaseModel

	Email            string      `gorm:"uniqueIndex;not null" json:"email"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	AccountType      AccountType `gorm:"not null;default:INTERNAL" json:"account_type"`
	PrimaryProjectID *string     `gorm:"type:uuid" json:"primary_project_id,omitempty"`
	IsAdmin          bool        `gorm:"not null;default:false" json:"is_admin"`
	TwoFactorEnabled bool        `gorm:"not null;default:false" json:"two_factor_enabled"`
	LastLoginAt      *time.Time  `json:"last_login_at,omitempty"`
}

// FullName renders the display name used in emails and activity records.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Email
}
