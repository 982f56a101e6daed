package models

import "time"

// PhoneVerification holds a user's registered phone number and the rolling
// daily accounting used to cap SMS code sends. Counters roll over lazily the
// first time a send is attempted on a new day.
type PhoneVerification struct {
	BaseModel

	UserID      string `gorm:"type:uuid;not null;uniqueIndex:idx_phone_user_number" json:"user_id"`
	PhoneNumber string `gorm:"not null;uniqueIndex:idx_phone_user_number" json:"phone_number"`
	CountryCode string `gorm:"not null;default:CH" json:"country_code"`

	IsVerified bool       `gorm:"not null;default:false" json:"is_verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	CodesSentToday       int        `gorm:"not null;default:0" json:"codes_sent_today"`
	LastResetDate        time.Time  `json:"last_reset_date"`
	LastCodeSentAt       *time.Time `json:"last_code_sent_at,omitempty"`
	VerificationAttempts int        `gorm:"not null;default:0" json:"verification_attempts"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// SMSPurpose scopes a code to the operation it authorises.
type SMSPurpose string

const (
	PurposePhoneVerify SMSPurpose = "PHONE_VERIFY"
	PurposeLogin       SMSPurpose = "LOGIN"
	PurposeTransaction SMSPurpose = "TRANSACTION"
)

// Valid reports whether the purpose is known.
func (p SMSPurpose) Valid() bool {
	switch p {
	case PurposePhoneVerify, PurposeLogin, PurposeTransaction:
		return true
	}
	return false
}

// SMSCode is a single-use verification code. Codes are stored as bcrypt
// hashes and consumed with a conditional update so concurrent verifications
// cannot both succeed.
type SMSCode struct {
	BaseModel

	UserID              string     `gorm:"type:uuid;not null;index" json:"user_id"`
	PhoneVerificationID string     `gorm:"type:uuid;not null;index" json:"phone_verification_id"`
	CodeHash            string     `gorm:"not null" json:"-"`
	Purpose             SMSPurpose `gorm:"not null" json:"purpose"`

	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	IsUsed    bool       `gorm:"not null;default:false;index" json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`

	Attempts    int `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int `gorm:"not null;default:3" json:"max_attempts"`
}
