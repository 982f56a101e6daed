package models

import (
	"fmt"
	"time"
)

// KYCType identifies the kind of verification performed.
type KYCType string

const (
	KYCIdentity     KYCType = "IDENTITY"
	KYCCompany      KYCType = "COMPANY"
	KYCProfessional KYCType = "PROFESSIONAL"
	KYCAddress      KYCType = "ADDRESS"
)

// Valid reports whether the verification type is known.
func (t KYCType) Valid() bool {
	switch t {
	case KYCIdentity, KYCCompany, KYCProfessional, KYCAddress:
		return true
	}
	return false
}

// KYCStatus tracks a verification through review.
type KYCStatus string

const (
	KYCPending   KYCStatus = "PENDING"
	KYCSubmitted KYCStatus = "SUBMITTED"
	KYCInReview  KYCStatus = "IN_REVIEW"
	KYCApproved  KYCStatus = "APPROVED"
	KYCRejected  KYCStatus = "REJECTED"
	KYCExpired   KYCStatus = "EXPIRED"
)

// Open reports whether the status counts as an in-flight verification,
// one that has neither been decided nor lapsed.
func (s KYCStatus) Open() bool {
	switch s {
	case KYCPending, KYCSubmitted, KYCInReview:
		return true
	}
	return false
}

// KYC document kinds.
const (
	DocIDCard              = "ID_CARD"
	DocPassport            = "PASSPORT"
	DocUtilityBill         = "UTILITY_BILL"
	DocBankStatement       = "BANK_STATEMENT"
	DocCompanyRegistration = "COMPANY_REGISTRATION"
	DocVATCertificate      = "VAT_CERTIFICATE"
	DocInsuranceCert       = "INSURANCE_CERTIFICATE"
	DocBeneficialOwners    = "BENEFICIAL_OWNERS"
	DocProfessionalLicense = "PROFESSIONAL_LICENSE"
)

// RequiredDocuments returns the document kinds a verification of the given
// type must include before it can be submitted for review.
func RequiredDocuments(t KYCType) ([]string, error) {
	switch t {
	case KYCIdentity:
		return []string{DocIDCard, DocUtilityBill}, nil
	case KYCCompany:
		return []string{DocCompanyRegistration, DocVATCertificate, DocInsuranceCert, DocBeneficialOwners}, nil
	case KYCProfessional:
		return []string{DocIDCard, DocProfessionalLicense, DocInsuranceCert}, nil
	case KYCAddress:
		return []string{DocUtilityBill, DocBankStatement}, nil
	}
	return nil, fmt.Errorf("models: no document requirements for verification type %q", t)
}

// KYCVerification is one verification case for a user. A user may hold one
// case per type at a time; the most recent row is authoritative.
type KYCVerification struct {
	BaseModel

	UserID           string    `gorm:"type:uuid;not null;index" json:"user_id"`
	VerificationType KYCType   `gorm:"not null;index" json:"verification_type"`
	Status           KYCStatus `gorm:"not null;default:PENDING;index" json:"status"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`

	ReviewedBy      *string `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	ReviewNotes     string  `json:"review_notes,omitempty"`

	Documents []KYCDocument `gorm:"foreignKey:VerificationID" json:"documents,omitempty"`
	User      *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// KYCDocument is a single uploaded document attached to a verification case.
type KYCDocument struct {
	BaseModel

	VerificationID string `gorm:"type:uuid;not null;index" json:"verification_id"`
	DocumentType   string `gorm:"not null" json:"document_type"`
	FileName       string `gorm:"not null" json:"file_name"`
	FilePath       string `gorm:"not null" json:"-"`
	FileSize       int64  `json:"file_size"`
	ContentType    string `json:"content_type"`

	DocumentNumber string     `json:"document_number,omitempty"`
	IssuingCountry string     `json:"issuing_country,omitempty"`
	IssueDate      *time.Time `json:"issue_date,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`

	Verified   bool       `gorm:"not null;default:false" json:"verified"`
	VerifiedBy *string    `gorm:"type:uuid" json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}
