package models

// Organization groups projects under a single promoter account.
type Organization struct {
	BaseModel

	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`
}

// Project is a real-estate development operated by an organization.
type Project struct {
	BaseModel

	OrganizationID string  `gorm:"type:uuid;not null;index" json:"organization_id"`
	Name           string  `gorm:"not null" json:"name"`
	City           string  `json:"city"`
	Canton         string  `json:"canton"`
	Status         string  `gorm:"not null;default:ACTIVE" json:"status"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

// Company holds the business entity details a stakeholder registers during
// the company onboarding step.
type Company struct {
	BaseModel

	UserID             string  `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Name               string  `gorm:"not null" json:"name"`
	RegistrationNumber string  `json:"registration_number"`
	VATNumber          string  `json:"vat_number"`
	Address            string  `json:"address"`
	City               string  `json:"city"`
	PostalCode         string  `json:"postal_code"`
	Country            string  `gorm:"not null;default:CH" json:"country"`
	Website            *string `json:"website,omitempty"`
}
