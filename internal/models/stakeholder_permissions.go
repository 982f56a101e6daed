package models

import "time"

// StakeholderPermissions is the per-project capability grant for a user.
// Seeded from the role defaults at invitation acceptance, optionally adjusted
// by invitation overrides, and editable by administrators afterwards.
type StakeholderPermissions struct {
	BaseModel

	UserID    string `gorm:"type:uuid;not null;uniqueIndex:idx_permissions_user_project" json:"user_id"`
	ProjectID string `gorm:"type:uuid;not null;uniqueIndex:idx_permissions_user_project" json:"project_id"`

	PermissionSet `gorm:"embedded"`

	GrantedBy string    `gorm:"type:uuid" json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`

	User    *User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// Allows resolves a named capability flag. Unknown actions resolve to false.
func (p *StakeholderPermissions) Allows(action string) bool {
	switch action {
	case "view_clients":
		return p.CanViewClients
	case "edit_clients":
		return p.CanEditClients
	case "upload_documents":
		return p.CanUploadDocuments
	case "validate_documents":
		return p.CanValidateDocuments
	case "view_financial":
		return p.CanViewFinancial
	case "view_all_lots":
		return p.CanViewAllLots
	case "reserve_lots":
		return p.CanReserveLots
	case "view_plans":
		return p.CanViewPlans
	case "download_plans":
		return p.CanDownloadPlans
	case "view_other_stakeholders":
		return p.CanViewOtherStakeholders
	case "communicate":
		return p.CanCommunicate
	case "export_data":
		return p.CanExportData
	}
	return false
}
