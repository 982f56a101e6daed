package models

import "fmt"

// ParticipantRole identifies the function a stakeholder fills on a project.
// The set is closed: every role carries its own onboarding step plan and
// default permission grant, resolved by exhaustive switch so an unmapped
// role is a programming error surfaced at the call site, not a silent default.
type ParticipantRole string

const (
	RolePromoter          ParticipantRole = "PROMOTER"
	RoleBroker            ParticipantRole = "BROKER"
	RoleArchitect         ParticipantRole = "ARCHITECT"
	RoleEngineer          ParticipantRole = "ENGINEER"
	RoleNotary            ParticipantRole = "NOTARY"
	RoleGeneralContractor ParticipantRole = "GENERAL_CONTRACTOR"
	RoleSupplier          ParticipantRole = "SUPPLIER"
	RoleBuyer             ParticipantRole = "BUYER"
)

// AllParticipantRoles lists every valid role, for validation and seeding.
var AllParticipantRoles = []ParticipantRole{
	RolePromoter,
	RoleBroker,
	RoleArchitect,
	RoleEngineer,
	RoleNotary,
	RoleGeneralContractor,
	RoleSupplier,
	RoleBuyer,
}

// Valid reports whether the role is a member of the closed set.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RolePromoter, RoleBroker, RoleArchitect, RoleEngineer,
		RoleNotary, RoleGeneralContractor, RoleSupplier, RoleBuyer:
		return true
	}
	return false
}

// Onboarding step identifiers. Steps prefixed "kyc" gate onboarding into the
// PENDING_KYC derived status.
const (
	StepProfile         = "profile"
	StepCompany         = "company"
	StepKYCIdentity     = "kyc_identity"
	StepKYCCompany      = "kyc_company"
	StepKYCProfessional = "kyc_professional"
	StepTwoFactor       = "2fa"
	StepDocuments       = "documents"
	StepPreferences     = "preferences"
	StepCatalog         = "catalog"
	StepFinancing       = "financing"
)

// StepPlan describes the onboarding steps a role must and may complete.
type StepPlan struct {
	Required []string
	Optional []string
}

// OnboardingPlan returns the step plan for a role. Only required steps count
// toward completion; optional steps surface in the UI but never block access.
func OnboardingPlan(role ParticipantRole) (StepPlan, error) {
	switch role {
	case RolePromoter:
		return StepPlan{Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepKYCCompany, StepTwoFactor}}, nil
	case RoleBroker:
		return StepPlan{
			Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepKYCCompany, StepTwoFactor, StepDocuments},
			Optional: []string{StepPreferences},
		}, nil
	case RoleArchitect:
		return StepPlan{Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepKYCCompany, StepTwoFactor}}, nil
	case RoleEngineer:
		return StepPlan{Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepTwoFactor}}, nil
	case RoleNotary:
		return StepPlan{Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepKYCProfessional, StepTwoFactor}}, nil
	case RoleGeneralContractor:
		return StepPlan{Required: []string{StepProfile, StepCompany, StepKYCIdentity, StepKYCCompany, StepTwoFactor}}, nil
	case RoleSupplier:
		return StepPlan{
			Required: []string{StepProfile, StepCompany, StepKYCCompany},
			Optional: []string{StepCatalog},
		}, nil
	case RoleBuyer:
		return StepPlan{
			Required: []string{StepProfile, StepKYCIdentity, StepTwoFactor},
			Optional: []string{StepFinancing},
		}, nil
	}
	return StepPlan{}, fmt.Errorf("models: no onboarding plan for role %q", role)
}

// PermissionSet holds the capability flags granted to a stakeholder on a project.
type PermissionSet struct {
	CanViewClients           bool `json:"can_view_clients"`
	CanEditClients           bool `json:"can_edit_clients"`
	CanUploadDocuments       bool `json:"can_upload_documents"`
	CanValidateDocuments     bool `json:"can_validate_documents"`
	CanViewFinancial         bool `json:"can_view_financial"`
	CanViewAllLots           bool `json:"can_view_all_lots"`
	CanReserveLots           bool `json:"can_reserve_lots"`
	CanViewPlans             bool `json:"can_view_plans"`
	CanDownloadPlans         bool `json:"can_download_plans"`
	CanViewOtherStakeholders bool `json:"can_view_other_stakeholders"`
	CanCommunicate           bool `json:"can_communicate"`
	CanExportData            bool `json:"can_export_data"`
}

// DefaultPermissions returns the capability grant seeded when a stakeholder
// of the given role joins a project.
func DefaultPermissions(role ParticipantRole) (PermissionSet, error) {
	switch role {
	case RolePromoter:
		return PermissionSet{
			CanViewClients: true, CanEditClients: true,
			CanUploadDocuments: true, CanValidateDocuments: true,
			CanViewFinancial: true, CanViewAllLots: true, CanReserveLots: true,
			CanViewPlans: true, CanDownloadPlans: true,
			CanViewOtherStakeholders: true, CanCommunicate: true, CanExportData: true,
		}, nil
	case RoleBroker:
		return PermissionSet{
			CanViewClients: true, CanEditClients: true,
			CanUploadDocuments: true,
			CanViewAllLots:     true, CanReserveLots: true,
			CanViewPlans: true, CanDownloadPlans: true,
			CanCommunicate: true, CanExportData: true,
		}, nil
	case RoleArchitect:
		return PermissionSet{
			CanUploadDocuments: true,
			CanViewAllLots:     true,
			CanViewPlans:       true, CanDownloadPlans: true,
			CanViewOtherStakeholders: true, CanCommunicate: true, CanExportData: true,
		}, nil
	case RoleEngineer:
		return PermissionSet{
			CanUploadDocuments: true,
			CanViewAllLots:     true,
			CanViewPlans:       true, CanDownloadPlans: true,
			CanViewOtherStakeholders: true, CanCommunicate: true,
		}, nil
	case RoleNotary:
		return PermissionSet{
			CanViewClients:     true,
			CanUploadDocuments: true, CanValidateDocuments: true,
			CanViewFinancial: true, CanViewAllLots: true,
			CanViewPlans: true, CanDownloadPlans: true,
			CanViewOtherStakeholders: true, CanCommunicate: true, CanExportData: true,
		}, nil
	case RoleGeneralContractor:
		return PermissionSet{
			CanUploadDocuments: true,
			CanViewFinancial:   true, CanViewAllLots: true,
			CanViewPlans: true, CanDownloadPlans: true,
			CanViewOtherStakeholders: true, CanCommunicate: true, CanExportData: true,
		}, nil
	case RoleSupplier:
		return PermissionSet{
			CanUploadDocuments: true,
			CanCommunicate:     true,
		}, nil
	case RoleBuyer:
		return PermissionSet{
			CanUploadDocuments: true,
			CanViewFinancial:   true,
			CanViewPlans:       true, CanDownloadPlans: true,
			CanCommunicate: true,
		}, nil
	}
	return PermissionSet{}, fmt.Errorf("models: no default permissions for role %q", role)
}
