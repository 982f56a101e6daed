package database

import (
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Project{},
		&models.Company{},
		&models.ProjectInvitation{},
		&models.ProjectParticipant{},
		&models.StakeholderOnboarding{},
		&models.KYCVerification{},
		&models.KYCDocument{},
		&models.PhoneVerification{},
		&models.SMSCode{},
		&models.StakeholderSession{},
		&models.StakeholderPermissions{},
		&models.ActivityLog{},
	)
}

// SeedData populates the records the service expects at first boot. It is
// idempotent so repeated start-ups leave existing data untouched.
func SeedData(db *gorm.DB) error {
	defaultOrg := models.Organization{
		BaseModel: models.BaseModel{ID: "00000000-0000-0000-0000-000000000001"},
		Name:      "Default Organization",
		Slug:      "default",
	}
	if err := db.Where(models.Organization{Slug: defaultOrg.Slug}).Attrs(defaultOrg).FirstOrCreate(&models.Organization{}).Error; err != nil {
		return err
	}

	return nil
}
