package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/sms"
)

func openServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Project{},
		&models.Company{},
		&models.ProjectInvitation{},
		&models.ProjectParticipant{},
		&models.StakeholderOnboarding{},
		&models.StakeholderPermissions{},
		&models.KYCVerification{},
		&models.KYCDocument{},
		&models.PhoneVerification{},
		&models.SMSCode{},
		&models.StakeholderSession{},
		&models.ActivityLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := models.User{
		Email:     email,
		FirstName: "Test",
		LastName:  "User",
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createTestProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()

	org := models.Organization{
		Name: name + " Org",
		Slug: strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-org",
	}
	require.NoError(t, db.Create(&org).Error)

	project := models.Project{
		OrganizationID: org.ID,
		Name:           name,
		City:           "Lausanne",
		Canton:         "VD",
	}
	require.NoError(t, db.Create(&project).Error)
	return &project
}

func newTestActivityService(t *testing.T, db *gorm.DB) *ActivityService {
	t.Helper()

	svc, err := NewActivityService(db)
	require.NoError(t, err)
	return svc
}

var codePattern = regexp.MustCompile(`\d{4,10}`)

// captureSender records dispatched SMS messages so tests can read back the
// one-time codes.
type captureSender struct {
	messages []sms.Message
}

func (c *captureSender) Send(_ context.Context, msg sms.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func (c *captureSender) lastCode(t *testing.T) string {
	t.Helper()

	require.NotEmpty(t, c.messages)
	code := codePattern.FindString(c.messages[len(c.messages)-1].Body)
	require.NotEmpty(t, code)
	return code
}
