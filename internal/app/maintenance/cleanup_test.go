package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/internal/services"
)

func openCleanupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:maintenance_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.Project{},
		&models.ProjectInvitation{},
		&models.PhoneVerification{},
		&models.SMSCode{},
		&models.KYCVerification{},
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

func TestCleanerRunOnceSweepsEverything(t *testing.T) {
	db := openCleanupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	activity, err := services.NewActivityService(db)
	require.NoError(t, err)
	invitations, err := services.NewInvitationService(db, nil, activity)
	require.NoError(t, err)
	twofactor, err := services.NewTwoFactorService(db, nil, activity, services.TwoFactorConfig{})
	require.NoError(t, err)
	kyc, err := services.NewKYCService(db, nil, activity, nil)
	require.NoError(t, err)
	sessions, err := services.NewSessionService(db)
	require.NoError(t, err)

	userID := "9f4f1c3a-0000-4000-8000-000000000001"

	// A pending invitation past expiry.
	require.NoError(t, db.Create(&models.ProjectInvitation{
		ProjectID: "9f4f1c3a-0000-4000-8000-000000000002",
		Email:     "stale@example.com",
		Role:      models.RoleBuyer,
		TokenHash: "stale-hash",
		Status:    models.InvitationPending,
		ExpiresAt: now.Add(-48 * time.Hour),
		InvitedBy: userID,
	}).Error)

	// An SMS code past its grace day.
	require.NoError(t, db.Create(&models.SMSCode{
		UserID:              userID,
		PhoneVerificationID: "9f4f1c3a-0000-4000-8000-000000000003",
		CodeHash:            "dead-code",
		Purpose:             models.PurposePhoneVerify,
		ExpiresAt:           now.Add(-48 * time.Hour),
		MaxAttempts:         3,
	}).Error)

	// An approval past its validity window.
	expired := now.Add(-24 * time.Hour)
	require.NoError(t, db.Create(&models.KYCVerification{
		UserID:           userID,
		VerificationType: models.KYCIdentity,
		Status:           models.KYCApproved,
		ExpiresAt:        &expired,
	}).Error)

	// A session dead for more than a day.
	require.NoError(t, db.Create(&models.StakeholderSession{
		UserID:           userID,
		SessionTokenHash: "dead-session",
		ExpiresAt:        now.Add(-48 * time.Hour),
		LastUsedAt:       now.Add(-72 * time.Hour),
	}).Error)

	// An activity record past retention, and one recent enough to survive.
	require.NoError(t, db.Create(&models.ActivityLog{
		ActionType: "invitation.sent",
		CreatedAt:  now.Add(-100 * 24 * time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.ActivityLog{
		ActionType: "invitation.accepted",
		CreatedAt:  now.Add(-time.Hour),
	}).Error)

	cleaner := NewCleaner(invitations, twofactor, kyc, sessions, activity,
		WithActivityRetention(90*24*time.Hour),
	)
	require.NoError(t, cleaner.RunOnce(ctx))

	var invitation models.ProjectInvitation
	require.NoError(t, db.First(&invitation, "token_hash = ?", "stale-hash").Error)
	require.Equal(t, models.InvitationExpired, invitation.Status)

	var codes int64
	require.NoError(t, db.Model(&models.SMSCode{}).Count(&codes).Error)
	require.Zero(t, codes)

	var verification models.KYCVerification
	require.NoError(t, db.First(&verification, "user_id = ?", userID).Error)
	require.Equal(t, models.KYCExpired, verification.Status)

	var sessionCount int64
	require.NoError(t, db.Model(&models.StakeholderSession{}).Count(&sessionCount).Error)
	require.Zero(t, sessionCount)

	var logs []models.ActivityLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "invitation.accepted", logs[0].ActionType)
}

func TestCleanerSkipsMissingDependencies(t *testing.T) {
	cleaner := NewCleaner(nil, nil, nil, nil, nil)
	require.NoError(t, cleaner.RunOnce(context.Background()))
}
