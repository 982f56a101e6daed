package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
)

type accessFixture struct {
	access   *AccessService
	sessions *SessionService
	db       *gorm.DB
	user     *models.User
	project  *models.Project
	session  *models.StakeholderSession
}

func newAccessFixture(t *testing.T, now func() time.Time) *accessFixture {
	t.Helper()

	db := openServicesTestDB(t)
	sender := &captureSender{}

	tfOpts := []TwoFactorOption{}
	sessOpts := []SessionOption{}
	suOpts := []StepUpOption{WithStepUpWindow(15 * time.Minute)}
	if now != nil {
		tfOpts = append(tfOpts, WithTwoFactorClock(now))
		sessOpts = append(sessOpts, WithSessionClock(now))
		suOpts = append(suOpts, WithStepUpClock(now))
	}

	twofactor, err := NewTwoFactorService(db, sender, newTestActivityService(t, db), TwoFactorConfig{}, tfOpts...)
	require.NoError(t, err)
	sessions, err := NewSessionService(db, sessOpts...)
	require.NoError(t, err)
	stepup, err := NewStepUpService(twofactor, sessions, suOpts...)
	require.NoError(t, err)
	access, err := NewAccessService(db, sessions, stepup)
	require.NoError(t, err)

	user := createTestUser(t, db, "stakeholder@example.com")
	project := createTestProject(t, db, "Access Project")

	// Sensitive-action tests exercise the step-up path, which only applies
	// to users with 2FA turned on.
	require.NoError(t, db.Model(user).Update("two_factor_enabled", true).Error)
	user.TwoFactorEnabled = true

	session, _, err := sessions.Create(context.Background(), CreateSessionInput{UserID: user.ID})
	require.NoError(t, err)

	return &accessFixture{
		access:   access,
		sessions: sessions,
		db:       db,
		user:     user,
		project:  project,
		session:  session,
	}
}

func (fx *accessFixture) seedOnboarding(t *testing.T, status models.OnboardingStatus) {
	t.Helper()

	require.NoError(t, fx.db.Create(&models.StakeholderOnboarding{
		UserID:    fx.user.ID,
		ProjectID: fx.project.ID,
		Role:      models.RoleBroker,
		Status:    status,
	}).Error)
}

func (fx *accessFixture) seedPermissions(t *testing.T, set models.PermissionSet) {
	t.Helper()

	require.NoError(t, fx.db.Create(&models.StakeholderPermissions{
		UserID:        fx.user.ID,
		ProjectID:     fx.project.ID,
		PermissionSet: set,
		GrantedAt:     time.Now(),
	}).Error)
}

func (fx *accessFixture) decide(t *testing.T, action string) *Decision {
	t.Helper()

	decision, err := fx.access.Decide(context.Background(), DecideInput{
		UserID:    fx.user.ID,
		ProjectID: fx.project.ID,
		SessionID: fx.session.ID,
		Action:    action,
	})
	require.NoError(t, err)
	return decision
}

func TestAccessDeniesNonParticipants(t *testing.T) {
	fx := newAccessFixture(t, nil)

	decision := fx.decide(t, "view_plans")
	require.False(t, decision.Allowed)
	require.Equal(t, "not_a_participant", decision.Reason)
}

func TestAccessBlockedWinsOverEverything(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingBlocked)
	fx.seedPermissions(t, models.PermissionSet{CanViewPlans: true})

	decision := fx.decide(t, "view_plans")
	require.False(t, decision.Allowed)
	require.Equal(t, "blocked", decision.Reason)

	// Even plain platform access is denied while blocked.
	decision = fx.decide(t, "")
	require.False(t, decision.Allowed)
	require.Equal(t, "blocked", decision.Reason)
}

func TestAccessRequiresCompletedOnboarding(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingPendingKYC)
	fx.seedPermissions(t, models.PermissionSet{CanViewPlans: true})

	decision := fx.decide(t, "view_plans")
	require.False(t, decision.Allowed)
	require.Equal(t, "onboarding_incomplete", decision.Reason)
}

func TestAccessPlainPlatformAccessAfterOnboarding(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingCompleted)

	decision := fx.decide(t, "")
	require.True(t, decision.Allowed)
	require.False(t, decision.RequiresStepUp)
}

func TestAccessMissingGrantDeniesActions(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingCompleted)

	decision := fx.decide(t, "view_plans")
	require.False(t, decision.Allowed)
	require.Equal(t, "no_permissions", decision.Reason)
}

func TestAccessPermissionFlagDecidesAction(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingCompleted)
	fx.seedPermissions(t, models.PermissionSet{CanViewPlans: true})

	require.True(t, fx.decide(t, "view_plans").Allowed)

	decision := fx.decide(t, "view_financial")
	require.False(t, decision.Allowed)
	require.Equal(t, "permission_denied", decision.Reason)
}

func TestAccessSensitiveActionRequiresStepUp(t *testing.T) {
	current := time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	fx := newAccessFixture(t, func() time.Time { return current })
	fx.seedOnboarding(t, models.OnboardingCompleted)
	fx.seedPermissions(t, models.PermissionSet{CanReserveLots: true, CanViewPlans: true})

	// Non-sensitive actions pass on the flag alone.
	require.True(t, fx.decide(t, "view_plans").Allowed)

	decision := fx.decide(t, "reserve_lots")
	require.False(t, decision.Allowed)
	require.True(t, decision.RequiresStepUp)
	require.Equal(t, "step_up_required", decision.Reason)

	require.NoError(t, fx.sessions.MarkStepUpVerified(context.Background(), fx.session.ID))

	decision = fx.decide(t, "reserve_lots")
	require.True(t, decision.Allowed)
	require.False(t, decision.RequiresStepUp)

	// Freshness decays with time.
	current = current.Add(16 * time.Minute)
	decision = fx.decide(t, "reserve_lots")
	require.False(t, decision.Allowed)
	require.True(t, decision.RequiresStepUp)
}

func TestAccessSensitiveActionWithoutTwoFactorRunsDirectly(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingCompleted)
	fx.seedPermissions(t, models.PermissionSet{CanReserveLots: true})

	require.NoError(t, fx.db.Model(fx.user).Update("two_factor_enabled", false).Error)

	decision := fx.decide(t, "reserve_lots")
	require.True(t, decision.Allowed)
	require.False(t, decision.RequiresStepUp)
}

func TestAccessSensitiveActionWithoutSessionChallenges(t *testing.T) {
	fx := newAccessFixture(t, nil)
	fx.seedOnboarding(t, models.OnboardingCompleted)
	fx.seedPermissions(t, models.PermissionSet{CanExportData: true})

	decision, err := fx.access.Decide(context.Background(), DecideInput{
		UserID:    fx.user.ID,
		ProjectID: fx.project.ID,
		SessionID: "unknown-session",
		Action:    "export_data",
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.True(t, decision.RequiresStepUp)
}
