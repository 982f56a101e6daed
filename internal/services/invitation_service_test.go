package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lcourbet/promogate/internal/models"
)

func TestInvitationSendAndAcceptProvisionsStakeholder(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "broker@example.com")
	project := createTestProject(t, db, "Les Terrasses")

	ctx := context.Background()
	invitation, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "Broker@Example.com",
		FirstName: "Jean",
		LastName:  "Dupont",
		Role:      models.RoleBroker,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, models.InvitationPending, invitation.Status)
	require.Equal(t, "broker@example.com", invitation.Email)

	info, err := svc.InfoByToken(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, info.Project)
	require.Equal(t, "Les Terrasses", info.Project.Name)

	accepted, err := svc.Accept(ctx, token, invitee.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvitationAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)

	var participant models.ProjectParticipant
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).First(&participant).Error)
	require.Equal(t, models.RoleBroker, participant.Role)
	require.True(t, participant.IsActive)

	var grant models.StakeholderPermissions
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).First(&grant).Error)
	require.True(t, grant.CanReserveLots)
	require.False(t, grant.CanViewFinancial)
	require.False(t, grant.CanValidateDocuments)

	var onboarding models.StakeholderOnboarding
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).First(&onboarding).Error)
	require.Equal(t, models.OnboardingNotStarted, onboarding.Status)
	require.Equal(t, models.StepProfile, onboarding.CurrentStep)
	require.Contains(t, []string(onboarding.RequiredSteps), models.StepTwoFactor)

	var account models.User
	require.NoError(t, db.First(&account, "id = ?", invitee.ID).Error)
	require.Equal(t, models.AccountExternal, account.AccountType)
	require.NotNil(t, account.PrimaryProjectID)
	require.Equal(t, project.ID, *account.PrimaryProjectID)
}

func TestInvitationAcceptIsSingleUse(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	first := createTestUser(t, db, "first@example.com")
	second := createTestUser(t, db, "second@example.com")
	project := createTestProject(t, db, "Quartier Nord")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "first@example.com",
		Role:      models.RoleArchitect,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	_, err = svc.Accept(ctx, token, first.ID)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, token, second.ID)
	require.ErrorIs(t, err, ErrInvitationConsumed)

	var participants int64
	require.NoError(t, db.Model(&models.ProjectParticipant{}).
		Where("project_id = ?", project.ID).Count(&participants).Error)
	require.Equal(t, int64(1), participants)
}

func TestInvitationConcurrentAcceptAdmitsExactlyOne(t *testing.T) {
	db := openServicesTestDB(t)

	// Shared-cache sqlite allows a single writer; one pooled connection
	// serialises the transactions without weakening the contract under test.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	first := createTestUser(t, db, "first@example.com")
	second := createTestUser(t, db, "second@example.com")
	project := createTestProject(t, db, "Quartier Est")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "first@example.com",
		Role:      models.RoleArchitect,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	results := make(chan error, 2)
	for _, userID := range []string{first.ID, second.ID} {
		go func(id string) {
			_, acceptErr := svc.Accept(context.Background(), token, id)
			results <- acceptErr
		}(userID)
	}

	var accepted, consumed int
	for i := 0; i < 2; i++ {
		switch acceptErr := <-results; {
		case acceptErr == nil:
			accepted++
		case errors.Is(acceptErr, ErrInvitationConsumed):
			consumed++
		default:
			t.Fatalf("unexpected accept error: %v", acceptErr)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, consumed)

	var participants int64
	require.NoError(t, db.Model(&models.ProjectParticipant{}).
		Where("project_id = ?", project.ID).Count(&participants).Error)
	require.Equal(t, int64(1), participants)
}

func TestInvitationAcceptIsIdempotentForSameUser(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "buyer@example.com")
	project := createTestProject(t, db, "Residence Lac")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "buyer@example.com",
		Role:      models.RoleBuyer,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	// Pre-existing membership from an earlier invitation must not break
	// re-provisioning.
	require.NoError(t, db.Create(&models.ProjectParticipant{
		ProjectID: project.ID,
		UserID:    invitee.ID,
		Role:      models.RoleBuyer,
		JoinedAt:  time.Now(),
		IsActive:  true,
	}).Error)

	_, err = svc.Accept(ctx, token, invitee.ID)
	require.NoError(t, err)

	var participants int64
	require.NoError(t, db.Model(&models.ProjectParticipant{}).
		Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).Count(&participants).Error)
	require.Equal(t, int64(1), participants)
}

func TestInvitationPermissionOverridesApplyAtAcceptance(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "broker@example.com")
	project := createTestProject(t, db, "Les Vergers")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "broker@example.com",
		Role:      models.RoleBroker,
		InvitedBy: inviter.ID,
		Permissions: map[string]bool{
			"can_view_financial": true,
			"can_reserve_lots":   false,
		},
	})
	require.NoError(t, err)

	_, err = svc.Accept(ctx, token, invitee.ID)
	require.NoError(t, err)

	var grant models.StakeholderPermissions
	require.NoError(t, db.Where("project_id = ? AND user_id = ?", project.ID, invitee.ID).First(&grant).Error)
	require.True(t, grant.CanViewFinancial)
	require.False(t, grant.CanReserveLots)
	// Untouched defaults survive the override merge.
	require.True(t, grant.CanViewClients)
}

func TestInvitationExpiry(t *testing.T) {
	db := openServicesTestDB(t)

	current := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db),
		WithInvitationClock(func() time.Time { return current }),
		WithInvitationExpiry(7*24*time.Hour),
	)
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "late@example.com")
	project := createTestProject(t, db, "Vieux Bourg")

	ctx := context.Background()
	invitation, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "late@example.com",
		Role:      models.RoleNotary,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)
	require.Equal(t, current.Add(7*24*time.Hour), invitation.ExpiresAt.UTC())

	current = current.Add(8 * 24 * time.Hour)

	_, err = svc.InfoByToken(ctx, token)
	require.ErrorIs(t, err, ErrInvitationExpired)

	_, err = svc.Accept(ctx, token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationExpired)

	// The lazy settle already flipped the status, so the sweep finds nothing.
	count, err := svc.MarkExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	var stored models.ProjectInvitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.Equal(t, models.InvitationExpired, stored.Status)
}

func TestInvitationAcceptAfterSweepReportsExpired(t *testing.T) {
	db := openServicesTestDB(t)

	current := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db),
		WithInvitationClock(func() time.Time { return current }),
		WithInvitationExpiry(7*24*time.Hour),
	)
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "late@example.com")
	project := createTestProject(t, db, "Clos Fleuri")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "late@example.com",
		Role:      models.RoleNotary,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	current = current.Add(8 * 24 * time.Hour)

	// The sweep settles the status before the stakeholder clicks the link.
	count, err := svc.MarkExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, err = svc.Accept(ctx, token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationExpired)

	_, err = svc.InfoByToken(ctx, token)
	require.ErrorIs(t, err, ErrInvitationExpired)
}

func TestInvitationCarriesCompanyLink(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	project := createTestProject(t, db, "Zone Artisanale")
	companyID := uuid.NewString()

	ctx := context.Background()
	invitation, _, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "supplier@example.com",
		Role:      models.RoleSupplier,
		CompanyID: companyID,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, invitation.CompanyID)
	require.Equal(t, companyID, *invitation.CompanyID)

	var stored models.ProjectInvitation
	require.NoError(t, db.First(&stored, "id = ?", invitation.ID).Error)
	require.NotNil(t, stored.CompanyID)
	require.Equal(t, companyID, *stored.CompanyID)
}

func TestInvitationDuplicatePendingRejected(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	project := createTestProject(t, db, "Centre Ville")

	ctx := context.Background()
	_, _, err = svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "dup@example.com",
		Role:      models.RoleSupplier,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	_, _, err = svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "dup@example.com",
		Role:      models.RoleSupplier,
		InvitedBy: inviter.ID,
	})
	require.ErrorIs(t, err, ErrInvitationDuplicate)
}

func TestInvitationResendRotatesToken(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	project := createTestProject(t, db, "Bellevue")

	ctx := context.Background()
	invitation, oldToken, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "slow@example.com",
		Role:      models.RoleEngineer,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	_, newToken, err := svc.Resend(ctx, invitation.ID, inviter.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)

	_, err = svc.InfoByToken(ctx, oldToken)
	require.ErrorIs(t, err, ErrInvitationNotFound)

	_, err = svc.InfoByToken(ctx, newToken)
	require.NoError(t, err)
}

func TestInvitationRevokeBlocksAcceptance(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "gone@example.com")
	project := createTestProject(t, db, "Parc Sud")

	ctx := context.Background()
	invitation, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "gone@example.com",
		Role:      models.RoleGeneralContractor,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, invitation.ID, inviter.ID))

	_, err = svc.Accept(ctx, token, invitee.ID)
	require.ErrorIs(t, err, ErrInvitationConsumed)
}

func TestInvitationStats(t *testing.T) {
	db := openServicesTestDB(t)
	svc, err := NewInvitationService(db, nil, newTestActivityService(t, db))
	require.NoError(t, err)

	inviter := createTestUser(t, db, "promoter@example.com")
	invitee := createTestUser(t, db, "one@example.com")
	project := createTestProject(t, db, "Grand Pre")

	ctx := context.Background()
	_, token, err := svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "one@example.com",
		Role:      models.RoleBuyer,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, token, invitee.ID)
	require.NoError(t, err)

	_, _, err = svc.Send(ctx, SendInvitationInput{
		ProjectID: project.ID,
		Email:     "two@example.com",
		Role:      models.RoleBuyer,
		InvitedBy: inviter.ID,
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx, project.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Total)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, int64(1), stats.Accepted)
}
