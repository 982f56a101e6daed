package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
)

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		name    string
		number  string
		country string
		want    string
		wantErr bool
	}{
		{name: "swiss national with spaces", number: "079 123 45 67", country: "CH", want: "+41791234567"},
		{name: "swiss national dashed", number: "079-123-45-67", country: "ch", want: "+41791234567"},
		{name: "french national", number: "0612345678", country: "FR", want: "+33612345678"},
		{name: "e164 passthrough", number: "+41791234567", country: "", want: "+41791234567"},
		{name: "e164 ignores country", number: "+49151123456", country: "CH", want: "+49151123456"},
		{name: "letters rejected", number: "079abc4567", country: "CH", wantErr: true},
		{name: "unsupported country", number: "0791234567", country: "US", wantErr: true},
		{name: "missing country for national", number: "0791234567", country: "", wantErr: true},
		{name: "too short", number: "+4179", country: "", wantErr: true},
		{name: "empty", number: "", country: "CH", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePhoneNumber(tc.number, tc.country)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidPhoneNumber)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMaskPhoneNumber(t *testing.T) {
	require.Equal(t, "+41*******67", MaskPhoneNumber("+41791234567"))
	require.Equal(t, "12345", MaskPhoneNumber("12345"))
}

func newTwoFactorFixture(t *testing.T, sender *captureSender, now func() time.Time) (*TwoFactorService, *gorm.DB, *models.User) {
	t.Helper()

	db := openServicesTestDB(t)
	opts := []TwoFactorOption{}
	if now != nil {
		opts = append(opts, WithTwoFactorClock(now))
	}
	svc, err := NewTwoFactorService(db, sender, newTestActivityService(t, db), TwoFactorConfig{
		DailyLimit:     5,
		CodeTTL:        10 * time.Minute,
		CodeDigits:     6,
		MaxAttempts:    3,
		ResendCooldown: 60 * time.Second,
	}, opts...)
	require.NoError(t, err)

	user := createTestUser(t, db, "stakeholder@example.com")
	return svc, db, user
}

func verifyPhone(t *testing.T, svc *TwoFactorService, sender *captureSender, userID string) {
	t.Helper()

	_, err := svc.SendCode(context.Background(), userID, models.PurposePhoneVerify)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyCode(context.Background(), userID, sender.lastCode(t), models.PurposePhoneVerify))
}

func TestRegisterPhoneReplacementResetsVerification(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	phone, err := svc.RegisterPhone(ctx, user.ID, "079 123 45 67", "CH")
	require.NoError(t, err)
	require.Equal(t, "+41791234567", phone.PhoneNumber)
	require.False(t, phone.IsVerified)

	verifyPhone(t, svc, sender, user.ID)

	// Same number is a no-op and keeps the verified flag.
	same, err := svc.RegisterPhone(ctx, user.ID, "+41791234567", "")
	require.NoError(t, err)
	require.Equal(t, phone.ID, same.ID)
	require.True(t, same.IsVerified)

	// A different number replaces the record and drops verification.
	replaced, err := svc.RegisterPhone(ctx, user.ID, "078 765 43 21", "CH")
	require.NoError(t, err)
	require.Equal(t, phone.ID, replaced.ID)
	require.Equal(t, "+41787654321", replaced.PhoneNumber)
	require.False(t, replaced.IsVerified)
}

func TestSendCodeResendCooldown(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)

	result, err := svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	require.Equal(t, current.Add(60*time.Second), result.NextAllowedSendAt.UTC())
	require.Equal(t, 4, result.RemainingToday)

	// Immediately resending trips the cooldown but still reports throttle state.
	result, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.ErrorIs(t, err, ErrResendCooldown)
	require.NotNil(t, result)
	require.Equal(t, current.Add(60*time.Second), result.NextAllowedSendAt.UTC())
	require.Len(t, sender.messages, 1)

	current = current.Add(61 * time.Second)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	require.Len(t, sender.messages, 2)
}

func TestSendCodeDailyLimit(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result, err := svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
		require.NoError(t, err)
		require.Equal(t, 4-i, result.RemainingToday)
		current = current.Add(2 * time.Minute)
	}

	result, err := svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.ErrorIs(t, err, ErrDailyLimitReached)
	require.NotNil(t, result)
	require.Zero(t, result.RemainingToday)
	require.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), result.NextAllowedSendAt.UTC())

	// The counter rolls over at midnight UTC.
	current = time.Date(2026, 5, 5, 0, 30, 0, 0, time.UTC)
	result, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	require.Equal(t, 4, result.RemainingToday)
}

func TestVerifyCodeIsSingleUse(t *testing.T) {
	sender := &captureSender{}
	svc, db, user := newTwoFactorFixture(t, sender, nil)
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	code := sender.lastCode(t)

	require.NoError(t, svc.VerifyCode(ctx, user.ID, code, models.PurposePhoneVerify))

	var phone models.PhoneVerification
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&phone).Error)
	require.True(t, phone.IsVerified)
	require.NotNil(t, phone.VerifiedAt)

	// Replay of a consumed code fails.
	require.ErrorIs(t, svc.VerifyCode(ctx, user.ID, code, models.PurposePhoneVerify), ErrCodeInvalid)
}

func TestVerifyCodeExhaustsAttempts(t *testing.T) {
	sender := &captureSender{}
	svc, _, user := newTwoFactorFixture(t, sender, nil)
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	code := sender.lastCode(t)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, svc.VerifyCode(ctx, user.ID, "000000", models.PurposePhoneVerify), ErrCodeInvalid)
	}

	// Even the right code is dead once attempts are exhausted.
	require.ErrorIs(t, svc.VerifyCode(ctx, user.ID, code, models.PurposePhoneVerify), ErrCodeInvalid)
}

func TestVerifyCodeRejectsExpired(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)
	code := sender.lastCode(t)

	current = current.Add(11 * time.Minute)
	require.ErrorIs(t, svc.VerifyCode(ctx, user.ID, code, models.PurposePhoneVerify), ErrCodeInvalid)
}

func TestSendCodeForOtherPurposesRequiresVerifiedPhone(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	_, err := svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.ErrorIs(t, err, ErrPhoneNotFound)

	_, err = svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)

	_, err = svc.SendCode(ctx, user.ID, models.PurposeTransaction)
	require.ErrorIs(t, err, ErrPhoneNotVerified)

	verifyPhone(t, svc, sender, user.ID)

	current = current.Add(2 * time.Minute)
	_, err = svc.SendCode(ctx, user.ID, models.PurposeTransaction)
	require.NoError(t, err)
}

func TestEnable2FARequiresVerifiedPhone(t *testing.T) {
	sender := &captureSender{}
	svc, db, user := newTwoFactorFixture(t, sender, nil)
	ctx := context.Background()

	require.ErrorIs(t, svc.Enable2FA(ctx, user.ID), ErrPhoneNotFound)

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	require.ErrorIs(t, svc.Enable2FA(ctx, user.ID), ErrPhoneNotVerified)

	verifyPhone(t, svc, sender, user.ID)
	require.NoError(t, svc.Enable2FA(ctx, user.ID))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.True(t, stored.TwoFactorEnabled)

	require.NoError(t, svc.Disable2FA(ctx, user.ID))
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.False(t, stored.TwoFactorEnabled)
}

func TestTwoFactorStatusMasksNumber(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, _, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	status, err := svc.Status(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, status.PhoneRegistered)

	_, err = svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)

	status, err = svc.Status(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, status.PhoneRegistered)
	require.False(t, status.PhoneVerified)
	require.Equal(t, "+41*******67", status.MaskedPhoneNumber)
	require.Equal(t, "CH", status.CountryCode)
	require.Equal(t, 4, status.RemainingToday)
	require.NotNil(t, status.NextAllowedSendAt)
	require.Equal(t, current.Add(60*time.Second), status.NextAllowedSendAt.UTC())
}

func TestCleanupExpiredCodes(t *testing.T) {
	sender := &captureSender{}
	current := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc, db, user := newTwoFactorFixture(t, sender, func() time.Time { return current })
	ctx := context.Background()

	_, err := svc.RegisterPhone(ctx, user.ID, "0791234567", "CH")
	require.NoError(t, err)
	_, err = svc.SendCode(ctx, user.ID, models.PurposePhoneVerify)
	require.NoError(t, err)

	count, err := svc.CleanupExpiredCodes(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	// Codes are kept for a grace day past expiry before deletion.
	current = current.Add(36 * time.Hour)
	count, err = svc.CleanupExpiredCodes(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var remaining int64
	require.NoError(t, db.Model(&models.SMSCode{}).Where("user_id = ?", user.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
}
