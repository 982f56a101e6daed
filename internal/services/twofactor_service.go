package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/crypto"
	"github.com/lcourbet/promogate/pkg/logger"
	"github.com/lcourbet/promogate/pkg/metrics"
	"github.com/lcourbet/promogate/pkg/sms"
)

const (
	defaultDailyCodeLimit = 5
	defaultCodeTTL        = 10 * time.Minute
	defaultCodeDigits     = 6
	defaultMaxAttempts    = 3
	defaultResendCooldown = 60 * time.Second
)

var (
	// ErrPhoneNotFound indicates the user has no registered phone number.
	ErrPhoneNotFound = errors.New("twofactor: phone not registered")
	// ErrPhoneNotVerified signals the phone must be verified first.
	ErrPhoneNotVerified = errors.New("twofactor: phone not verified")
	// ErrInvalidPhoneNumber signals the number cannot be normalised.
	ErrInvalidPhoneNumber = errors.New("twofactor: invalid phone number")
	// ErrDailyLimitReached signals the rolling daily code cap was hit.
	ErrDailyLimitReached = errors.New("twofactor: daily code limit reached")
	// ErrResendCooldown signals a code was sent too recently.
	ErrResendCooldown = errors.New("twofactor: resend cooldown active")
	// ErrCodeInvalid covers wrong, expired, exhausted and consumed codes alike,
	// so a caller cannot distinguish which guess failed.
	ErrCodeInvalid = errors.New("twofactor: code invalid or expired")
	// ErrSMSDeliveryFailed signals the gateway rejected the dispatch.
	ErrSMSDeliveryFailed = errors.New("twofactor: sms delivery failed")
)

// countryDialPrefixes maps supported country codes to their E.164 prefixes.
var countryDialPrefixes = map[string]string{
	"CH": "+41",
	"FR": "+33",
	"DE": "+49",
	"IT": "+39",
	"AT": "+43",
}

// TwoFactorConfig bundles throttling and dispatch settings.
type TwoFactorConfig struct {
	DailyLimit     int
	CodeTTL        time.Duration
	CodeDigits     int
	MaxAttempts    int
	ResendCooldown time.Duration
	// Strict makes SMS delivery failures fatal to SendCode. When false the
	// code is kept and the failure only logged, which suits development
	// setups without a gateway.
	Strict bool
}

// TwoFactorOption customises TwoFactorService behaviour.
type TwoFactorOption func(*TwoFactorService)

// WithTwoFactorClock injects a custom clock primarily for testing.
func WithTwoFactorClock(clock func() time.Time) TwoFactorOption {
	return func(s *TwoFactorService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TwoFactorService manages phone registration, SMS code issuance and
// verification, including the per-day throttle and resend cooldown.
type TwoFactorService struct {
	db       *gorm.DB
	sender   sms.Sender
	activity *ActivityService
	cfg      TwoFactorConfig
	now      func() time.Time
	log      *zap.Logger
}

// NewTwoFactorService constructs a TwoFactorService with the provided dependencies.
func NewTwoFactorService(db *gorm.DB, sender sms.Sender, activity *ActivityService, cfg TwoFactorConfig, opts ...TwoFactorOption) (*TwoFactorService, error) {
	if db == nil {
		return nil, errors.New("twofactor service: db is required")
	}

	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = defaultDailyCodeLimit
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.CodeDigits <= 0 {
		cfg.CodeDigits = defaultCodeDigits
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = defaultResendCooldown
	}

	service := &TwoFactorService{
		db:       db,
		sender:   sender,
		activity: activity,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.WithModule("twofactor"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// NormalizePhoneNumber converts a national number to E.164 using the country
// dial prefix, stripping one leading zero from the national part.
func NormalizePhoneNumber(number, countryCode string) (string, error) {
	number = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '+':
			return r
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
			return -1
		}
		return 'x'
	}, strings.TrimSpace(number))
	if strings.ContainsRune(number, 'x') || number == "" {
		return "", ErrInvalidPhoneNumber
	}

	if strings.HasPrefix(number, "+") {
		if len(number) < 8 || len(number) > 16 {
			return "", ErrInvalidPhoneNumber
		}
		return number, nil
	}

	prefix, ok := countryDialPrefixes[strings.ToUpper(strings.TrimSpace(countryCode))]
	if !ok {
		return "", ErrInvalidPhoneNumber
	}

	national := strings.TrimPrefix(number, "0")
	if national == "" {
		return "", ErrInvalidPhoneNumber
	}

	result := prefix + national
	if len(result) < 8 || len(result) > 16 {
		return "", ErrInvalidPhoneNumber
	}
	return result, nil
}

// MaskPhoneNumber hides all but the country prefix and the last two digits.
func MaskPhoneNumber(number string) string {
	if len(number) < 6 {
		return number
	}
	return number[:3] + strings.Repeat("*", len(number)-5) + number[len(number)-2:]
}

// RegisterPhone records a phone number for a user. Re-registering the same
// number returns the existing record; a different number replaces it and
// resets verification.
func (s *TwoFactorService) RegisterPhone(ctx context.Context, userID, number, countryCode string) (*models.PhoneVerification, error) {
	ctx = ensureContext(ctx)

	normalized, err := NormalizePhoneNumber(number, countryCode)
	if err != nil {
		return nil, err
	}

	countryCode = strings.ToUpper(strings.TrimSpace(countryCode))
	if countryCode == "" {
		countryCode = "CH"
	}

	var existing models.PhoneVerification
	err = s.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error
	switch {
	case err == nil:
		if existing.PhoneNumber == normalized {
			return &existing, nil
		}
		updates := map[string]any{
			"phone_number":          normalized,
			"country_code":          countryCode,
			"is_verified":           false,
			"verified_at":           nil,
			"verification_attempts": 0,
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("twofactor service: update phone: %w", err)
		}
		existing.PhoneNumber = normalized
		existing.CountryCode = countryCode
		existing.IsVerified = false
		existing.VerifiedAt = nil
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("twofactor service: find phone: %w", err)
	}

	record := models.PhoneVerification{
		UserID:        strings.TrimSpace(userID),
		PhoneNumber:   normalized,
		CountryCode:   countryCode,
		LastResetDate: startOfDay(s.now()),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		// A concurrent registration for the same user won the insert race.
		if isUniqueConstraintError(err) {
			return s.phoneByUser(ctx, userID)
		}
		return nil, fmt.Errorf("twofactor service: create phone: %w", err)
	}
	return &record, nil
}

// SendCodeResult reports throttle state after a send attempt. On cooldown or
// limit errors it still carries the instant the next send becomes allowed.
type SendCodeResult struct {
	NextAllowedSendAt time.Time `json:"next_allowed_send_at"`
	RemainingToday    int       `json:"remaining_today"`
}

// SendCode issues a fresh single-use code for the given purpose. The daily
// cap is enforced with a conditional increment so concurrent sends cannot
// exceed it.
func (s *TwoFactorService) SendCode(ctx context.Context, userID string, purpose models.SMSPurpose) (*SendCodeResult, error) {
	ctx = ensureContext(ctx)

	if !purpose.Valid() {
		return nil, fmt.Errorf("twofactor service: invalid purpose %q", purpose)
	}

	phone, err := s.phoneByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if purpose != models.PurposePhoneVerify && !phone.IsVerified {
		return nil, ErrPhoneNotVerified
	}

	now := s.now()
	today := startOfDay(now)

	// Roll the counter over on day change before enforcing the cap.
	if phone.LastResetDate.Before(today) {
		rollover := s.db.WithContext(ctx).Model(&models.PhoneVerification{}).
			Where("id = ? AND last_reset_date < ?", phone.ID, today).
			Updates(map[string]any{"codes_sent_today": 0, "last_reset_date": today})
		if rollover.Error != nil {
			return nil, fmt.Errorf("twofactor service: reset daily counter: %w", rollover.Error)
		}
		phone.CodesSentToday = 0
		phone.LastResetDate = today
	}

	if phone.LastCodeSentAt != nil {
		nextAllowed := phone.LastCodeSentAt.Add(s.cfg.ResendCooldown)
		if now.Before(nextAllowed) {
			return &SendCodeResult{
				NextAllowedSendAt: nextAllowed,
				RemainingToday:    s.cfg.DailyLimit - phone.CodesSentToday,
			}, ErrResendCooldown
		}
	}

	result := s.db.WithContext(ctx).Model(&models.PhoneVerification{}).
		Where("id = ? AND codes_sent_today < ?", phone.ID, s.cfg.DailyLimit).
		Updates(map[string]any{
			"codes_sent_today":  gorm.Expr("codes_sent_today + 1"),
			"last_code_sent_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("twofactor service: increment counter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &SendCodeResult{
			NextAllowedSendAt: today.AddDate(0, 0, 1),
			RemainingToday:    0,
		}, ErrDailyLimitReached
	}

	code, err := crypto.GenerateNumericCode(s.cfg.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("twofactor service: generate code: %w", err)
	}
	codeHash, err := crypto.HashCode(code)
	if err != nil {
		return nil, fmt.Errorf("twofactor service: hash code: %w", err)
	}

	record := models.SMSCode{
		UserID:              phone.UserID,
		PhoneVerificationID: phone.ID,
		CodeHash:            codeHash,
		Purpose:             purpose,
		ExpiresAt:           now.Add(s.cfg.CodeTTL),
		MaxAttempts:         s.cfg.MaxAttempts,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("twofactor service: create code: %w", err)
	}

	if s.sender != nil {
		msg := sms.Message{To: phone.PhoneNumber, Body: sms.CodeMessage(code, s.cfg.CodeTTL)}
		if sendErr := s.sender.Send(ctx, msg); sendErr != nil && !errors.Is(sendErr, sms.ErrSMSDisabled) {
			if s.cfg.Strict {
				return nil, fmt.Errorf("%w: %v", ErrSMSDeliveryFailed, sendErr)
			}
			s.log.Warn("sms delivery failed, keeping code",
				zap.String("user_id", phone.UserID),
				zap.Error(sendErr))
		}
	}

	metrics.SMSCodesSent.WithLabelValues(string(purpose)).Inc()

	return &SendCodeResult{
		NextAllowedSendAt: now.Add(s.cfg.ResendCooldown),
		RemainingToday:    s.cfg.DailyLimit - phone.CodesSentToday - 1,
	}, nil
}

// VerifyCode checks a candidate against the newest live code for the purpose
// and consumes it atomically. A PHONE_VERIFY success also marks the phone
// verified.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string, purpose models.SMSPurpose) error {
	ctx = ensureContext(ctx)

	code = strings.TrimSpace(code)
	if code == "" {
		return ErrCodeInvalid
	}

	now := s.now()

	var record models.SMSCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ? AND is_used = ? AND expires_at > ?",
			userID, purpose, false, now).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCodeInvalid
		}
		return fmt.Errorf("twofactor service: find code: %w", err)
	}

	// Count the attempt before comparing so a crash cannot grant free tries.
	attempt := s.db.WithContext(ctx).Model(&models.SMSCode{}).
		Where("id = ? AND is_used = ? AND attempts < max_attempts", record.ID, false).
		Update("attempts", gorm.Expr("attempts + 1"))
	if attempt.Error != nil {
		return fmt.Errorf("twofactor service: count attempt: %w", attempt.Error)
	}
	if attempt.RowsAffected == 0 {
		return ErrCodeInvalid
	}

	if !crypto.VerifyCode(record.CodeHash, code) {
		return ErrCodeInvalid
	}

	consume := s.db.WithContext(ctx).Model(&models.SMSCode{}).
		Where("id = ? AND is_used = ?", record.ID, false).
		Updates(map[string]any{"is_used": true, "used_at": now})
	if consume.Error != nil {
		return fmt.Errorf("twofactor service: consume code: %w", consume.Error)
	}
	if consume.RowsAffected == 0 {
		return ErrCodeInvalid
	}

	if purpose == models.PurposePhoneVerify {
		if err := s.db.WithContext(ctx).Model(&models.PhoneVerification{}).
			Where("id = ?", record.PhoneVerificationID).
			Updates(map[string]any{"is_verified": true, "verified_at": now}).Error; err != nil {
			return fmt.Errorf("twofactor service: mark phone verified: %w", err)
		}
	}

	return nil
}

// Enable2FA turns on two-factor authentication; requires a verified phone.
func (s *TwoFactorService) Enable2FA(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	phone, err := s.phoneByUser(ctx, userID)
	if err != nil {
		return err
	}
	if !phone.IsVerified {
		return ErrPhoneNotVerified
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("two_factor_enabled", true).Error; err != nil {
		return fmt.Errorf("twofactor service: enable: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:       &userID,
		ActionType:   "twofactor.enabled",
		ResourceType: "phone_verification",
		ResourceID:   phone.ID,
	})
	return nil
}

// Enabled reports whether the user has two-factor authentication turned on.
func (s *TwoFactorService) Enabled(ctx context.Context, userID string) (bool, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("twofactor service: find user: %w", err)
	}
	return user.TwoFactorEnabled, nil
}

// Disable2FA turns off two-factor authentication.
func (s *TwoFactorService) Disable2FA(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("two_factor_enabled", false).Error; err != nil {
		return fmt.Errorf("twofactor service: disable: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:     &userID,
		ActionType: "twofactor.disabled",
	})
	return nil
}

// TwoFactorStatus is the client-facing view of a user's 2FA state. The phone
// number is masked and throttle state is expressed as an absolute instant.
type TwoFactorStatus struct {
	Enabled           bool       `json:"enabled"`
	PhoneRegistered   bool       `json:"phone_registered"`
	PhoneVerified     bool       `json:"phone_verified"`
	MaskedPhoneNumber string     `json:"masked_phone_number,omitempty"`
	CountryCode       string     `json:"country_code,omitempty"`
	RemainingToday    int        `json:"remaining_today"`
	NextAllowedSendAt *time.Time `json:"next_allowed_send_at,omitempty"`
}

// Status reports the 2FA state for a user.
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPhoneNotFound
		}
		return nil, fmt.Errorf("twofactor service: find user: %w", err)
	}

	status := &TwoFactorStatus{Enabled: user.TwoFactorEnabled}

	phone, err := s.phoneByUser(ctx, userID)
	if errors.Is(err, ErrPhoneNotFound) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	status.PhoneRegistered = true
	status.PhoneVerified = phone.IsVerified
	status.MaskedPhoneNumber = MaskPhoneNumber(phone.PhoneNumber)
	status.CountryCode = phone.CountryCode

	now := s.now()
	sentToday := phone.CodesSentToday
	if phone.LastResetDate.Before(startOfDay(now)) {
		sentToday = 0
	}
	status.RemainingToday = s.cfg.DailyLimit - sentToday
	if status.RemainingToday < 0 {
		status.RemainingToday = 0
	}

	if phone.LastCodeSentAt != nil {
		next := phone.LastCodeSentAt.Add(s.cfg.ResendCooldown)
		if now.Before(next) {
			status.NextAllowedSendAt = &next
		}
	}

	return status, nil
}

// CleanupExpiredCodes deletes codes past expiry plus a grace day.
func (s *TwoFactorService) CleanupExpiredCodes(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().Add(-24 * time.Hour)
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.SMSCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("twofactor service: cleanup codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *TwoFactorService) phoneByUser(ctx context.Context, userID string) (*models.PhoneVerification, error) {
	var phone models.PhoneVerification
	if err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPhoneNotFound
		}
		return nil, fmt.Errorf("twofactor service: find phone: %w", err)
	}
	return &phone, nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
