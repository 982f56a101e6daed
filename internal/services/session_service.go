package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/crypto"
	"github.com/lcourbet/promogate/pkg/metrics"
)

const (
	defaultSessionTTL         = 30 * 24 * time.Hour
	defaultSessionTokenLength = 32
)

var (
	// ErrSessionNotFound indicates no session matches the token or id.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionExpired indicates the session is past its expiry instant.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionRevoked indicates the session was permanently revoked.
	ErrSessionRevoked = errors.New("session: revoked")
)

// SessionOption customises SessionService behaviour.
type SessionOption func(*SessionService)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(d time.Duration) SessionOption {
	return func(s *SessionService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSessionTokenLength adjusts the random token length in bytes.
func WithSessionTokenLength(length int) SessionOption {
	return func(s *SessionService) {
		if length > 0 {
			s.tokenLength = length
		}
	}
}

// WithSessionClock injects a custom clock primarily for testing.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// SessionService manages server-side stakeholder sessions. Raw tokens are
// returned exactly once at creation; only digests are stored.
type SessionService struct {
	db          *gorm.DB
	ttl         time.Duration
	tokenLength int
	now         func() time.Time
}

// NewSessionService constructs a SessionService with the provided dependencies.
func NewSessionService(db *gorm.DB, opts ...SessionOption) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	service := &SessionService{
		db:          db,
		ttl:         defaultSessionTTL,
		tokenLength: defaultSessionTokenLength,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateSessionInput carries request metadata recorded on the session.
type CreateSessionInput struct {
	UserID     string
	IPAddress  string
	UserAgent  string
	DeviceInfo map[string]string
}

// Create opens a session and returns it with the raw token.
func (s *SessionService) Create(ctx context.Context, input CreateSessionInput) (*models.StakeholderSession, string, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, "", errors.New("session service: user id is required")
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()
	session := models.StakeholderSession{
		UserID:           userID,
		SessionTokenHash: crypto.HashToken(rawToken),
		IPAddress:        strings.TrimSpace(input.IPAddress),
		UserAgent:        strings.TrimSpace(input.UserAgent),
		ExpiresAt:        now.Add(s.ttl),
		LastUsedAt:       now,
	}

	if len(input.DeviceInfo) > 0 {
		encoded, err := json.Marshal(input.DeviceInfo)
		if err != nil {
			return nil, "", fmt.Errorf("session service: encode device info: %w", err)
		}
		session.DeviceInfo = encoded
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, "", fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()
	return &session, rawToken, nil
}

// Validate resolves a raw token to its active session and touches it.
func (s *SessionService) Validate(ctx context.Context, rawToken string) (*models.StakeholderSession, error) {
	ctx = ensureContext(ctx)

	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrSessionNotFound
	}

	var session models.StakeholderSession
	if err := s.db.WithContext(ctx).
		Where("session_token_hash = ?", crypto.HashToken(rawToken)).
		First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	if err := s.db.WithContext(ctx).Model(&session).
		Update("last_used_at", now).Error; err != nil {
		return nil, fmt.Errorf("session service: touch session: %w", err)
	}
	session.LastUsedAt = now

	return &session, nil
}

// ByID fetches a session regardless of state.
func (s *SessionService) ByID(ctx context.Context, id string) (*models.StakeholderSession, error) {
	ctx = ensureContext(ctx)

	var session models.StakeholderSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", strings.TrimSpace(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session service: find session: %w", err)
	}
	return &session, nil
}

// MarkStepUpVerified stamps a fresh step-up verification on an active session.
func (s *SessionService) MarkStepUpVerified(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.StakeholderSession{}).
		Where("id = ? AND revoked_at IS NULL AND expires_at > ?", sessionID, now).
		Update("step_up_verified_at", now)
	if result.Error != nil {
		return fmt.Errorf("session service: mark step-up: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// StepUpFresh reports whether the session carries a step-up verification
// within the window, and the instant it was granted.
func (s *SessionService) StepUpFresh(session *models.StakeholderSession, window time.Duration) bool {
	if session == nil || session.StepUpVerifiedAt == nil {
		return false
	}
	return s.now().Sub(*session.StepUpVerifiedAt) < window
}

// Revoke permanently invalidates a session. Revocation cannot be undone.
func (s *SessionService) Revoke(ctx context.Context, sessionID, reason string) error {
	ctx = ensureContext(ctx)

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.StakeholderSession{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": strings.TrimSpace(reason),
		})
	if result.Error != nil {
		return fmt.Errorf("session service: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.ByID(ctx, sessionID); err != nil {
			return err
		}
		return ErrSessionRevoked
	}

	metrics.ActiveSessions.Dec()
	return nil
}

// RevokeAllExcept revokes every active session of a user except the one
// identified by keepID. Used for "sign out everywhere else".
func (s *SessionService) RevokeAllExcept(ctx context.Context, userID, keepID, reason string) (int64, error) {
	ctx = ensureContext(ctx)

	now := s.now()
	query := s.db.WithContext(ctx).Model(&models.StakeholderSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID)
	if keepID != "" {
		query = query.Where("id <> ?", keepID)
	}

	result := query.Updates(map[string]any{
		"revoked_at":     now,
		"revoked_reason": strings.TrimSpace(reason),
	})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke all: %w", result.Error)
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return result.RowsAffected, nil
}

// ListActive returns the live sessions of a user, most recently used first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]models.StakeholderSession, error) {
	ctx = ensureContext(ctx)

	var sessions []models.StakeholderSession
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, s.now()).
		Order("last_used_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list active: %w", err)
	}
	return sessions, nil
}

// CleanupExpired deletes sessions that expired or were revoked more than a
// day ago.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().Add(-24 * time.Hour)
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Delete(&models.StakeholderSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
