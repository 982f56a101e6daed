package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lcourbet/promogate/internal/models"
	"github.com/lcourbet/promogate/pkg/metrics"
)

const defaultStepUpWindow = 15 * time.Minute

var (
	// ErrChallengeNotFound indicates the challenge id is unknown or expired.
	ErrChallengeNotFound = errors.New("stepup: challenge not found or expired")
)

// StepUpAction is the deferred operation guarded by a step-up challenge. It
// runs at most once: either immediately when the session holds a fresh
// verification, or after the challenge code is confirmed.
type StepUpAction func(ctx context.Context) error

// StepUpChallenge describes a pending re-verification the client must satisfy.
type StepUpChallenge struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// StepUpResult reports how a guarded action was handled.
type StepUpResult struct {
	Executed  bool             `json:"executed"`
	Challenge *StepUpChallenge `json:"challenge,omitempty"`
}

type pendingStepUp struct {
	userID    string
	sessionID string
	action    StepUpAction
	expiresAt time.Time
}

// StepUpOption customises StepUpService behaviour.
type StepUpOption func(*StepUpService)

// WithStepUpWindow overrides how long a verification stays fresh.
func WithStepUpWindow(d time.Duration) StepUpOption {
	return func(s *StepUpService) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithStepUpClock injects a custom clock primarily for testing.
func WithStepUpClock(clock func() time.Time) StepUpOption {
	return func(s *StepUpService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// StepUpService brokers sensitive actions behind SMS re-verification. Pending
// actions are held in process; a restart discards them, which only means the
// client re-initiates the action.
type StepUpService struct {
	twofactor *TwoFactorService
	sessions  *SessionService
	window    time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]pendingStepUp
}

// NewStepUpService constructs a StepUpService with the provided dependencies.
func NewStepUpService(twofactor *TwoFactorService, sessions *SessionService, opts ...StepUpOption) (*StepUpService, error) {
	if twofactor == nil {
		return nil, errors.New("stepup service: twofactor service is required")
	}
	if sessions == nil {
		return nil, errors.New("stepup service: session service is required")
	}

	service := &StepUpService{
		twofactor: twofactor,
		sessions:  sessions,
		window:    defaultStepUpWindow,
		now:       time.Now,
		pending:   make(map[string]pendingStepUp),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Require runs the action immediately when the user has 2FA disabled or the
// session holds a verification inside the freshness window; otherwise it
// sends a TRANSACTION code and parks the action behind a challenge bounded by
// the code's lifetime.
func (s *StepUpService) Require(ctx context.Context, sessionID, userID, description string, action StepUpAction) (*StepUpResult, error) {
	ctx = ensureContext(ctx)

	if action == nil {
		return nil, errors.New("stepup service: action is required")
	}

	session, err := s.sessions.ByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active(s.now()) {
		return nil, ErrSessionExpired
	}

	enabled, err := s.twofactor.Enabled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !enabled {
		if err := action(ctx); err != nil {
			return nil, err
		}
		metrics.StepUpChallenges.WithLabelValues("bypassed").Inc()
		return &StepUpResult{Executed: true}, nil
	}

	if s.sessions.StepUpFresh(session, s.window) {
		if err := action(ctx); err != nil {
			return nil, err
		}
		metrics.StepUpChallenges.WithLabelValues("cached").Inc()
		return &StepUpResult{Executed: true}, nil
	}

	// A cooldown means a live code already exists; the challenge reuses it.
	if _, err := s.twofactor.SendCode(ctx, userID, models.PurposeTransaction); err != nil && !errors.Is(err, ErrResendCooldown) {
		return nil, err
	}

	challenge := StepUpChallenge{
		ID:          uuid.NewString(),
		Description: description,
		ExpiresAt:   s.now().Add(s.twofactor.cfg.CodeTTL),
	}

	s.mu.Lock()
	s.evictExpiredLocked()
	s.pending[challenge.ID] = pendingStepUp{
		userID:    userID,
		sessionID: sessionID,
		action:    action,
		expiresAt: challenge.ExpiresAt,
	}
	s.mu.Unlock()

	metrics.StepUpChallenges.WithLabelValues("challenged").Inc()
	return &StepUpResult{Challenge: &challenge}, nil
}

// Complete verifies the TRANSACTION code, stamps the session and executes the
// parked action exactly once. The challenge is removed before execution so a
// concurrent Complete cannot run it twice.
func (s *StepUpService) Complete(ctx context.Context, challengeID, userID, code string) error {
	ctx = ensureContext(ctx)

	s.mu.Lock()
	entry, ok := s.pending[challengeID]
	if ok && (entry.userID != userID || !s.now().Before(entry.expiresAt)) {
		delete(s.pending, challengeID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		metrics.StepUpChallenges.WithLabelValues("expired").Inc()
		return ErrChallengeNotFound
	}

	if err := s.twofactor.VerifyCode(ctx, userID, code, models.PurposeTransaction); err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok = s.pending[challengeID]
	if ok {
		delete(s.pending, challengeID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrChallengeNotFound
	}

	if err := s.sessions.MarkStepUpVerified(ctx, entry.sessionID); err != nil {
		return fmt.Errorf("stepup service: mark session: %w", err)
	}

	if err := entry.action(ctx); err != nil {
		return err
	}

	metrics.StepUpChallenges.WithLabelValues("completed").Inc()
	return nil
}

// Cancel discards a pending challenge; the parked action never runs.
func (s *StepUpService) Cancel(ctx context.Context, challengeID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[challengeID]
	if !ok || entry.userID != userID {
		return ErrChallengeNotFound
	}
	delete(s.pending, challengeID)

	metrics.StepUpChallenges.WithLabelValues("cancelled").Inc()
	return nil
}

// Window exposes the configured freshness window.
func (s *StepUpService) Window() time.Duration {
	return s.window
}

// evictExpiredLocked drops challenges past expiry. Caller holds the mutex.
func (s *StepUpService) evictExpiredLocked() {
	now := s.now()
	for id, entry := range s.pending {
		if !now.Before(entry.expiresAt) {
			delete(s.pending, id)
		}
	}
}
