package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lcourbet/promogate/internal/services"
	"github.com/lcourbet/promogate/pkg/logger"
)

const (
	defaultSchedule          = "@hourly"
	defaultActivityRetention = 90 * 24 * time.Hour
)

// Cleaner coordinates the background sweeps: expiring stale invitations and
// KYC approvals, purging used SMS codes, dropping dead sessions and trimming
// the activity trail.
type Cleaner struct {
	invitations *services.InvitationService
	twofactor   *services.TwoFactorService
	kyc         *services.KYCService
	sessions    *services.SessionService
	activity    *services.ActivityService

	cron      *cron.Cron
	log       *zap.Logger
	schedule  string
	retention time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification shared by all sweeps.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithActivityRetention adjusts how long activity records are kept.
func WithActivityRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(
	invitations *services.InvitationService,
	twofactor *services.TwoFactorService,
	kyc *services.KYCService,
	sessions *services.SessionService,
	activity *services.ActivityService,
	opts ...Option,
) *Cleaner {
	cleaner := &Cleaner{
		invitations: invitations,
		twofactor:   twofactor,
		kyc:         kyc,
		sessions:    sessions,
		activity:    activity,
		schedule:    defaultSchedule,
		retention:   defaultActivityRetention,
		log:         logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the sweep with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Individual failures do
// not stop the remaining sweeps; the combined error is returned.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.invitations != nil {
		if count, err := c.invitations.MarkExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		} else if count > 0 {
			c.log.Info("expired invitations", zap.Int64("count", count))
		}
	}

	if c.twofactor != nil {
		if _, err := c.twofactor.CleanupExpiredCodes(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.kyc != nil {
		if count, err := c.kyc.MarkExpiredApprovals(ctx); err != nil {
			errs = multierr.Append(errs, err)
		} else if count > 0 {
			c.log.Info("expired kyc approvals", zap.Int64("count", count))
		}
	}

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.activity != nil && c.retention > 0 {
		if _, err := c.activity.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
