package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/clinicauth/pkg/logger"
)

const (
	defaultSessionSpec = "@hourly"
	defaultCacheSpec   = "@every 10m"
)

// SessionPurger removes refresh sessions past their expiry. Implemented by auth.SessionService.
type SessionPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CachePurger removes expired cache rows. Implemented by cache.DatabaseStore.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner runs housekeeping on a cron schedule. It never touches access codes
// or audit rows; their expiry is evaluated when they are read.
type Cleaner struct {
	sessions SessionPurger
	cache    CachePurger
	cron     *cron.Cron
	log      *zap.Logger
	started  bool

	sessionSchedule string
	cacheSchedule   string
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

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil dependency skips its job.
func NewCleaner(sessions SessionPurger, cache CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		cache:           cache,
		sessionSchedule: defaultSessionSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.cache == nil {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			c.purge("sessions", c.sessions.CleanupExpired)
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			c.purge("cache", c.cache.PurgeExpired)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	c.started = true
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil || !c.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	c.started = false
	return c.cron.Stop()
}

// RunOnce executes every configured cleanup sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) purge(job string, run func(context.Context) (int64, error)) {
	removed, err := run(context.Background())
	if err != nil {
		c.log.Warn("cleanup failed", zap.String("job", job), zap.Error(err))
		return
	}
	if removed > 0 {
		c.log.Debug("cleanup complete", zap.String("job", job), zap.Int64("removed", removed))
	}
}
