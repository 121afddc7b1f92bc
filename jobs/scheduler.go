package jobs

import (
	"context"
	"fmt"
	"time"

	"binder-oauth/metrics"
	"binder-oauth/store"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// TokenPurger removes spent authorization codes and dead access tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (store.PurgeResult, error)
}

// SessionSweeper removes abandoned and expired repository sessions.
type SessionSweeper interface {
	DeleteStaleSessions(ctx context.Context, ttl time.Duration) (int64, error)
	DeleteExpiredTokens(ctx context.Context) (int64, error)
}

// Config controls the cleanup schedule.
type Config struct {
	PurgeInterval time.Duration
	SweepInterval time.Duration
	// SessionTTL is how long a repository session may wait for its token.
	SessionTTL time.Duration
}

// Scheduler runs periodic cleanup of the OAuth and repository tables.
type Scheduler struct {
	scheduler gocron.Scheduler
	purger    TokenPurger
	sweeper   SessionSweeper
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewScheduler creates a Scheduler with its jobs registered. Either of
// purger and sweeper may be nil.
func NewScheduler(purger TokenPurger, sweeper SessionSweeper, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if purger != nil && cfg.PurgeInterval <= 0 {
		return nil, fmt.Errorf("purge interval must be positive, got %s", cfg.PurgeInterval)
	}
	if sweeper != nil && cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.SweepInterval)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s := &Scheduler{
		scheduler: scheduler,
		purger:    purger,
		sweeper:   sweeper,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}

	if purger != nil {
		if _, err := scheduler.NewJob(
			gocron.DurationJob(cfg.PurgeInterval),
			gocron.NewTask(s.purgeTokens, context.Background()),
			gocron.WithName("oauth-purge"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register oauth purge job: %w", err)
		}
	}
	if sweeper != nil {
		if _, err := scheduler.NewJob(
			gocron.DurationJob(cfg.SweepInterval),
			gocron.NewTask(s.sweepSessions, context.Background()),
			gocron.WithName("repo-session-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, fmt.Errorf("register repo session job: %w", err)
		}
	}
	logger.Info("Registered cleanup jobs", zap.Int("jobs", len(scheduler.Jobs())))
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cleanup scheduler")
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	s.logger.Info("Stopping cleanup scheduler")
	return s.scheduler.Shutdown()
}

// RunOnce runs every cleanup immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.purger != nil {
		if err := s.purgeTokens(ctx); err != nil {
			return err
		}
	}
	if s.sweeper != nil {
		return s.sweepSessions(ctx)
	}
	return nil
}

func (s *Scheduler) purgeTokens(ctx context.Context) error {
	result, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to purge expired OAuth rows", zap.Error(err))
		return err
	}
	if result.Codes > 0 || result.Tokens > 0 {
		s.logger.Info("Purged expired OAuth rows", zap.Int64("codes", result.Codes), zap.Int64("tokens", result.Tokens))
	}
	return nil
}

func (s *Scheduler) sweepSessions(ctx context.Context) error {
	stale, err := s.sweeper.DeleteStaleSessions(ctx, s.cfg.SessionTTL)
	if err != nil {
		s.logger.Error("Failed to delete stale repository sessions", zap.Error(err))
		return err
	}
	expired, err := s.sweeper.DeleteExpiredTokens(ctx)
	if err != nil {
		s.logger.Error("Failed to delete expired repository tokens", zap.Error(err))
		return err
	}
	s.metrics.Purged("repo_sessions", stale+expired)
	if stale > 0 || expired > 0 {
		s.logger.Info("Swept repository sessions", zap.Int64("stale", stale), zap.Int64("expired", expired))
	}
	return nil
}
