package service

import (
	"context"
	"sync"
	"time"

	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// AlertScheduler runs the alert sweep and the daily digest periodically.
type AlertScheduler struct {
	engine         *AlertSweepEngine
	sweepInterval  time.Duration
	digestInterval time.Duration
	logger         *logger.Logger
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewAlertScheduler creates a new alert scheduler
func NewAlertScheduler(engine *AlertSweepEngine, sweepInterval, digestInterval time.Duration, log *logger.Logger) *AlertScheduler {
	return &AlertScheduler{
		engine:         engine,
		sweepInterval:  sweepInterval,
		digestInterval: digestInterval,
		logger:         log.WithComponent("alert_scheduler"),
	}
}

// Start starts the sweep and digest loops in background goroutines. Both run
// once immediately. The digest dedupe key keeps it at most once per user per
// day however often it ticks.
func (s *AlertScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info().
		Dur("sweep_interval", s.sweepInterval).
		Dur("digest_interval", s.digestInterval).
		Msg("alert scheduler started")

	s.loop(ctx, "sweep", s.sweepInterval, func(ctx context.Context) error {
		_, err := s.engine.Run(ctx)
		return err
	})
	s.loop(ctx, "digest", s.digestInterval, func(ctx context.Context) error {
		_, err := s.engine.SendDailyDigest(ctx)
		return err
	})
}

// Stop stops both loops and waits for an in-flight run to finish.
func (s *AlertScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("alert scheduler stopped")
}

func (s *AlertScheduler) loop(ctx context.Context, job string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		s.logger.Warn().Str("job", job).Msg("non-positive interval, job disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.runOnce(ctx, job, run)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx, job, run)
			}
		}
	}()
}

func (s *AlertScheduler) runOnce(ctx context.Context, job string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("scheduled job failed")
	}
}
