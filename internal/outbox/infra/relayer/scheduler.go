package relayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bennyboer/kicherkrabbe-sub008/internal/outbox/application"
)

// Scheduler runs the periodic outbox maintenance jobs: fallback drains,
// stale-failure detection, stale-lock recovery and acknowledged-entry
// cleanup. Each job ticks in its own goroutine, so one failing job never
// blocks the others.
type Scheduler struct {
	outbox *application.Outbox

	drainInterval        time.Duration
	staleFailureInterval time.Duration
	staleLockInterval    time.Duration
	cleanupInterval      time.Duration

	log *zap.Logger
}

func NewScheduler(
	outbox *application.Outbox,
	drainInterval time.Duration,
	staleFailureInterval time.Duration,
	staleLockInterval time.Duration,
	cleanupInterval time.Duration,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		outbox:               outbox,
		drainInterval:        drainInterval,
		staleFailureInterval: staleFailureInterval,
		staleLockInterval:    staleLockInterval,
		cleanupInterval:      cleanupInterval,
		log:                  log,
	}
}

// Run starts all jobs and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("outbox scheduler started",
		zap.Duration("drainInterval", s.drainInterval),
		zap.Duration("staleFailureInterval", s.staleFailureInterval),
		zap.Duration("staleLockInterval", s.staleLockInterval),
		zap.Duration("cleanupInterval", s.cleanupInterval))

	var wg sync.WaitGroup
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}{
		{"drain", s.drainInterval, s.drain},
		{"detect-stale-failures", s.staleFailureInterval, s.detectStaleFailures},
		{"unlock-stale-locks", s.staleLockInterval, s.unlockStaleLocks},
		{"cleanup-acknowledged", s.cleanupInterval, s.cleanupAcknowledged},
	}

	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tick(ctx, job.name, job.interval, job.run)
		}()
	}
	wg.Wait()
	s.log.Info("outbox scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context)) {
	s.log.Debug("outbox job scheduled", zap.String("job", name), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	if err := s.outbox.Drain(ctx); err != nil {
		s.log.Warn("scheduled drain failed", zap.Error(err))
	}
}

// detectStaleFailures surfaces entries that failed terminally and have
// been sitting for longer than the alerting threshold. They are never
// resolved automatically: an operator has to look at them.
func (s *Scheduler) detectStaleFailures(ctx context.Context) {
	entries, err := s.outbox.FindStaleFailedEntries(ctx)
	if err != nil {
		s.log.Warn("finding stale failed outbox entries failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID.String())
	}
	s.log.Error("outbox entries failed permanently and require manual intervention",
		zap.Int("count", len(entries)),
		zap.Strings("ids", ids))
}

func (s *Scheduler) unlockStaleLocks(ctx context.Context) {
	unlocked, err := s.outbox.UnlockStaleEntries(ctx)
	if err != nil {
		s.log.Warn("unlocking stale outbox entries failed", zap.Error(err))
		return
	}
	if unlocked > 0 {
		s.log.Info("recovered stale outbox locks", zap.Int64("entries", unlocked))
	}
}

func (s *Scheduler) cleanupAcknowledged(ctx context.Context) {
	deleted, err := s.outbox.CleanupOldAcknowledgedEntries(ctx)
	if err != nil {
		s.log.Warn("cleaning up acknowledged outbox entries failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.log.Info("purged old acknowledged outbox entries", zap.Int64("entries", deleted))
	}
}
