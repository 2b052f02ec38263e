package license

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"cal-edge/internal/config"
)

// Scheduler purges expired cache entries on a cron schedule.
type Scheduler struct {
	cache    *Cache
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a purge scheduler for cfg.License.PurgeSchedule.
func NewScheduler(cfg *config.Config, cache *Cache, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cache:    cache,
		schedule: cfg.License.PurgeSchedule,
		cron:     cron.New(),
		logger:   logger.With("component", "license.scheduler"),
	}
}

// Start registers the purge job and starts the cron runner. An empty schedule disables it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("purge schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("license: invalid purge schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, s.purge); err != nil {
		return fmt.Errorf("license: schedule purge: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("license cache purge scheduled", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) purge() {
	if n := s.cache.Purge(); n > 0 {
		s.logger.Info("purged expired license cache entries", "removed", n)
	} else {
		s.logger.Debug("license cache purge found nothing to remove")
	}
}

// Stop halts the runner and waits for a running purge to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("license cache purge stopped")
}

// IsRunning reports whether the cron runner is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
