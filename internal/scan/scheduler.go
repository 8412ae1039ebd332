package scan

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler kicks off a scan run on a fixed interval. One run's failure never
// prevents the next scheduled run.
type Scheduler struct {
	service  *Service
	logger   *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewScheduler builds the interval driver.
func NewScheduler(service *Service, logger *zap.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the loop, running once immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.kick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.kick(ctx)
			}
		}
	}()
}

// Stop halts scheduling. An in-flight run is unaffected.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) kick(ctx context.Context) {
	if err := s.service.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrRunActive) {
			s.logger.Warn("scheduled run skipped; previous run still active")
			return
		}
		s.logger.Error("scheduled run failed", zap.Error(err))
	}
}
