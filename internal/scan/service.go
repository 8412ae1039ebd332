package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrRunActive is returned when a run is requested while one is in flight.
var ErrRunActive = errors.New("a scan run is already active")

// Service serialises scan runs: one orchestrator execution inside one job
// guard at a time, whether triggered by the scheduler or over HTTP.
type Service struct {
	guard   *JobGuard
	orch    *Orchestrator
	logger  *zap.Logger
	running atomic.Bool
}

// NewService wires the guard around the orchestrator.
func NewService(guard *JobGuard, orch *Orchestrator, logger *zap.Logger) *Service {
	return &Service{guard: guard, orch: orch, logger: logger}
}

// Active reports whether a run is currently executing.
func (s *Service) Active() bool {
	return s.running.Load()
}

// RunOnce executes a single guarded scan run. Concurrent calls beyond the
// first get ErrRunActive.
func (s *Service) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunActive
	}
	defer s.running.Store(false)

	label := "scan-" + time.Now().UTC().Format("20060102-150405")
	return s.guard.Run(ctx, label, func(runCtx context.Context) error {
		_, err := s.orch.Run(runCtx)
		return err
	})
}
