package scan

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fundscan/internal/monitoring"
)

// ReaperStore marks stale running jobs failed. The reaper gets its own small
// connection pool for the same starvation-avoidance reason as the job guard.
type ReaperStore interface {
	ReapStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Reaper is the backstop for process death with no handler run: a
// continuously running loop, decoupled from any job's lifetime, that fails
// jobs whose heartbeat has gone stale.
type Reaper struct {
	store      ReaperStore
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReaper builds the stuck-job reaper.
func NewReaper(store ReaperStore, m *monitoring.Metrics, logger *zap.Logger, interval, staleAfter time.Duration) *Reaper {
	return &Reaper{
		store:      store,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a restart
// right after a crash does not wait a full interval to clear the dead job.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.sweep(ctx)
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to return.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// sweep runs one check. A failed iteration is logged and the loop continues
// on the next interval; re-running after jobs were already reaped is a no-op.
func (r *Reaper) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reaped, err := r.store.ReapStale(sctx, r.staleAfter)
	if err != nil {
		r.logger.Error("stuck-job sweep failed", zap.Error(err))
		return
	}
	if reaped > 0 {
		r.metrics.JobsReaped.Add(float64(reaped))
		r.logger.Warn("reaped stuck jobs",
			zap.Int64("count", reaped),
			zap.Duration("stale_after", r.staleAfter))
	}
}
