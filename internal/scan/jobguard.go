package scan

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundscan/internal/domain"
	"fundscan/internal/monitoring"
)

// JobStore is the job-record surface the guard writes through. Production
// wiring hands the guard its own small connection pool, isolated from the
// orchestrator's, so liveness writes survive a saturated main pool.
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ScanJob) error
	Heartbeat(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID, status, errMsg string) (bool, error)
}

// jobWriteRetry bounds every job-record write. Exhausted retries are logged
// at the highest severity and swallowed: the guard never crashes the run it
// is protecting.
var jobWriteRetry = retryCfg{attempts: 4, base: 500 * time.Millisecond}

// JobGuard wraps one orchestrator run with durable liveness reporting:
// an initial heartbeat on entry, periodic heartbeats while running, and a
// terminal status write on every exit path, including signals and panics.
type JobGuard struct {
	store     JobStore
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewJobGuard builds a guard writing through the given (dedicated) store.
func NewJobGuard(store JobStore, m *monitoring.Metrics, logger *zap.Logger, heartbeat time.Duration) *JobGuard {
	return &JobGuard{store: store, metrics: m, logger: logger, heartbeat: heartbeat}
}

// guardRun is the per-run state; the finished flag plus the SQL-side
// status='running' predicate make the terminal transition idempotent.
type guardRun struct {
	guard *JobGuard
	job   *domain.ScanJob

	mu       sync.Mutex
	finished bool
}

// Run executes fn inside the guard. The context handed to fn is cancelled on
// SIGINT/SIGTERM; in-flight work is abandoned, not awaited, which is safe
// because nothing counts as done until storage acknowledged it. Run returns
// fn's error (a recovered panic surfaces as an error).
func (g *JobGuard) Run(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	r := &guardRun{
		guard: g,
		job:   &domain.ScanJob{ID: uuid.NewString(), Label: label},
	}

	if err := r.write(ctx, func(wctx context.Context) error {
		return g.store.CreateJob(wctx, r.job)
	}); err != nil {
		// The run proceeds uninstrumented rather than not at all; the reaper
		// has nothing to watch, but the work itself is unaffected.
		g.logger.Error("job guard could not create job record; run continues unguarded",
			zap.String("label", label), zap.Error(err))
	}
	g.logger.Info("job started", zap.String("job_id", r.job.ID), zap.String("label", label))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)

	go r.heartbeatLoop(ctx, done)
	go func() {
		select {
		case sig := <-sigCh:
			// Terminal record first, then ask the run to stop. The run may
			// outlive this briefly; the record is already correct.
			r.finish(context.Background(), domain.JobFailed,
				fmt.Sprintf("terminated by signal %s", sig))
			cancel()
		case <-done:
		}
	}()

	err := runRecovered(runCtx, fn)

	// Terminal status on every exit path. If the signal path already finished
	// the job, these are no-ops in both the flag and the database.
	if err != nil {
		r.finish(ctx, domain.JobFailed, err.Error())
	} else {
		r.finish(ctx, domain.JobSucceeded, "")
	}
	return err
}

// runRecovered keeps an unhandled fault in fn from escaping the guard.
func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("scan run panicked: %v", rec)
		}
	}()
	if fn == nil {
		// Guarded block exited without ever running; treated as a failure,
		// not silently ignored.
		return fmt.Errorf("guarded run exited without completing")
	}
	return fn(ctx)
}

func (r *guardRun) heartbeatLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(r.guard.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.write(ctx, func(wctx context.Context) error {
				return r.guard.store.Heartbeat(wctx, r.job.ID)
			}); err != nil {
				r.guard.metrics.HeartbeatFailures.Inc()
				r.guard.logger.Error("heartbeat write failed after retries; job may appear stuck",
					zap.String("job_id", r.job.ID), zap.Error(err))
			}
		}
	}
}

// finish performs the idempotent terminal transition. Errors are logged at
// the highest severity and never raised.
func (r *guardRun) finish(ctx context.Context, status, msg string) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.mu.Unlock()

	// The terminal write must go through even when the surrounding run was
	// cancelled, so it runs on a detached context.
	ctx = context.WithoutCancel(ctx)

	var transitioned bool
	err := r.write(ctx, func(wctx context.Context) error {
		var werr error
		transitioned, werr = r.guard.store.FinishJob(wctx, r.job.ID, status, msg)
		return werr
	})
	if err != nil {
		r.guard.metrics.HeartbeatFailures.Inc()
		r.guard.logger.Error("terminal status write failed after retries; job may appear stuck",
			zap.String("job_id", r.job.ID), zap.String("status", status), zap.Error(err))
		return
	}
	if !transitioned {
		// Someone else (signal path, or the reaper) already closed this job.
		r.guard.logger.Warn("job already in terminal state",
			zap.String("job_id", r.job.ID), zap.String("attempted_status", status))
		return
	}
	r.guard.logger.Info("job finished",
		zap.String("job_id", r.job.ID), zap.String("status", status))
}

// write wraps a job-record write in the bounded-retry policy. Each attempt
// gets its own short timeout so a wedged connection cannot stall the guard.
func (r *guardRun) write(ctx context.Context, op func(ctx context.Context) error) error {
	return withRetry(ctx, jobWriteRetry, nil, func() error {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return op(wctx)
	})
}
