package scan

import (
	"context"
	"math/rand"
	"time"
)

// retryCfg bounds a retried operation: attempts caps total tries, base is the
// first sleep, each retry doubles it, and up to 25% jitter is added so
// concurrent retriers do not align.
type retryCfg struct {
	attempts int
	base     time.Duration
}

// withRetry runs fn up to cfg.attempts times, sleeping with exponential
// backoff and jitter between tries. The last error is returned when every
// attempt fails. retryable decides which errors are worth another try; a nil
// retryable retries everything.
func withRetry(ctx context.Context, cfg retryCfg, retryable func(error) bool, fn func() error) error {
	var err error
	delay := cfg.base
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= cfg.attempts {
			return err
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}
