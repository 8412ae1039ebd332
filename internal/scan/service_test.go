package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fundscan/internal/domain"
	"fundscan/internal/monitoring"
)

type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Fetch(ctx context.Context) ([]domain.NormalizedItem, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func newTestService(reg *Registry) *Service {
	logger := zap.NewNop()
	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	guard := NewJobGuard(newFakeJobStore(), monitoring.NewMetrics(), logger, time.Hour)
	return NewService(guard, orch, logger)
}

func TestServiceSingleFlight(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	reg := NewRegistry()
	reg.Register(src, SourceTraits{})
	svc := newTestService(reg)

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = svc.RunOnce(context.Background())
	}()

	// Wait for the first run to occupy the slot.
	require.Eventually(t, svc.Active, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, svc.RunOnce(context.Background()), ErrRunActive)

	close(src.release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, svc.Active())
}

func TestServiceRunsAgainAfterCompletion(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "quiet"}, SourceTraits{})
	svc := newTestService(reg)

	require.NoError(t, svc.RunOnce(context.Background()))
	require.NoError(t, svc.RunOnce(context.Background()))
}
