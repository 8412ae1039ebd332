package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fundscan/internal/config"
	"fundscan/internal/domain"
	"fundscan/internal/monitoring"
)

func testCfg() *config.Config {
	return &config.Config{
		SourceWorkers:            2,
		ItemWorkers:              2,
		SourceTimeoutMinutes:     1,
		SourceMaxRetries:         3,
		SourceBackoffSeconds:     0,
		ItemTimeoutSeconds:       5,
		ItemDelayMillis:          0,
		ConfidenceThreshold:      0.7,
		ShortConfidenceThreshold: 0.55,
		NotifyMinUSD:             10_000_000,
	}
}

type fakeSource struct {
	name  string
	items []domain.NormalizedItem

	mu       sync.Mutex
	attempts int
	errs     []error // error per attempt; nil entry or exhaustion means success
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context) ([]domain.NormalizedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= len(f.errs) && f.errs[f.attempts-1] != nil {
		return nil, f.errs[f.attempts-1]
	}
	return f.items, nil
}

type fakeItemStore struct {
	existing map[string]bool
}

func (f *fakeItemStore) ExistingSourceURLs(_ context.Context, urls []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, u := range urls {
		if f.existing[u] {
			out[u] = true
		}
	}
	return out, nil
}

type passCache struct {
	resets int
}

func (p *passCache) Reset() { p.resets++ }

func (p *passCache) BatchCheck(_ context.Context, items []domain.NormalizedItem) ([]domain.NormalizedItem, int, error) {
	return items, 0, nil
}

// fakeExtractor derives a candidate from markers embedded in the item text.
type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, item domain.NormalizedItem) (*domain.DealCandidate, error) {
	switch {
	case strings.Contains(item.Text, "EXTRACT_FAIL"):
		return nil, errors.New("model unavailable")
	case strings.Contains(item.Text, "NOT_EVENT"):
		return &domain.DealCandidate{IsFundingEvent: false, Confidence: 0.9}, nil
	case strings.Contains(item.Text, "PLACEHOLDER"):
		return &domain.DealCandidate{Company: "unnamed startup", IsFundingEvent: true, Confidence: 0.9}, nil
	case strings.Contains(item.Text, "LOWCONF"):
		return &domain.DealCandidate{Company: "Lowco", Category: "seed", IsFundingEvent: true, Confidence: 0.6}, nil
	default:
		return &domain.DealCandidate{
			Company:        "Good Co " + item.SourceID,
			Category:       "seed",
			AmountUSD:      5_000_000,
			IsFundingEvent: true,
			Confidence:     0.95,
		}, nil
	}
}

type fakeInserter struct {
	mu        sync.Mutex
	nextID    int64
	seen      map[string]int64
	failEvery bool
}

func (f *fakeInserter) Insert(_ context.Context, deal *domain.Deal) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvery {
		return 0, false, errors.New("storage down")
	}
	if f.seen == nil {
		f.seen = map[string]int64{}
	}
	if id, ok := f.seen[deal.Company]; ok {
		return id, false, nil
	}
	f.nextID++
	f.seen[deal.Company] = f.nextID
	deal.ID = f.nextID
	return f.nextID, true, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	deals []*domain.Deal
	err   error
}

func (f *fakeNotifier) NotifyDeal(_ context.Context, deal *domain.Deal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deals = append(f.deals, deal)
	return f.err
}

func newTestOrchestrator(cfg *config.Config, reg *Registry, store ItemStore, cache SeenTextCache, ins DealInserter, notifier Notifier) *Orchestrator {
	return NewOrchestrator(cfg, reg, store, cache, ins, fakeExtractor{}, notifier,
		monitoring.NewMetrics(), zap.NewNop())
}

func textItem(tag, id, text string) domain.NormalizedItem {
	return domain.NormalizedItem{
		Text:      text,
		URL:       fmt.Sprintf("https://%s.example/%s", tag, id),
		SourceTag: tag,
		SourceID:  id,
	}
}

func TestRunAggregatesOutcomes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "s1", items: []domain.NormalizedItem{
		textItem("s1", "1", "fresh funding news"),
		textItem("s1", "2", "NOT_EVENT coverage"),
		textItem("s1", "3", "EXTRACT_FAIL content"),
		textItem("s1", "4", "PLACEHOLDER round"),
	}}, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.ItemsFetched)
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
	assert.Equal(t, 1, stats.Outcomes[domain.StatusNotFundingEvent])
	assert.Equal(t, 1, stats.Outcomes[domain.StatusExtractionFailed])
	assert.Equal(t, 1, stats.Outcomes[domain.StatusInvalidSubject])
}

func TestSourceFailureNeverAbortsRun(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{
		name: "broken",
		errs: []error{errors.New("410 gone"), errors.New("410 gone"), errors.New("410 gone")},
	}, SourceTraits{})
	reg.Register(&fakeSource{name: "healthy", items: []domain.NormalizedItem{
		textItem("healthy", "1", "fresh funding news"),
	}}, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SourcesFailed)
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
}

func TestSourcePermanentErrorNotRetried(t *testing.T) {
	src := &fakeSource{name: "permanent", errs: []error{errors.New("400 bad request")}}
	reg := NewRegistry()
	reg.Register(src, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.attempts)
	assert.Equal(t, 1, stats.SourcesFailed)
}

func TestSourceTransientErrorRetried(t *testing.T) {
	transient := fmt.Errorf("feed returned 503: %w", ErrTransient)
	src := &fakeSource{
		name: "flaky",
		errs: []error{transient, transient},
		items: []domain.NormalizedItem{
			textItem("flaky", "1", "fresh funding news"),
		},
	}
	reg := NewRegistry()
	reg.Register(src, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, src.attempts)
	assert.Zero(t, stats.SourcesFailed)
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
}

func TestZeroItemSourceIsSuccessButCounted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "quiet"}, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.SourcesFailed)
	assert.Equal(t, 1, stats.SourcesEmpty)
}

func TestURLPrefilterSkipsStoredItems(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "s1", items: []domain.NormalizedItem{
		textItem("s1", "old", "previously processed"),
		textItem("s1", "new", "fresh funding news"),
	}}, SourceTraits{})

	store := &fakeItemStore{existing: map[string]bool{"https://s1.example/old": true}}
	orch := newTestOrchestrator(testCfg(), reg, store, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ItemsPrefiltered)
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
}

func TestCacheResetOncePerRun(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "a", items: []domain.NormalizedItem{textItem("a", "1", "x")}}, SourceTraits{})
	reg.Register(&fakeSource{name: "b", items: []domain.NormalizedItem{textItem("b", "1", "y")}}, SourceTraits{})

	cache := &passCache{}
	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, cache, &fakeInserter{}, nil)
	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, cache.resets)
}

func TestHeadlineOnlySourcesGetLowerThreshold(t *testing.T) {
	// Confidence 0.6 sits between the short threshold (0.55) and the default
	// (0.7): rejected from a full-text source, accepted from a headline one.
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "fulltext", items: []domain.NormalizedItem{
		textItem("fulltext", "1", "LOWCONF announcement"),
	}}, SourceTraits{})
	reg.Register(&fakeSource{name: "headline", items: []domain.NormalizedItem{
		textItem("headline", "1", "LOWCONF announcement"),
	}}, SourceTraits{HeadlineOnly: true})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Outcomes[domain.StatusLowConfidence])
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
}

func TestItemStorageErrorIsIsolated(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "s1", items: []domain.NormalizedItem{
		textItem("s1", "1", "fresh funding news"),
		textItem("s1", "2", "another fine round"),
	}}, SourceTraits{})

	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{failEvery: true}, nil)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err, "storage errors are item outcomes, not run failures")

	assert.Equal(t, 2, stats.Outcomes[domain.StatusError])
}

func TestNotifyOnlyAboveThresholdAndBestEffort(t *testing.T) {
	cfg := testCfg()
	cfg.NotifyMinUSD = 1_000_000

	reg := NewRegistry()
	reg.Register(&fakeSource{name: "s1", items: []domain.NormalizedItem{
		textItem("s1", "1", "fresh funding news"),
	}}, SourceTraits{})

	notifier := &fakeNotifier{err: errors.New("telegram down")}
	orch := newTestOrchestrator(cfg, reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, notifier)
	stats, err := orch.Run(context.Background())
	require.NoError(t, err)

	// Delivery failed, yet the item still counts as saved.
	assert.Equal(t, 1, stats.Outcomes[domain.StatusSaved])
	assert.Len(t, notifier.deals, 1)
}

func TestNotifySkippedBelowThreshold(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "s1", items: []domain.NormalizedItem{
		textItem("s1", "1", "fresh funding news"),
	}}, SourceTraits{})

	notifier := &fakeNotifier{}
	orch := newTestOrchestrator(testCfg(), reg, &fakeItemStore{}, &passCache{}, &fakeInserter{}, notifier)
	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	// 5M deal, 10M notify floor.
	assert.Empty(t, notifier.deals)
}

func TestInvalidSubject(t *testing.T) {
	assert.True(t, invalidSubject(""))
	assert.True(t, invalidSubject("  "))
	assert.True(t, invalidSubject("Unnamed Startup"))
	assert.True(t, invalidSubject("the company"))
	assert.False(t, invalidSubject("Acme Labs"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("429: %w", ErrTransient)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("404 not found")))
	assert.False(t, IsTransient(nil))
}
