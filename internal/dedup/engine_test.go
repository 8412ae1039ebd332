package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fundscan/internal/domain"
)

// fakeDealStore reproduces the storage contract in memory: insert-or-ignore
// keyed on DedupKey, lookup across primary and amount keys, link attachment.
type fakeDealStore struct {
	nextID  int64
	byKey   map[string]*domain.Deal
	links   map[int64][]string
	failOn  string
	lookups int
}

func newFakeDealStore() *fakeDealStore {
	return &fakeDealStore{byKey: map[string]*domain.Deal{}, links: map[int64][]string{}}
}

func (f *fakeDealStore) FindDealByKeys(_ context.Context, keys []string) (*domain.Deal, error) {
	f.lookups++
	if f.failOn == "find" {
		return nil, errors.New("storage down")
	}
	for _, k := range keys {
		for _, d := range f.byKey {
			if d.DedupKey == k || (d.AmountDedupKey != "" && d.AmountDedupKey == k) {
				return d, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeDealStore) InsertDeal(_ context.Context, deal *domain.Deal) (int64, bool, error) {
	if f.failOn == "insert" {
		return 0, false, errors.New("storage down")
	}
	if existing, ok := f.byKey[deal.DedupKey]; ok {
		return existing.ID, false, nil
	}
	f.nextID++
	stored := *deal
	stored.ID = f.nextID
	f.byKey[deal.DedupKey] = &stored
	f.links[stored.ID] = append(f.links[stored.ID], deal.SourceURL)
	return stored.ID, true, nil
}

func (f *fakeDealStore) AttachSourceLink(_ context.Context, dealID int64, url, _ string) error {
	if f.failOn == "attach" {
		return errors.New("storage down")
	}
	f.links[dealID] = append(f.links[dealID], url)
	return nil
}

func (f *fakeDealStore) count() int { return len(f.byKey) }

func testDeal(company, category string, amount int64, date time.Time, url string) *domain.Deal {
	return &domain.Deal{
		Company:       company,
		Category:      category,
		AmountUSD:     amount,
		AnnouncedDate: &date,
		SourceURL:     url,
		SourceTag:     "test",
	}
}

func TestEngineInsertNew(t *testing.T) {
	store := newFakeDealStore()
	engine := NewEngine(store, zap.NewNop())

	d := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	id, inserted, err := engine.Insert(context.Background(), testDeal("Acme Labs, Inc.", "seed", 5_000_000, d, "https://a.example/1"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, 1, store.count())
}

func TestEngineInsertOrIgnoreAttachesProvenance(t *testing.T) {
	store := newFakeDealStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()
	d := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

	id1, inserted, err := engine.Insert(ctx, testDeal("Acme Labs, Inc.", "seed", 5_000_000, d, "https://a.example/1"))
	require.NoError(t, err)
	require.True(t, inserted)

	// Identical event, different attribution: same dedup key, dropped by the
	// insert-or-ignore path, provenance reattached.
	id2, inserted, err := engine.Insert(ctx, testDeal("acme labs", "Seed", 5_000_000, d, "https://b.example/2"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.count())
	assert.Contains(t, store.links[id1], "https://b.example/2")
}

func TestEngineCatchesCategoryDisagreementViaAmountKey(t *testing.T) {
	store := newFakeDealStore()
	engine := NewEngine(store, zap.NewNop())
	ctx := context.Background()
	d := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

	_, inserted, err := engine.Insert(ctx, testDeal("Acme Labs", "seed", 5_000_000, d, "https://a.example/1"))
	require.NoError(t, err)
	require.True(t, inserted)

	// Upstream label noise: same company, amount, date; different round label.
	_, inserted, err = engine.Insert(ctx, testDeal("Acme Labs", "pre-seed", 5_000_000, d, "https://b.example/2"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, store.count())
}

func TestEngineNearSimultaneousAdjacentDates(t *testing.T) {
	// Two candidates for the same round, announced dates one day apart,
	// regardless of processing order: exactly one stored record.
	jan13 := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	jan14 := time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)

	orders := [][2]time.Time{{jan13, jan14}, {jan14, jan13}}
	for _, order := range orders {
		store := newFakeDealStore()
		engine := NewEngine(store, zap.NewNop())
		ctx := context.Background()

		_, first, err := engine.Insert(ctx, testDeal("Acme Labs, Inc.", "seed", 5_000_000, order[0], "https://a.example/1"))
		require.NoError(t, err)
		require.True(t, first)

		_, second, err := engine.Insert(ctx, testDeal("Acme Labs, Inc.", "seed", 5_000_000, order[1], "https://b.example/2"))
		require.NoError(t, err)
		assert.False(t, second)
		assert.Equal(t, 1, store.count())
	}
}

func TestEngineStorageErrorsSurface(t *testing.T) {
	d := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

	for _, failOn := range []string{"find", "insert"} {
		store := newFakeDealStore()
		store.failOn = failOn
		engine := NewEngine(store, zap.NewNop())

		_, _, err := engine.Insert(context.Background(), testDeal("Acme Labs", "seed", 5_000_000, d, "https://a.example/1"))
		assert.Error(t, err, "failure mode %s", failOn)
	}
}

func TestEngineSmallAmountSkipsAmountKey(t *testing.T) {
	store := newFakeDealStore()
	engine := NewEngine(store, zap.NewNop())
	d := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

	deal := testDeal("Tiny Co", "seed", 100_000, d, "https://a.example/1")
	_, inserted, err := engine.Insert(context.Background(), deal)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Empty(t, deal.AmountDedupKey)
}
