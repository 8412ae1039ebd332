package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fundscan/internal/domain"
)

// DealStore is the storage contract the engine composes with. InsertDeal must
// enforce uniqueness on DedupKey with insert-or-ignore semantics; that
// constraint, not the lookup below, is the authoritative duplicate guard.
type DealStore interface {
	FindDealByKeys(ctx context.Context, keys []string) (*domain.Deal, error)
	InsertDeal(ctx context.Context, deal *domain.Deal) (id int64, inserted bool, err error)
	AttachSourceLink(ctx context.Context, dealID int64, url, sourceTag string) error
}

// Engine gives at-most-one-record-per-event semantics under concurrent writers.
type Engine struct {
	store  DealStore
	logger *zap.Logger
}

// NewEngine builds the deduplication engine.
func NewEngine(store DealStore, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Insert persists the candidate deal unless it duplicates a stored record.
// Returns the stored deal id and whether this call created it. On a confirmed
// duplicate the incoming item's source URL is attached to the existing record
// so provenance is not lost. Storage errors surface to the caller; retry
// policy belongs to the orchestrator.
func (e *Engine) Insert(ctx context.Context, deal *domain.Deal) (int64, bool, error) {
	deal.DedupKey = Key(deal.Company, deal.Category, deal.AnnouncedDate)
	deal.AmountDedupKey = AmountKey(deal.Company, deal.AmountUSD, deal.AnnouncedDate)

	// Best-effort near-duplicate lookup: adjacent date buckets catch dates one
	// bucket-width apart, the amount key catches category-label disagreement.
	// This check races the unique index and that is fine; it only trims
	// duplicate volume, the index is the correctness guarantee.
	adjacent := AdjacentKeys(deal.Company, deal.Category, deal.AnnouncedDate)
	lookup := []string{adjacent[0], adjacent[1]}
	if deal.AmountDedupKey != "" {
		lookup = append(lookup, deal.AmountDedupKey)
	}

	existing, err := e.store.FindDealByKeys(ctx, lookup)
	if err != nil {
		return 0, false, fmt.Errorf("near-duplicate lookup: %w", err)
	}
	if existing != nil {
		e.logger.Debug("near-duplicate deal",
			zap.String("company", deal.Company),
			zap.Int64("existing_id", existing.ID))
		return existing.ID, false, e.attach(ctx, existing.ID, deal)
	}

	id, inserted, err := e.store.InsertDeal(ctx, deal)
	if err != nil {
		return 0, false, fmt.Errorf("insert deal: %w", err)
	}
	if !inserted {
		e.logger.Debug("duplicate deal dropped by unique key",
			zap.String("company", deal.Company),
			zap.Int64("existing_id", id))
		return id, false, e.attach(ctx, id, deal)
	}
	return id, true, nil
}

func (e *Engine) attach(ctx context.Context, dealID int64, deal *domain.Deal) error {
	if deal.SourceURL == "" {
		return nil
	}
	if err := e.store.AttachSourceLink(ctx, dealID, deal.SourceURL, deal.SourceTag); err != nil {
		return fmt.Errorf("attach source link: %w", err)
	}
	return nil
}
