package scan

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fundscan/internal/config"
	"fundscan/internal/domain"
	"fundscan/internal/monitoring"
)

// ErrTransient wraps source errors that are worth another attempt (rate
// limits, upstream 5xx). Adapters wrap with fmt.Errorf("...: %w", ErrTransient).
var ErrTransient = errors.New("transient source error")

// IsTransient classifies a source error as retryable: timeouts, connection
// resets/refusals, and anything an adapter tagged with ErrTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// placeholderSubjects are names upstream copy uses when the company is not
// actually named. Candidates matching one are rejected before the dedup
// engine ever sees them.
var placeholderSubjects = map[string]struct{}{
	"unnamed startup": {},
	"unnamed company": {},
	"the company":     {},
	"the startup":     {},
	"stealth startup": {},
	"startup":         {},
	"company":         {},
	"undisclosed":     {},
	"n/a":             {},
}

// ItemStore is the orchestrator's batched pre-filter against already-stored
// source identifiers.
type ItemStore interface {
	ExistingSourceURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// SeenTextCache short-circuits re-processing of syndicated content.
type SeenTextCache interface {
	Reset()
	BatchCheck(ctx context.Context, items []domain.NormalizedItem) ([]domain.NormalizedItem, int, error)
}

// DealInserter is the dedup engine's insertion surface.
type DealInserter interface {
	Insert(ctx context.Context, deal *domain.Deal) (id int64, inserted bool, err error)
}

// Extractor turns an item's text into a structured deal candidate.
type Extractor interface {
	Extract(ctx context.Context, item domain.NormalizedItem) (*domain.DealCandidate, error)
}

// Notifier receives confirmed new high-significance deals. Best-effort;
// called strictly after the record is committed.
type Notifier interface {
	NotifyDeal(ctx context.Context, deal *domain.Deal) error
}

// Orchestrator runs all registered sources with bounded parallelism and
// isolated failure accounting, then processes surviving items through
// extraction and the dedup engine with an independent concurrency ceiling.
type Orchestrator struct {
	cfg       *config.Config
	registry  *Registry
	store     ItemStore
	cache     SeenTextCache
	engine    DealInserter
	extractor Extractor
	notifier  Notifier
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewOrchestrator wires the run pipeline. notifier may be nil.
func NewOrchestrator(cfg *config.Config, reg *Registry, store ItemStore, cache SeenTextCache,
	engine DealInserter, extractor Extractor, notifier Notifier,
	m *monitoring.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  reg,
		store:     store,
		cache:     cache,
		engine:    engine,
		extractor: extractor,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes one full scan: fetch every source, pre-filter, then process
// items. Per-item and per-source failures are aggregated, never propagated;
// the returned error covers only run-level faults (cancelled context,
// pre-filter storage failure).
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunStats, error) {
	start := time.Now()
	o.metrics.ScanRunning.Set(1)
	defer func() {
		o.metrics.ScanRunning.Set(0)
		o.metrics.ObserveScan(time.Since(start))
	}()

	// Fresh per-run state: the in-process fingerprint tier lives exactly one
	// job, so cross-source duplicates within the job still collapse.
	o.cache.Reset()

	stats := domain.NewRunStats()
	items, err := o.fetchAll(ctx, stats)
	if err != nil {
		return stats, err
	}
	stats.ItemsFetched = len(items)

	items, err = o.prefilterURLs(ctx, items, stats)
	if err != nil {
		return stats, err
	}

	unseen, seenText, err := o.cache.BatchCheck(ctx, items)
	if err != nil {
		return stats, err
	}
	stats.ItemsSeenText = seenText

	o.processItems(ctx, unseen, stats)

	o.logger.Info("scan run finished",
		zap.Int("sources", stats.SourcesTotal),
		zap.Int("sources_failed", stats.SourcesFailed),
		zap.Int("items_fetched", stats.ItemsFetched),
		zap.Int("items_prefiltered", stats.ItemsPrefiltered),
		zap.Int("items_seen_text", stats.ItemsSeenText),
		zap.Int("saved", stats.Saved()),
		zap.Int("duplicates", stats.Outcomes[domain.StatusDuplicate]),
		zap.Int("errors", stats.Errors()),
		zap.Duration("elapsed", time.Since(start)))
	return stats, ctx.Err()
}

// fetchAll fans out over the registry with the source-level parallelism
// ceiling. One source's exhaustion never aborts the run.
func (o *Orchestrator) fetchAll(ctx context.Context, stats *domain.RunStats) ([]domain.NormalizedItem, error) {
	sources := o.registry.All()
	stats.SourcesTotal = len(sources)

	var (
		mu    sync.Mutex
		items []domain.NormalizedItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.SourceWorkers)
	for _, src := range sources {
		g.Go(func() error {
			fetched, err := o.fetchSource(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.SourcesFailed++
				o.metrics.IncSourceFailure(src.Name())
				o.logger.Error("source failed after retries",
					zap.String("source", src.Name()), zap.Error(err))
				return nil
			}
			if len(fetched) == 0 {
				// Not an error, but a broken selector or endpoint looks
				// exactly like this. Keep it loud.
				stats.SourcesEmpty++
				o.metrics.IncSourceEmpty(src.Name())
				o.logger.Warn("source returned zero items; selectors or endpoint may have silently broken",
					zap.String("source", src.Name()))
				return nil
			}
			items = append(items, fetched...)
			o.logger.Info("source fetched",
				zap.String("source", src.Name()), zap.Int("items", len(fetched)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, ctx.Err()
}

// fetchSource calls the adapter under a hard wall-clock timeout, retrying
// transient failure classes with exponential backoff.
func (o *Orchestrator) fetchSource(ctx context.Context, src Source) ([]domain.NormalizedItem, error) {
	var fetched []domain.NormalizedItem
	cfg := retryCfg{
		attempts: o.cfg.SourceMaxRetries,
		base:     time.Duration(o.cfg.SourceBackoffSeconds) * time.Second,
	}
	err := withRetry(ctx, cfg, IsTransient, func() error {
		fctx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout())
		defer cancel()
		var ferr error
		fetched, ferr = src.Fetch(fctx)
		return ferr
	})
	return fetched, err
}

// prefilterURLs drops items whose source URL already belongs to a stored
// deal, in one batched query. Cheap skip of fully-processed items from prior
// runs, separate from the content/identity checks.
func (o *Orchestrator) prefilterURLs(ctx context.Context, items []domain.NormalizedItem, stats *domain.RunStats) ([]domain.NormalizedItem, error) {
	urls := make([]string, 0, len(items))
	for _, it := range items {
		if it.URL != "" {
			urls = append(urls, it.URL)
		}
	}
	existing, err := o.store.ExistingSourceURLs(ctx, urls)
	if err != nil {
		return nil, err
	}

	kept := items[:0]
	for _, it := range items {
		if it.URL != "" && existing[it.URL] {
			stats.ItemsPrefiltered++
			continue
		}
		kept = append(kept, it)
	}
	return kept, nil
}

// processItems runs extraction and dedup under the item-level ceiling. The
// inter-item pacing delay runs in the dispatch loop, concurrent with the
// spawned worker, so throttling never shrinks effective parallelism.
func (o *Orchestrator) processItems(ctx context.Context, items []domain.NormalizedItem, stats *domain.RunStats) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	sem := make(chan struct{}, o.cfg.ItemWorkers)
	delay := o.cfg.ItemDelay()

	record := func(status domain.ItemStatus) {
		mu.Lock()
		stats.Outcomes[status]++
		mu.Unlock()
		o.metrics.IncItemOutcome(string(status))
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(it domain.NormalizedItem) {
			defer wg.Done()
			defer func() { <-sem }()
			record(o.processItem(ctx, it))
		}(item)

		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}
	wg.Wait()
}

// processItem takes one item through extraction and the dedup engine and
// returns its terminal status. Rejections are outcomes, not errors; they log
// at debug only.
func (o *Orchestrator) processItem(ctx context.Context, item domain.NormalizedItem) domain.ItemStatus {
	ictx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout())
	defer cancel()

	candidate, err := o.extractor.Extract(ictx, item)
	if err != nil {
		o.logger.Debug("extraction failed",
			zap.String("url", item.URL), zap.Error(err))
		return domain.StatusExtractionFailed
	}

	if !candidate.IsFundingEvent {
		return domain.StatusNotFundingEvent
	}
	if invalidSubject(candidate.Company) {
		return domain.StatusInvalidSubject
	}
	if candidate.Confidence < o.confidenceThreshold(item.SourceTag) {
		o.logger.Debug("candidate below confidence threshold",
			zap.String("company", candidate.Company),
			zap.Float64("confidence", candidate.Confidence))
		return domain.StatusLowConfidence
	}

	announced := candidate.Announced()
	if announced == nil {
		announced = item.PublishedAt
	}
	deal := &domain.Deal{
		Company:       candidate.Company,
		Category:      candidate.Category,
		AmountUSD:     candidate.AmountUSD,
		AnnouncedDate: announced,
		Investors:     candidate.Investors,
		SourceURL:     item.URL,
		SourceTag:     item.SourceTag,
	}

	id, inserted, err := o.engine.Insert(ictx, deal)
	if err != nil {
		o.logger.Warn("deal insert failed",
			zap.String("company", deal.Company), zap.Error(err))
		return domain.StatusError
	}
	if !inserted {
		return domain.StatusDuplicate
	}

	o.logger.Info("deal saved",
		zap.Int64("id", id),
		zap.String("company", deal.Company),
		zap.String("category", deal.Category),
		zap.Int64("amount_usd", deal.AmountUSD),
		zap.String("source", deal.SourceTag))
	o.notify(ctx, deal)
	return domain.StatusSaved
}

// notify emits the new-deal event after the record is durably committed.
// Delivery failure never rolls back or fails the item.
func (o *Orchestrator) notify(ctx context.Context, deal *domain.Deal) {
	if o.notifier == nil || deal.AmountUSD < o.cfg.NotifyMinUSD {
		return
	}
	if err := o.notifier.NotifyDeal(ctx, deal); err != nil {
		o.logger.Warn("deal notification failed",
			zap.Int64("deal_id", deal.ID), zap.Error(err))
	}
}

func (o *Orchestrator) confidenceThreshold(sourceTag string) float64 {
	if o.registry.Traits(sourceTag).HeadlineOnly {
		return o.cfg.ShortConfidenceThreshold
	}
	return o.cfg.ConfidenceThreshold
}

func invalidSubject(company string) bool {
	name := strings.ToLower(strings.TrimSpace(company))
	if name == "" {
		return true
	}
	_, placeholder := placeholderSubjects[name]
	return placeholder
}
