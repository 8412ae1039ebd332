package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"fundscan/internal/domain"
)

// Texts shorter than this are hashed whole. Longer texts hash a fixed
// prefix+suffix window, so mid-article ad injection and syndication chrome
// do not defeat the fingerprint, and hashing stays O(1) in article length.
const (
	wholeTextLimit = 2048
	windowBytes    = 1024
)

// Fingerprint returns the content hash for an item's text.
func Fingerprint(text string) string {
	if len(text) <= wholeTextLimit {
		sum := sha256.Sum256([]byte(text))
		return hex.EncodeToString(sum[:])
	}
	h := sha256.New()
	h.Write([]byte(text[:windowBytes]))
	h.Write([]byte(text[len(text)-windowBytes:]))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintStore is the persisted tier of the seen-content cache.
type FingerprintStore interface {
	SeenFingerprints(ctx context.Context, digests []string) (map[string]bool, error)
	StoreFingerprints(ctx context.Context, digests []string) error
}

// FingerprintCache answers "have we already stored an item with materially
// this text". The in-process tier lives for one run; the persisted tier
// carries across runs and sources.
type FingerprintCache struct {
	store FingerprintStore

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFingerprintCache builds a cache over the given persisted tier.
func NewFingerprintCache(store FingerprintStore) *FingerprintCache {
	return &FingerprintCache{store: store, seen: map[string]struct{}{}}
}

// Reset clears the in-process tier. The orchestrator calls this once per job,
// not per source, so cross-source duplicates within one run still collapse.
func (c *FingerprintCache) Reset() {
	c.mu.Lock()
	c.seen = map[string]struct{}{}
	c.mu.Unlock()
}

// BatchCheck filters items whose text has been seen before. In-process hits
// cost no I/O; the remainder goes to the persisted tier as one batched query.
// All fingerprints in the batch are then recorded in both tiers. Empty input
// performs no I/O at all.
func (c *FingerprintCache) BatchCheck(ctx context.Context, items []domain.NormalizedItem) ([]domain.NormalizedItem, int, error) {
	if len(items) == 0 {
		return []domain.NormalizedItem{}, 0, nil
	}

	type pending struct {
		item   domain.NormalizedItem
		digest string
	}

	seenCount := 0
	var remote []pending

	c.mu.Lock()
	for _, item := range items {
		fp := Fingerprint(item.Text)
		if _, ok := c.seen[fp]; ok {
			seenCount++
			continue
		}
		remote = append(remote, pending{item: item, digest: fp})
	}
	c.mu.Unlock()

	unseen := []domain.NormalizedItem{}
	var toStore []string
	if len(remote) > 0 {
		digests := make([]string, len(remote))
		for i, p := range remote {
			digests[i] = p.digest
		}

		stored, err := c.store.SeenFingerprints(ctx, digests)
		if err != nil {
			return nil, 0, err
		}

		dup := map[string]struct{}{}
		for _, p := range remote {
			if stored[p.digest] {
				seenCount++
				continue
			}
			// Two identical texts can share one batch; only the first survives.
			if _, ok := dup[p.digest]; ok {
				seenCount++
				continue
			}
			dup[p.digest] = struct{}{}
			unseen = append(unseen, p.item)
			toStore = append(toStore, p.digest)
		}

		if len(toStore) > 0 {
			if err := c.store.StoreFingerprints(ctx, toStore); err != nil {
				return nil, 0, err
			}
		}

		c.mu.Lock()
		for _, p := range remote {
			c.seen[p.digest] = struct{}{}
		}
		c.mu.Unlock()
	}

	return unseen, seenCount, nil
}
