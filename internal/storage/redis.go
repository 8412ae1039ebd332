package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the persisted tier of the content-fingerprint cache. Entries
// expire after a TTL; fingerprints are rediscoverable, so losing them only
// costs re-extraction work, never correctness.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func fingerprintKey(digest string) string {
	return fmt.Sprintf("fp:%s", digest)
}

// SeenFingerprints checks all digests in one pipelined round trip. Empty
// input returns an empty map with no I/O.
func (s *RedisStore) SeenFingerprints(ctx context.Context, digests []string) (map[string]bool, error) {
	result := make(map[string]bool, len(digests))
	if len(digests) == 0 {
		return result, nil
	}

	cmds := make([]*redis.IntCmd, len(digests))
	pipe := s.client.Pipeline()
	for i, d := range digests {
		cmds[i] = pipe.Exists(ctx, fingerprintKey(d))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("check fingerprints: %w", err)
	}

	for i, d := range digests {
		result[d] = cmds[i].Val() == 1
	}
	return result, nil
}

// StoreFingerprints records digests with the configured TTL in one pipelined
// round trip. Empty input performs no I/O.
func (s *RedisStore) StoreFingerprints(ctx context.Context, digests []string) error {
	if len(digests) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, d := range digests {
		pipe.Set(ctx, fingerprintKey(d), "1", s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store fingerprints: %w", err)
	}
	return nil
}
