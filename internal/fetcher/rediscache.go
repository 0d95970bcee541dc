package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
)

// RedisStore caches record sets in Redis so multiple scanner processes can
// share one provider budget. Redis handles TTL expiry; no janitor needed.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisStore wraps an existing Redis client as a record store.
func NewRedisStore(client redis.Cmdable, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "flowsentry:cache:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(symbol string, kind models.DataKind) string {
	return s.keyPrefix + CacheKey(symbol, kind)
}

// Get fetches and decodes the record set, treating any Redis or decode
// failure as a cache miss so a degraded Redis never blocks a scan.
func (s *RedisStore) Get(ctx context.Context, symbol string, kind models.DataKind) ([]models.RawMarketRecord, bool) {
	data, err := s.client.Get(ctx, s.key(symbol, kind)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache read failed")
		}
		return nil, false
	}

	var records []models.RawMarketRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache entry corrupt, dropping")
		s.client.Del(ctx, s.key(symbol, kind))
		return nil, false
	}
	return records, true
}

// Set stores the record set with the given TTL. Failures are logged and
// swallowed; the cache is an optimization, not a source of truth.
func (s *RedisStore) Set(ctx context.Context, symbol string, kind models.DataKind, records []models.RawMarketRecord, ttl time.Duration) {
	data, err := json.Marshal(records)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache encode failed")
		return
	}
	if err := s.client.Set(ctx, s.key(symbol, kind), data, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache write failed")
	}
}

// Invalidate drops the entry for (symbol, kind).
func (s *RedisStore) Invalidate(ctx context.Context, symbol string, kind models.DataKind) {
	if err := s.client.Del(ctx, s.key(symbol, kind)).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache invalidate failed")
	}
}

// Close is a no-op; the underlying client is owned by the caller.
func (s *RedisStore) Close() {}
