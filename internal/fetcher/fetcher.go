package fetcher

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// Config tunes the fetch orchestration: admission rate, cache freshness and
// the transient-failure retry schedule.
type Config struct {
	RPS         float64       `yaml:"rps" validate:"gt=0"`
	Burst       int           `yaml:"burst" validate:"gt=0"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// DefaultConfig returns fetch settings sized for a ~100 symbol watchlist.
func DefaultConfig() Config {
	return Config{
		RPS:         5,
		Burst:       10,
		CacheTTL:    45 * time.Second,
		MaxAttempts: 4,
		BackoffBase: 250 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

// Fetcher is the rate-limited, cached data acquisition layer shared by all
// strategies. A cache hit never touches the gate or the provider; a miss is
// admitted through the global token bucket, guarded by the venue breaker and
// retried with bounded exponential backoff on transient failures.
type Fetcher struct {
	provider Provider
	store    Store
	gate     *Gate
	breakers *BreakerSet
	cfg      Config
}

// New wires a fetcher from its collaborators. A nil store disables caching.
func New(provider Provider, store Store, cfg Config) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultConfig().BackoffMax
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Fetcher{
		provider: provider,
		store:    store,
		gate:     NewGate(cfg.RPS, cfg.Burst),
		breakers: NewBreakerSet(DefaultBreakerConfig()),
		cfg:      cfg,
	}
}

// Gate exposes the admission gate for components that pre-warm the cache.
func (f *Fetcher) Gate() *Gate { return f.gate }

// Store exposes the record store for components that pre-warm the cache.
func (f *Fetcher) Store() Store { return f.store }

// Fetch returns records for (symbol, kind) covering lookback. Errors are
// scoped to this symbol only; concurrent fetches for other symbols are
// unaffected. Transient errors are retried up to MaxAttempts with
// exponential backoff and jitter; permanent errors return immediately.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, kind models.DataKind, lookback time.Duration) ([]models.RawMarketRecord, error) {
	venue := f.provider.Venue()

	if f.store != nil {
		if records, ok := f.store.Get(ctx, symbol, kind); ok {
			telemetry.CacheLookups.WithLabelValues(string(kind), "hit").Inc()
			return records, nil
		}
		telemetry.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
	}

	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.gate.Wait(ctx, venue); err != nil {
			return nil, &FetchError{Symbol: symbol, Kind: string(kind), Err: err}
		}

		result, err := f.breakers.Execute(venue, func() (interface{}, error) {
			return f.provider.Fetch(ctx, symbol, kind, lookback)
		})
		if err == nil {
			records := result.([]models.RawMarketRecord)
			if f.store != nil {
				f.store.Set(ctx, symbol, kind, records, f.cfg.CacheTTL)
			}
			telemetry.FetchRequests.WithLabelValues(venue, string(kind), "ok").Inc()
			return records, nil
		}

		if IsPermanent(err) {
			telemetry.FetchRequests.WithLabelValues(venue, string(kind), "permanent").Inc()
			return nil, &FetchError{Symbol: symbol, Kind: string(kind), Err: err}
		}

		lastErr = err
		telemetry.FetchRequests.WithLabelValues(venue, string(kind), "transient").Inc()
		log.Debug().
			Err(err).
			Str("symbol", symbol).
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Msg("transient fetch failure")

		if attempt == f.cfg.MaxAttempts {
			break
		}
		if err := sleepBackoff(ctx, f.backoffDelay(attempt)); err != nil {
			return nil, &FetchError{Symbol: symbol, Kind: string(kind), Err: err}
		}
	}

	return nil, &FetchError{Symbol: symbol, Kind: string(kind), Err: lastErr}
}

// backoffDelay returns base*2^(attempt-1) capped at BackoffMax, with up to
// 25% jitter to decorrelate retries from concurrent workers.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	delay := f.cfg.BackoffBase << uint(attempt-1)
	if delay > f.cfg.BackoffMax {
		delay = f.cfg.BackoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
