package regime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
)

// Source supplies reference index records for regime refresh. The fetcher
// satisfies this; tests inject deterministic tapes.
type Source interface {
	Fetch(ctx context.Context, symbol string, kind models.DataKind, lookback time.Duration) ([]models.RawMarketRecord, error)
}

// Provider is the read side consumed by scan workers.
type Provider interface {
	Current() models.MarketContextSnapshot
}

// Holder owns the process-wide context snapshot. Snapshots are replaced
// whole under the lock and never mutated after publication, so readers in
// the middle of a scan pass always see a consistent regime.
type Holder struct {
	mu       sync.RWMutex
	snapshot models.MarketContextSnapshot
}

// NewHolder starts with a neutral snapshot so scoring is well-defined before
// the first refresh completes.
func NewHolder() *Holder {
	return &Holder{
		snapshot: models.MarketContextSnapshot{
			Trend:      models.TrendSideways,
			Volatility: models.VolNormal,
			AsOf:       time.Now().UTC(),
		},
	}
}

// Current returns the latest published snapshot.
func (h *Holder) Current() models.MarketContextSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshot
}

// Publish replaces the snapshot.
func (h *Holder) Publish(s models.MarketContextSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = s
}

// Refresher recomputes the snapshot on its own cadence, slower than the
// per-symbol scan intervals.
type Refresher struct {
	holder *Holder
	source Source
	cfg    Config
}

// NewRefresher wires a refresher against a data source.
func NewRefresher(holder *Holder, source Source, cfg Config) *Refresher {
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = DefaultConfig().RefreshEvery
	}
	return &Refresher{holder: holder, source: source, cfg: cfg}
}

// RefreshOnce performs a single synchronous refresh; used by one-shot scans.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	r.refresh(ctx)
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
// A failed refresh keeps the previous snapshot; stale context beats no
// context and beats aborting scans.
func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.cfg.RefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	records, err := r.source.Fetch(ctx, r.cfg.ReferenceIndex, models.KindTrades, r.cfg.Lookback)
	if err != nil {
		log.Warn().Err(err).Str("index", r.cfg.ReferenceIndex).Msg("regime refresh fetch failed, keeping previous snapshot")
		return
	}

	snapshot, err := Classify(records, r.cfg)
	if err != nil {
		log.Warn().Err(err).Str("index", r.cfg.ReferenceIndex).Msg("regime classification failed, keeping previous snapshot")
		return
	}

	r.holder.Publish(snapshot)
	log.Debug().
		Str("trend", string(snapshot.Trend)).
		Str("vol", string(snapshot.Volatility)).
		Float64("realized_vol", snapshot.RealizedVol).
		Msg("regime snapshot refreshed")
}
