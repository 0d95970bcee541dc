package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/cooldown"
	"github.com/flowsentry/flowsentry/internal/exits"
	"github.com/flowsentry/flowsentry/internal/flow"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/regime"
	"github.com/flowsentry/flowsentry/internal/scoring"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// State is the runner's scan-cycle state.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StatePosting  State = "posting"
)

// StrategyConfig is one strategy instance: the shared pipeline parameterized
// by rules and thresholds. Strategies are data, not subtypes.
type StrategyConfig struct {
	Name           string          `yaml:"name" validate:"required"`
	Interval       time.Duration   `yaml:"interval" validate:"gt=0"`
	MinPremium     float64         `yaml:"min_premium"`
	MinScore       float64         `yaml:"min_score"`
	Watchlist      []string        `yaml:"watchlist" validate:"min=1"`
	ChunkSize      int             `yaml:"chunk_size"`
	Concurrency    int             `yaml:"concurrency"`
	ChunkPause     time.Duration   `yaml:"chunk_pause"`
	CooldownWindow time.Duration   `yaml:"cooldown_window"`
	Rules          flow.Rules      `yaml:"rules"`
	Weights        scoring.Weights `yaml:"weights"`
	Bands          scoring.Bands   `yaml:"bands"`
}

// DataSource is the fetch boundary the runner scans through. The fetcher
// satisfies it; tests substitute deterministic sources.
type DataSource interface {
	Fetch(ctx context.Context, symbol string, kind models.DataKind, lookback time.Duration) ([]models.RawMarketRecord, error)
}

// Runner executes one strategy: Idle -> Scanning -> Posting -> Idle on its
// configured interval. Watchlist chunks run with bounded concurrency and a
// pause between dispatches so the whole scan stays inside the fetcher's rate
// budget and the supervisor's stall threshold.
type Runner struct {
	cfg     StrategyConfig
	source  DataSource
	engine  *scoring.Engine
	tracker *cooldown.Tracker
	calc    *exits.Calculator
	context regime.Provider
	sink    notify.Sink

	heartbeat func(time.Time) // invoked after every completed cycle

	mu    sync.RWMutex
	state State
}

// NewRunner wires a runner. The cooldown tracker is owned by the caller and
// survives runner restarts.
func NewRunner(cfg StrategyConfig, source DataSource, engine *scoring.Engine, tracker *cooldown.Tracker, calc *exits.Calculator, ctxProvider regime.Provider, sink notify.Sink) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ChunkPause < 0 {
		cfg.ChunkPause = 0
	}
	return &Runner{
		cfg:       cfg,
		source:    source,
		engine:    engine,
		tracker:   tracker,
		calc:      calc,
		context:   ctxProvider,
		sink:      sink,
		heartbeat: func(time.Time) {},
		state:     StateIdle,
	}
}

// SetHeartbeat installs the supervisor's cycle-completion hook.
func (r *Runner) SetHeartbeat(fn func(time.Time)) {
	if fn != nil {
		r.heartbeat = fn
	}
}

// State returns the current cycle state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run scans immediately, then on every interval tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log.Info().
		Str("strategy", r.cfg.Name).
		Dur("interval", r.cfg.Interval).
		Int("watchlist", len(r.cfg.Watchlist)).
		Msg("strategy runner started")

	r.cycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.setState(StateIdle)
			log.Info().Str("strategy", r.cfg.Name).Msg("strategy runner stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

// cycle runs one full scan and posting pass. Cancellation mid-scan discards
// partial results; nothing partially completed is ever posted.
func (r *Runner) cycle(ctx context.Context) {
	cycleID := uuid.NewString()[:8]
	start := time.Now()
	r.setState(StateScanning)

	signals, err := r.Scan(ctx)
	if err != nil {
		// Only cancellation escapes Scan; per-symbol errors are contained.
		r.setState(StateIdle)
		telemetry.ScanCycles.WithLabelValues(r.cfg.Name, "cancelled").Inc()
		log.Warn().Str("strategy", r.cfg.Name).Str("cycle", cycleID).Msg("scan cancelled, results discarded")
		return
	}

	r.setState(StatePosting)
	r.post(signals)

	r.setState(StateIdle)
	elapsed := time.Since(start)
	telemetry.ScanCycles.WithLabelValues(r.cfg.Name, "ok").Inc()
	telemetry.ScanDuration.WithLabelValues(r.cfg.Name).Observe(elapsed.Seconds())
	r.heartbeat(time.Now())

	log.Debug().
		Str("strategy", r.cfg.Name).
		Str("cycle", cycleID).
		Int("signals", len(signals)).
		Dur("elapsed", elapsed).
		Msg("scan cycle complete")
}

// Scan processes the watchlist in fixed-size chunks, each chunk with bounded
// worker width. Exactly ceil(W/C) chunk dispatches occur. The only error it
// returns is cancellation.
func (r *Runner) Scan(ctx context.Context) ([]models.ScoredSignal, error) {
	var all []models.ScoredSignal

	chunks := chunkWatchlist(r.cfg.Watchlist, r.cfg.ChunkSize)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		all = append(all, r.scanChunk(ctx, chunk)...)

		if i < len(chunks)-1 && r.cfg.ChunkPause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.cfg.ChunkPause):
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return all, nil
}

// scanChunk runs the chunk's symbols through the pipeline with at most
// Concurrency workers. A symbol's failure is logged and skipped; it never
// aborts the chunk.
func (r *Runner) scanChunk(ctx context.Context, symbols []string) []models.ScoredSignal {
	var (
		mu      sync.Mutex
		results []models.ScoredSignal
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, r.cfg.Concurrency)

	for _, symbol := range symbols {
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()

			signals, err := r.scanSymbol(ctx, symbol)
			if err != nil {
				telemetry.SymbolErrors.WithLabelValues(r.cfg.Name, "fetch").Inc()
				log.Warn().
					Err(err).
					Str("strategy", r.cfg.Name).
					Str("symbol", symbol).
					Msg("symbol scan failed, excluded from cycle")
				return
			}
			if len(signals) == 0 {
				return
			}
			mu.Lock()
			results = append(results, signals...)
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return results
}

// scanSymbol is the per-symbol pipeline: fetch -> classify -> score ->
// cooldown-gate -> exit levels, strictly in order.
func (r *Runner) scanSymbol(ctx context.Context, symbol string) ([]models.ScoredSignal, error) {
	records, err := r.source.Fetch(ctx, symbol, models.KindTrades, r.cfg.Rules.Lookback)
	if err != nil {
		return nil, err
	}

	events := flow.Classify(records, r.cfg.Rules)
	if len(events) == 0 {
		return nil, nil
	}

	snapshot := r.context.Current()
	now := time.Now().UTC()

	var signals []models.ScoredSignal
	for _, event := range events {
		if event.Premium < r.cfg.MinPremium {
			continue
		}

		// Score with the prospective repeat count; the gate confirms it.
		prospective := r.tracker.RepeatCount(symbol, event.Type) + 1
		signal := r.engine.Score(event, snapshot, prospective, now)
		if signal.Score < r.cfg.MinScore {
			continue
		}

		decision := r.tracker.Admit(symbol, event.Type, event.Premium, now)
		if !decision.Allowed {
			telemetry.SignalsSuppressed.WithLabelValues(r.cfg.Name, string(event.Type)).Inc()
			continue
		}
		if decision.RepeatCount != prospective {
			// Another worker admitted first; re-score with the real count.
			signal = r.engine.Score(event, snapshot, decision.RepeatCount, now)
		}

		signal.Strategy = r.cfg.Name
		signal.Exits = r.calc.Levels(signal)
		telemetry.SignalsEmitted.WithLabelValues(r.cfg.Name, string(event.Type)).Inc()
		signals = append(signals, signal)
	}
	return signals, nil
}

// post hands the batch to the sink without blocking the next cycle on
// delivery confirmation. The delivery context is detached from the scan
// context so a supervisor restart cannot truncate a completed batch.
func (r *Runner) post(signals []models.ScoredSignal) {
	if len(signals) == 0 {
		return
	}
	batch := signals
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := r.sink.Deliver(ctx, batch); err != nil {
			log.Warn().
				Err(err).
				Str("strategy", r.cfg.Name).
				Int("signals", len(batch)).
				Msg("signal delivery failed")
		}
	}()
}

// chunkWatchlist partitions symbols into groups of at most size.
func chunkWatchlist(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var chunks [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		chunks = append(chunks, symbols[start:end])
	}
	return chunks
}
