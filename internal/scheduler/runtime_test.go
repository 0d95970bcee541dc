package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/cooldown"
	"github.com/flowsentry/flowsentry/internal/exits"
	"github.com/flowsentry/flowsentry/internal/fetcher"
	"github.com/flowsentry/flowsentry/internal/flow"
	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/regime"
	"github.com/flowsentry/flowsentry/internal/scoring"
)

// sweepTape is a tape that classifies into exactly one qualifying sweep.
func sweepTape(symbol string) []models.RawMarketRecord {
	base := time.Now().Add(-time.Minute)
	var records []models.RawMarketRecord
	for i := 0; i < 4; i++ {
		records = append(records, models.RawMarketRecord{
			Symbol:    symbol,
			Kind:      models.KindTrades,
			Timestamp: base.Add(time.Duration(i*5) * time.Second),
			Premium:   40_000,
			Size:      100,
			IV:        0.40,
			Spot:      187.5,
			Side:      models.SideCall,
			Contract: models.OptionContract{
				Symbol: symbol,
				Strike: 190,
				Expiry: base.Add(21 * 24 * time.Hour),
				IsCall: true,
			},
		})
	}
	return records
}

// fakeSource serves a fixed tape per symbol and fails symbols on a denylist.
type fakeSource struct {
	mu         sync.Mutex
	failing    map[string]bool
	fetches    int
	concurrent int32
	maxSeen    int32
}

func (f *fakeSource) Fetch(ctx context.Context, symbol string, _ models.DataKind, _ time.Duration) ([]models.RawMarketRecord, error) {
	cur := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.fetches++
	failing := f.failing[symbol]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failing {
		return nil, &fetcher.FetchError{Symbol: symbol, Kind: "trades", Err: fetcher.ErrSourceUnavailable}
	}
	return sweepTape(symbol), nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type captureSink struct {
	mu      sync.Mutex
	batches [][]models.ScoredSignal
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, signals []models.ScoredSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, signals)
	return nil
}

func (c *captureSink) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func watchlist(n int) []string {
	symbols := make([]string, n)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02d", i)
	}
	return symbols
}

func testStrategy(symbols []string) StrategyConfig {
	return StrategyConfig{
		Name:        "test",
		Interval:    time.Minute,
		MinPremium:  0,
		MinScore:    0,
		Watchlist:   symbols,
		ChunkSize:   5,
		Concurrency: 2,
		ChunkPause:  0,
		Rules:       flow.DefaultRules(),
	}
}

func newTestRunner(cfg StrategyConfig, source DataSource, sink *captureSink) (*Runner, *cooldown.Tracker) {
	tracker := cooldown.NewTracker(cooldown.Config{
		Window:        10 * time.Minute,
		SweepInterval: time.Hour,
	})
	engine := scoring.NewEngine(scoring.DefaultWeights(), scoring.DefaultBands(), 0.05)
	calc := exits.NewCalculator(exits.DefaultConfig())
	return NewRunner(cfg, source, engine, tracker, calc, regime.NewHolder(), sink), tracker
}

func TestChunkWatchlist(t *testing.T) {
	cases := []struct {
		symbols int
		size    int
		chunks  int
	}{
		{20, 5, 4},
		{21, 5, 5},
		{4, 5, 1},
		{5, 5, 1},
		{7, 1, 7},
		{3, 0, 1}, // zero size means one chunk
	}
	for _, tc := range cases {
		chunks := chunkWatchlist(watchlist(tc.symbols), tc.size)
		require.Len(t, chunks, tc.chunks, "%d symbols / chunk %d", tc.symbols, tc.size)

		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		assert.Equal(t, tc.symbols, total, "chunking must not drop or duplicate symbols")
	}
}

func TestScan_FetchesEverySymbolOnce(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(20)), source, sink)
	defer tracker.Close()

	signals, err := runner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, source.fetchCount())
	assert.Len(t, signals, 20, "one sweep per symbol")
}

func TestScan_BoundedConcurrency(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	cfg := testStrategy(watchlist(10))
	cfg.Concurrency = 2
	runner, tracker := newTestRunner(cfg, source, sink)
	defer tracker.Close()

	_, err := runner.Scan(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&source.maxSeen), int32(2))
}

func TestScan_SymbolFailureIsolated(t *testing.T) {
	source := &fakeSource{failing: map[string]bool{"SYM07": true}}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(20)), source, sink)
	defer tracker.Close()

	signals, err := runner.Scan(context.Background())
	require.NoError(t, err, "one bad symbol must not fail the scan")
	assert.Len(t, signals, 19)

	for _, sig := range signals {
		assert.NotEqual(t, "SYM07", sig.Event.Symbol)
	}
}

func TestScan_DuplicatesSuppressedAcrossCycles(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(5)), source, sink)
	defer tracker.Close()

	first, err := runner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 5)

	// Same tape inside the cooldown window: everything is a duplicate.
	second, err := runner.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestScan_MinScoreFilters(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	cfg := testStrategy(watchlist(5))
	cfg.MinScore = 101 // nothing can reach it
	runner, tracker := newTestRunner(cfg, source, sink)
	defer tracker.Close()

	signals, err := runner.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)

	// Filtered signals never touched the cooldown gate.
	assert.Equal(t, 0, tracker.Len())
}

func TestScan_MinPremiumFilters(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	cfg := testStrategy(watchlist(3))
	cfg.MinPremium = 1_000_000 // tape sweeps total 160k
	runner, tracker := newTestRunner(cfg, source, sink)
	defer tracker.Close()

	signals, err := runner.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestScan_CancelledContext(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(20)), source, sink)
	defer tracker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_SignalsCarryStrategyAndExits(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(1)), source, sink)
	defer tracker.Close()

	signals, err := runner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "test", sig.Strategy)
	assert.NotEmpty(t, sig.ID)
	assert.Greater(t, sig.Exits.StopLossPct, 0.0)
	assert.NotEmpty(t, sig.Exits.ProfitTiers)
	assert.Equal(t, 1, sig.RepeatCount)
}

func TestCycle_PostsAndBeats(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(3)), source, sink)
	defer tracker.Close()

	var beats int32
	runner.SetHeartbeat(func(time.Time) { atomic.AddInt32(&beats, 1) })

	runner.cycle(context.Background())

	assert.Equal(t, StateIdle, runner.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&beats))
	assert.Eventually(t, func() bool { return sink.batchCount() == 1 },
		time.Second, 10*time.Millisecond, "posting is detached but must happen")
}

func TestCycle_CancelledScanDiscardsResults(t *testing.T) {
	source := &fakeSource{}
	sink := &captureSink{}
	runner, tracker := newTestRunner(testStrategy(watchlist(10)), source, sink)
	defer tracker.Close()

	var beats int32
	runner.SetHeartbeat(func(time.Time) { atomic.AddInt32(&beats, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner.cycle(ctx)

	assert.Equal(t, int32(0), atomic.LoadInt32(&beats), "a cancelled cycle must not beat")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.batchCount(), "partial results must never be posted")
}
