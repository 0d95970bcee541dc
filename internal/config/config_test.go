package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
provider:
  base_url: "https://api.example.com"

strategies:
  - name: sweeps
    interval: "2m"
    watchlist: ["AAPL", "TSLA"]
`

func TestParse_MinimalDocGetsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.TelemetryAddr)
	assert.Equal(t, 3, cfg.StallFactor)
	assert.InDelta(t, 0.05, cfg.RiskFreeRate, 1e-9)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Nil(t, cfg.Stream)

	assert.InDelta(t, 5, cfg.Fetch.RPS, 1e-9)
	assert.Equal(t, 4, cfg.Fetch.MaxAttempts)

	require.Len(t, cfg.Strategies, 1)
	sc := cfg.Strategies[0]
	assert.Equal(t, "sweeps", sc.Name)
	assert.Equal(t, 2*time.Minute, sc.Interval)
	assert.Equal(t, []string{"AAPL", "TSLA"}, sc.Watchlist)
	assert.Equal(t, 3, sc.Rules.MinFills)
	assert.InDelta(t, 40, sc.Weights.Base, 1e-9)
	assert.InDelta(t, 85, sc.Bands.StrongBuy, 1e-9)
}

func TestParse_FullDoc(t *testing.T) {
	doc := `
log_level: debug
risk_free_rate: 0.04
stall_factor: 5

telemetry:
  addr: ":9191"

provider:
  base_url: "https://api.example.com"
  venue: "primary"
  timeout: "8s"

fetch:
  rps: 10
  burst: 20
  cache_ttl: "30s"
  max_attempts: 2
  backoff_base: "100ms"
  backoff_max: "2s"

cache:
  backend: redis
  redis:
    addr: "localhost:6379"
    db: 2

stream:
  enabled: true
  url: "wss://stream.example.com/v1/trades"
  symbols: ["AAPL"]
  buffer_window: "5m"

regime:
  reference_index: "QQQ"
  refresh_every: "2m"

cooldown:
  window: "20m"
  premium_override_factor: 2.0

webhook:
  url: "https://hooks.example.com/abc"
  timeout: "3s"
  username: "bot"

strategies:
  - name: darkpool
    interval: "5m"
    min_premium: 250000
    min_score: 65
    watchlist: ["SPY"]
    chunk_size: 5
    concurrency: 2
    chunk_pause: "3s"
    cooldown_window: "30m"
    rules:
      lookback: "30m"
      block_min_premium: 300000
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9191", cfg.TelemetryAddr)
	assert.Equal(t, 5, cfg.StallFactor)
	assert.InDelta(t, 0.04, cfg.RiskFreeRate, 1e-9)

	assert.Equal(t, 8*time.Second, cfg.Provider.Timeout)
	assert.InDelta(t, 10, cfg.Fetch.RPS, 1e-9)
	assert.Equal(t, 2, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Fetch.BackoffBase)

	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)

	require.NotNil(t, cfg.Stream)
	assert.Equal(t, "wss://stream.example.com/v1/trades", cfg.Stream.URL)
	assert.Equal(t, 5*time.Minute, cfg.Stream.BufferWindow)
	assert.Equal(t, "primary", cfg.Stream.Venue, "stream venue falls back to the provider venue")

	assert.Equal(t, "QQQ", cfg.Regime.ReferenceIndex)
	assert.Equal(t, 2*time.Minute, cfg.Regime.RefreshEvery)
	assert.Equal(t, 40, cfg.Regime.LongWindow, "unset regime fields keep defaults")

	assert.Equal(t, 20*time.Minute, cfg.Cooldown.Window)
	assert.InDelta(t, 2.0, cfg.Cooldown.PremiumOverrideFactor, 1e-9)

	assert.Equal(t, "https://hooks.example.com/abc", cfg.Webhook.URL)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout.D())

	require.Len(t, cfg.Strategies, 1)
	sc := cfg.Strategies[0]
	assert.Equal(t, 30*time.Minute, sc.CooldownWindow)
	assert.Equal(t, 30*time.Minute, sc.Rules.Lookback)
	assert.InDelta(t, 300_000, sc.Rules.BlockMinPremium, 1e-9)
	// The strategy premium floor raises the classifier's grouping floor.
	assert.InDelta(t, 250_000, sc.Rules.MinPremium, 1e-9)
}

func TestParse_RejectsMissingProviderURL(t *testing.T) {
	doc := `
strategies:
  - name: sweeps
    interval: "2m"
    watchlist: ["AAPL"]
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParse_RejectsEmptyStrategies(t *testing.T) {
	doc := `
provider:
  base_url: "https://api.example.com"
strategies: []
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParse_RejectsEmptyWatchlist(t *testing.T) {
	doc := `
provider:
  base_url: "https://api.example.com"
strategies:
  - name: sweeps
    interval: "2m"
    watchlist: []
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParse_RejectsBadDuration(t *testing.T) {
	doc := `
provider:
  base_url: "https://api.example.com"
strategies:
  - name: sweeps
    interval: "2 minutes"
    watchlist: ["AAPL"]
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParse_RejectsUnknownCacheBackend(t *testing.T) {
	doc := `
provider:
  base_url: "https://api.example.com"
cache:
  backend: memcached
strategies:
  - name: sweeps
    interval: "2m"
    watchlist: ["AAPL"]
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestDuration_D(t *testing.T) {
	d := Duration(90 * time.Second)
	assert.Equal(t, 90*time.Second, d.D())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
