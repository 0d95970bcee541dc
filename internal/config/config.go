package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowsentry/flowsentry/internal/cooldown"
	"github.com/flowsentry/flowsentry/internal/exits"
	"github.com/flowsentry/flowsentry/internal/fetcher"
	"github.com/flowsentry/flowsentry/internal/flow"
	"github.com/flowsentry/flowsentry/internal/regime"
	"github.com/flowsentry/flowsentry/internal/scheduler"
	"github.com/flowsentry/flowsentry/internal/scoring"
)

// Duration parses YAML strings like "45s" or "5m" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Config is the fully resolved runtime configuration.
type Config struct {
	LogLevel      string
	LogFile       LogFileConfig
	TelemetryAddr string
	RiskFreeRate  float64
	StallFactor   int

	Provider     fetcher.HTTPProviderConfig
	Fetch        fetcher.Config
	CacheBackend string // "memory" or "redis"
	Redis        RedisConfig
	Stream       *fetcher.StreamConfig // nil when disabled

	Regime   regime.Config
	Cooldown cooldown.Config
	Exits    exits.Config
	Webhook  WebhookConfig

	Strategies []scheduler.StrategyConfig
}

// LogFileConfig enables rotating file output when Path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RedisConfig locates the shared cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebhookConfig is the outbound alert channel; empty URL means log-only.
type WebhookConfig struct {
	URL      string   `yaml:"url" validate:"omitempty,url"`
	Timeout  Duration `yaml:"timeout"`
	Username string   `yaml:"username"`
}

// file mirrors the YAML document. Durations are strings there, so the file
// shape is kept separate from the package configs it resolves into.
type file struct {
	LogLevel  string        `yaml:"log_level"`
	LogFile   LogFileConfig `yaml:"log_file"`
	Telemetry struct {
		Addr string `yaml:"addr"`
	} `yaml:"telemetry"`
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	StallFactor  int     `yaml:"stall_factor"`

	Provider struct {
		BaseURL string   `yaml:"base_url" validate:"required,url"`
		APIKey  string   `yaml:"api_key"`
		Venue   string   `yaml:"venue"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"provider"`

	Fetch struct {
		RPS         float64  `yaml:"rps" validate:"omitempty,gt=0"`
		Burst       int      `yaml:"burst" validate:"omitempty,gt=0"`
		CacheTTL    Duration `yaml:"cache_ttl"`
		MaxAttempts int      `yaml:"max_attempts"`
		BackoffBase Duration `yaml:"backoff_base"`
		BackoffMax  Duration `yaml:"backoff_max"`
	} `yaml:"fetch"`

	Cache struct {
		Backend string      `yaml:"backend" validate:"omitempty,oneof=memory redis"`
		Redis   RedisConfig `yaml:"redis"`
	} `yaml:"cache"`

	Stream struct {
		Enabled       bool     `yaml:"enabled"`
		URL           string   `yaml:"url" validate:"omitempty,url"`
		Venue         string   `yaml:"venue"`
		Symbols       []string `yaml:"symbols"`
		BufferWindow  Duration `yaml:"buffer_window"`
		CacheTTL      Duration `yaml:"cache_ttl"`
		ReconnectWait Duration `yaml:"reconnect_wait"`
	} `yaml:"stream"`

	Regime struct {
		ReferenceIndex string   `yaml:"reference_index"`
		ShortWindow    int      `yaml:"short_window"`
		LongWindow     int      `yaml:"long_window"`
		LowVol         float64  `yaml:"low_vol"`
		HighVol        float64  `yaml:"high_vol"`
		TrendBandPct   float64  `yaml:"trend_band_pct"`
		RefreshEvery   Duration `yaml:"refresh_every"`
		Lookback       Duration `yaml:"lookback"`
	} `yaml:"regime"`

	Cooldown struct {
		Window                Duration `yaml:"window"`
		EvictionHorizon       Duration `yaml:"eviction_horizon"`
		PremiumOverrideFactor float64  `yaml:"premium_override_factor"`
		SweepInterval         Duration `yaml:"sweep_interval"`
	} `yaml:"cooldown"`

	Exits struct {
		BaseStopPct    float64   `yaml:"base_stop_pct"`
		ShortDTEStop   float64   `yaml:"short_dte_stop"`
		ShortDTEDays   float64   `yaml:"short_dte_days"`
		BaseTargets    []float64 `yaml:"base_targets"`
		TargetPortions []float64 `yaml:"target_portions"`
	} `yaml:"exits"`

	Webhook WebhookConfig `yaml:"webhook"`

	Strategies []fileStrategy `yaml:"strategies" validate:"min=1,dive"`
}

type fileStrategy struct {
	Name           string   `yaml:"name" validate:"required"`
	Interval       Duration `yaml:"interval" validate:"required"`
	MinPremium     float64  `yaml:"min_premium"`
	MinScore       float64  `yaml:"min_score"`
	Watchlist      []string `yaml:"watchlist" validate:"min=1"`
	ChunkSize      int      `yaml:"chunk_size"`
	Concurrency    int      `yaml:"concurrency"`
	ChunkPause     Duration `yaml:"chunk_pause"`
	CooldownWindow Duration `yaml:"cooldown_window"`

	Rules struct {
		Lookback        Duration `yaml:"lookback"`
		GroupWindow     Duration `yaml:"group_window"`
		MinFills        int      `yaml:"min_fills"`
		MinPremium      float64  `yaml:"min_premium"`
		BlockMinPremium float64  `yaml:"block_min_premium"`
		BreakoutPct     float64  `yaml:"breakout_pct"`
		MomentumPct     float64  `yaml:"momentum_pct"`
		VolumeRatio     float64  `yaml:"volume_ratio"`
	} `yaml:"rules"`

	Weights scoring.Weights `yaml:"weights"`
	Bands   scoring.Bands   `yaml:"bands"`
}

// Load reads, defaults and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse resolves a YAML document into a Config.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg := &Config{
		LogLevel:      orDefault(f.LogLevel, "info"),
		LogFile:       f.LogFile,
		TelemetryAddr: orDefault(f.Telemetry.Addr, ":9090"),
		RiskFreeRate:  f.RiskFreeRate,
		StallFactor:   f.StallFactor,
		Webhook:       f.Webhook,
	}
	if cfg.StallFactor <= 0 {
		cfg.StallFactor = 3
	}
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = 0.05
	}

	cfg.Provider = fetcher.HTTPProviderConfig{
		BaseURL: f.Provider.BaseURL,
		APIKey:  f.Provider.APIKey,
		Venue:   f.Provider.Venue,
		Timeout: f.Provider.Timeout.D(),
	}

	cfg.Fetch = fetcher.DefaultConfig()
	if f.Fetch.RPS > 0 {
		cfg.Fetch.RPS = f.Fetch.RPS
	}
	if f.Fetch.Burst > 0 {
		cfg.Fetch.Burst = f.Fetch.Burst
	}
	if f.Fetch.CacheTTL > 0 {
		cfg.Fetch.CacheTTL = f.Fetch.CacheTTL.D()
	}
	if f.Fetch.MaxAttempts > 0 {
		cfg.Fetch.MaxAttempts = f.Fetch.MaxAttempts
	}
	if f.Fetch.BackoffBase > 0 {
		cfg.Fetch.BackoffBase = f.Fetch.BackoffBase.D()
	}
	if f.Fetch.BackoffMax > 0 {
		cfg.Fetch.BackoffMax = f.Fetch.BackoffMax.D()
	}

	cfg.CacheBackend = orDefault(f.Cache.Backend, "memory")
	cfg.Redis = f.Cache.Redis

	if f.Stream.Enabled {
		cfg.Stream = &fetcher.StreamConfig{
			URL:           f.Stream.URL,
			Venue:         orDefault(f.Stream.Venue, cfg.Provider.Venue),
			Symbols:       f.Stream.Symbols,
			BufferWindow:  f.Stream.BufferWindow.D(),
			CacheTTL:      f.Stream.CacheTTL.D(),
			ReconnectWait: f.Stream.ReconnectWait.D(),
		}
	}

	cfg.Regime = regime.DefaultConfig()
	if f.Regime.ReferenceIndex != "" {
		cfg.Regime.ReferenceIndex = f.Regime.ReferenceIndex
	}
	if f.Regime.ShortWindow > 0 {
		cfg.Regime.ShortWindow = f.Regime.ShortWindow
	}
	if f.Regime.LongWindow > 0 {
		cfg.Regime.LongWindow = f.Regime.LongWindow
	}
	if f.Regime.LowVol > 0 {
		cfg.Regime.LowVol = f.Regime.LowVol
	}
	if f.Regime.HighVol > 0 {
		cfg.Regime.HighVol = f.Regime.HighVol
	}
	if f.Regime.TrendBandPct > 0 {
		cfg.Regime.TrendBandPct = f.Regime.TrendBandPct
	}
	if f.Regime.RefreshEvery > 0 {
		cfg.Regime.RefreshEvery = f.Regime.RefreshEvery.D()
	}
	if f.Regime.Lookback > 0 {
		cfg.Regime.Lookback = f.Regime.Lookback.D()
	}

	cfg.Cooldown = cooldown.Config{
		Window:                f.Cooldown.Window.D(),
		EvictionHorizon:       f.Cooldown.EvictionHorizon.D(),
		PremiumOverrideFactor: f.Cooldown.PremiumOverrideFactor,
		SweepInterval:         f.Cooldown.SweepInterval.D(),
	}

	cfg.Exits = exits.DefaultConfig()
	if f.Exits.BaseStopPct > 0 {
		cfg.Exits = exits.Config{
			BaseStopPct:    f.Exits.BaseStopPct,
			ShortDTEStop:   f.Exits.ShortDTEStop,
			ShortDTEDays:   f.Exits.ShortDTEDays,
			BaseTargets:    f.Exits.BaseTargets,
			TargetPortions: f.Exits.TargetPortions,
		}
	}

	for _, fs := range f.Strategies {
		cfg.Strategies = append(cfg.Strategies, resolveStrategy(fs))
	}
	return cfg, nil
}

func resolveStrategy(fs fileStrategy) scheduler.StrategyConfig {
	rules := flow.DefaultRules()
	if fs.Rules.Lookback > 0 {
		rules.Lookback = fs.Rules.Lookback.D()
	}
	if fs.Rules.GroupWindow > 0 {
		rules.GroupWindow = fs.Rules.GroupWindow.D()
	}
	if fs.Rules.MinFills > 0 {
		rules.MinFills = fs.Rules.MinFills
	}
	if fs.Rules.MinPremium > 0 {
		rules.MinPremium = fs.Rules.MinPremium
	}
	if fs.Rules.BlockMinPremium > 0 {
		rules.BlockMinPremium = fs.Rules.BlockMinPremium
	}
	if fs.Rules.BreakoutPct > 0 {
		rules.BreakoutPct = fs.Rules.BreakoutPct
	}
	if fs.Rules.MomentumPct > 0 {
		rules.MomentumPct = fs.Rules.MomentumPct
	}
	if fs.Rules.VolumeRatio > 0 {
		rules.VolumeRatio = fs.Rules.VolumeRatio
	}
	// The strategy's premium floor also bounds what the classifier groups.
	if fs.MinPremium > 0 && fs.MinPremium > rules.MinPremium {
		rules.MinPremium = fs.MinPremium
	}

	weights := fs.Weights
	if weights == (scoring.Weights{}) {
		weights = scoring.DefaultWeights()
	}
	bands := fs.Bands
	if bands == (scoring.Bands{}) {
		bands = scoring.DefaultBands()
	}

	return scheduler.StrategyConfig{
		Name:           fs.Name,
		Interval:       fs.Interval.D(),
		MinPremium:     fs.MinPremium,
		MinScore:       fs.MinScore,
		Watchlist:      fs.Watchlist,
		ChunkSize:      fs.ChunkSize,
		Concurrency:    fs.Concurrency,
		ChunkPause:     fs.ChunkPause.D(),
		CooldownWindow: fs.CooldownWindow.D(),
		Rules:          rules,
		Weights:        weights,
		Bands:          bands,
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
