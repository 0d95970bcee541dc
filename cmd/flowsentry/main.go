package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flowsentry/flowsentry/internal/config"
	"github.com/flowsentry/flowsentry/internal/cooldown"
	"github.com/flowsentry/flowsentry/internal/exits"
	"github.com/flowsentry/flowsentry/internal/fetcher"
	"github.com/flowsentry/flowsentry/internal/notify"
	"github.com/flowsentry/flowsentry/internal/regime"
	"github.com/flowsentry/flowsentry/internal/scheduler"
	"github.com/flowsentry/flowsentry/internal/scoring"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

const (
	appName = "flowsentry"
	version = "v1.2.0"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Unusual options flow and dark pool scanner",
		Version: version,
		Long: `FlowSentry watches a symbol watchlist for unusual market activity —
options sweeps, dark-pool blocks, breakouts and momentum — scores what it
finds against the market regime and posts deduplicated alerts.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "Path to YAML configuration")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle per strategy and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), configPath)
		},
	}

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run all strategies continuously under supervision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(configPath)
		},
	}

	rootCmd.AddCommand(scanCmd, daemonCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if term.IsTerminal(int(os.Stderr.Fd())) {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		writers = append(writers, os.Stderr)
	}
	if cfg.LogFile.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// app holds the wired process-wide components.
type app struct {
	cfg      *config.Config
	fetch    *fetcher.Fetcher
	store    fetcher.Store
	holder   *regime.Holder
	calc     *exits.Calculator
	sink     notify.Sink
	trackers map[string]*cooldown.Tracker
}

func buildApp(cfg *config.Config) *app {
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("FLOWSENTRY_API_KEY")
	}

	var store fetcher.Store
	if cfg.CacheBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = fetcher.NewRedisStore(client, "")
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis record cache")
	} else {
		store = fetcher.NewMemoryStore(time.Minute)
	}

	provider := fetcher.NewHTTPProvider(cfg.Provider)
	fetch := fetcher.New(provider, store, cfg.Fetch)

	var sink notify.Sink = notify.LogSink{}
	if cfg.Webhook.URL != "" {
		sink = notify.MultiSink{
			notify.LogSink{},
			notify.NewWebhookSink(notify.WebhookConfig{
				URL:      cfg.Webhook.URL,
				Timeout:  cfg.Webhook.Timeout.D(),
				Username: cfg.Webhook.Username,
			}),
		}
	}

	// One tracker per strategy so each honors its own cooldown window.
	// Trackers are process-wide: supervisor restarts never reset them.
	trackers := make(map[string]*cooldown.Tracker, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		tc := cfg.Cooldown
		if sc.CooldownWindow > 0 {
			tc.Window = sc.CooldownWindow
		}
		trackers[sc.Name] = cooldown.NewTracker(tc)
	}

	return &app{
		cfg:      cfg,
		fetch:    fetch,
		store:    store,
		holder:   regime.NewHolder(),
		calc:     exits.NewCalculator(cfg.Exits),
		sink:     sink,
		trackers: trackers,
	}
}

func (a *app) runner(sc scheduler.StrategyConfig) *scheduler.Runner {
	engine := scoring.NewEngine(sc.Weights, sc.Bands, a.cfg.RiskFreeRate)
	return scheduler.NewRunner(sc, a.fetch, engine, a.trackers[sc.Name], a.calc, a.holder, a.sink)
}

func runScan(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	a := buildApp(cfg)
	defer a.store.Close()

	refresher := regime.NewRefresher(a.holder, a.fetch, cfg.Regime)
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	refresher.RefreshOnce(refreshCtx)
	cancel()

	for _, sc := range cfg.Strategies {
		signals, err := a.runner(sc).Scan(ctx)
		if err != nil {
			return err
		}
		if len(signals) > 0 {
			if err := a.sink.Deliver(ctx, signals); err != nil {
				log.Warn().Err(err).Str("strategy", sc.Name).Msg("delivery failed")
			}
		}
		log.Info().Str("strategy", sc.Name).Int("signals", len(signals)).Msg("scan complete")
	}
	return nil
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	log.Info().Str("version", version).Int("strategies", len(cfg.Strategies)).Msg("flowsentry starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := buildApp(cfg)
	defer a.store.Close()

	server := telemetry.NewServer(cfg.TelemetryAddr)
	go server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if cfg.Stream != nil {
		stream := fetcher.NewStream(*cfg.Stream, a.store)
		go stream.Run(ctx)
	}

	refresher := regime.NewRefresher(a.holder, a.fetch, cfg.Regime)
	go refresher.Run(ctx)

	var wg sync.WaitGroup
	for _, sc := range cfg.Strategies {
		sc := sc
		sup := scheduler.NewSupervisor(sc.Name, sc.Interval, cfg.StallFactor, func() *scheduler.Runner {
			return a.runner(sc)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run(ctx)
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	wg.Wait()
	for _, t := range a.trackers {
		t.Close()
	}
	return nil
}
