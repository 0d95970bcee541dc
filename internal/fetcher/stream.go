package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// StreamConfig configures the optional websocket trade stream.
type StreamConfig struct {
	URL           string        `yaml:"url" validate:"omitempty,url"`
	Venue         string        `yaml:"venue"`
	Symbols       []string      `yaml:"symbols"`
	BufferWindow  time.Duration `yaml:"buffer_window"`  // how much trade history to keep warm
	CacheTTL      time.Duration `yaml:"cache_ttl"`      // TTL for pre-warmed entries
	ReconnectWait time.Duration `yaml:"reconnect_wait"` // pause between reconnect attempts
}

// Stream consumes a provider's websocket trade feed and keeps the record
// store warm for subscribed symbols, so overlapping strategy intervals hit
// cache instead of spending REST budget. Strictly an optimization: scans
// work identically with the stream disabled.
type Stream struct {
	cfg   StreamConfig
	store Store

	mu      sync.Mutex
	buffers map[string][]models.RawMarketRecord
}

// NewStream creates a stream writing into store.
func NewStream(cfg StreamConfig, store Store) *Stream {
	if cfg.BufferWindow <= 0 {
		cfg.BufferWindow = 5 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	return &Stream{
		cfg:     cfg,
		store:   store,
		buffers: make(map[string][]models.RawMarketRecord),
	}
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// Run connects, subscribes and consumes until ctx is cancelled, reconnecting
// after read failures. Intended to run in its own goroutine.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("venue", s.cfg.Venue).Msg("trade stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectWait):
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMsg{
		Action:  "subscribe",
		Channel: "trades",
		Symbols: s.cfg.Symbols,
	}); err != nil {
		return err
	}

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var record models.RawMarketRecord
		if err := json.Unmarshal(data, &record); err != nil || record.Symbol == "" {
			continue
		}
		if record.Kind == "" {
			record.Kind = models.KindTrades
		}

		telemetry.StreamMessages.WithLabelValues(s.cfg.Venue).Inc()
		s.ingest(ctx, record)
	}
}

// ingest appends the record to the symbol's rolling buffer, trims entries
// older than the buffer window and refreshes the cache entry.
func (s *Stream) ingest(ctx context.Context, record models.RawMarketRecord) {
	cutoff := time.Now().Add(-s.cfg.BufferWindow)

	s.mu.Lock()
	buf := append(s.buffers[record.Symbol], record)
	trimmed := buf[:0]
	for _, r := range buf {
		if r.Timestamp.After(cutoff) {
			trimmed = append(trimmed, r)
		}
	}
	// Copy out under the lock; the store keeps the slice.
	snapshot := make([]models.RawMarketRecord, len(trimmed))
	copy(snapshot, trimmed)
	s.buffers[record.Symbol] = trimmed
	s.mu.Unlock()

	s.store.Set(ctx, record.Symbol, models.KindTrades, snapshot, s.cfg.CacheTTL)
}
