package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// Sink delivers a batch of scored signals. Delivery is best-effort: an error
// is informational, the scheduler never blocks a scan cycle on it.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, signals []models.ScoredSignal) error
}

// LogSink writes signals to the structured log. Used for dry runs and as a
// fallback when no webhook is configured.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (LogSink) Deliver(_ context.Context, signals []models.ScoredSignal) error {
	for _, s := range signals {
		log.Info().
			Str("id", s.ID).
			Str("strategy", s.Strategy).
			Str("symbol", s.Event.Symbol).
			Str("type", string(s.Event.Type)).
			Float64("premium", s.Event.Premium).
			Float64("score", s.Score).
			Str("action", string(s.Action)).
			Str("confidence", string(s.Confidence)).
			Int("repeat", s.RepeatCount).
			Msg("signal")
		telemetry.NotifyDeliveries.WithLabelValues("log", "ok").Inc()
	}
	return nil
}

// MultiSink fans a batch out to several sinks; the first error is returned
// after every sink has been attempted.
type MultiSink []Sink

// Name implements Sink.
func (MultiSink) Name() string { return "multi" }

// Deliver implements Sink.
func (m MultiSink) Deliver(ctx context.Context, signals []models.ScoredSignal) error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Deliver(ctx, signals); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
