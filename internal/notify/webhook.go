package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// WebhookConfig configures the outbound alert channel.
type WebhookConfig struct {
	URL      string        `yaml:"url" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout"`
	Username string        `yaml:"username"`
}

// WebhookSink posts signal batches to a discord-compatible webhook. Timeouts
// are short by design: a slow channel must not back up the posting phase.
type WebhookSink struct {
	client   *resty.Client
	url      string
	name     string
	username string
}

// NewWebhookSink builds the sink from config.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{client: client, url: cfg.URL, name: "webhook", username: cfg.Username}
}

// Name implements Sink.
func (s *WebhookSink) Name() string { return s.name }

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type webhookPayload struct {
	Username string         `json:"username,omitempty"`
	Content  string         `json:"content,omitempty"`
	Embeds   []webhookEmbed `json:"embeds"`
}

// Deliver posts the batch as one message with an embed per signal. Webhook
// APIs cap embeds per message, so large batches are split.
func (s *WebhookSink) Deliver(ctx context.Context, signals []models.ScoredSignal) error {
	if len(signals) == 0 {
		return nil
	}

	const maxEmbeds = 10
	for start := 0; start < len(signals); start += maxEmbeds {
		end := start + maxEmbeds
		if end > len(signals) {
			end = len(signals)
		}
		if err := s.post(ctx, signals[start:end]); err != nil {
			telemetry.NotifyDeliveries.WithLabelValues(s.name, "error").Inc()
			return err
		}
		telemetry.NotifyDeliveries.WithLabelValues(s.name, "ok").Inc()
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, signals []models.ScoredSignal) error {
	payload := webhookPayload{Username: s.username, Embeds: make([]webhookEmbed, 0, len(signals))}
	for _, sig := range signals {
		payload.Embeds = append(payload.Embeds, webhookEmbed{
			Title:       embedTitle(sig),
			Description: embedBody(sig),
			Color:       actionColor(sig.Action),
			Timestamp:   sig.GeneratedAt.UTC().Format(time.RFC3339),
		})
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("webhook post: status %d", resp.StatusCode())
	}
	log.Debug().Int("signals", len(signals)).Msg("webhook batch delivered")
	return nil
}

func embedTitle(sig models.ScoredSignal) string {
	return fmt.Sprintf("%s %s %s — %.0f (%s)",
		strings.ToUpper(string(sig.Event.Type)),
		sig.Event.Symbol,
		strings.ToUpper(string(sig.Event.Side)),
		sig.Score,
		sig.Action,
	)
}

func embedBody(sig models.ScoredSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Premium: $%.0f | Fills: %d | Repeat: %d\n",
		sig.Event.Premium, sig.Event.Fills, sig.RepeatCount)
	if sig.Event.Contract.Strike > 0 {
		fmt.Fprintf(&b, "Contract: %.2f %s %s\n",
			sig.Event.Contract.Strike,
			sideLabel(sig.Event.Contract.IsCall),
			sig.Event.Contract.Expiry.Format("2006-01-02"))
	}
	if sig.ITMProb > 0 {
		fmt.Fprintf(&b, "ITM probability: %.0f%%\n", sig.ITMProb*100)
	}
	fmt.Fprintf(&b, "Regime: %s/%s | Confidence: %s\n",
		sig.Context.Trend, sig.Context.Volatility, sig.Confidence)
	fmt.Fprintf(&b, "Stop: -%.0f%%", sig.Exits.StopLossPct*100)
	for _, tier := range sig.Exits.ProfitTiers {
		fmt.Fprintf(&b, " | T+%.0f%%", tier.TargetPct*100)
	}
	return b.String()
}

func sideLabel(isCall bool) string {
	if isCall {
		return "C"
	}
	return "P"
}

func actionColor(action models.ActionTier) int {
	switch action {
	case models.ActionStrongBuy:
		return 0x2ecc71
	case models.ActionBuy:
		return 0x3498db
	case models.ActionConsider:
		return 0xf1c40f
	default:
		return 0x95a5a6
	}
}
