package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/models"
)

func testSignal(symbol string, score float64) models.ScoredSignal {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	return models.ScoredSignal{
		ID:       "test-id",
		Strategy: "sweeps",
		Event: models.FlowEvent{
			Symbol:  symbol,
			Type:    models.SignalSweep,
			Side:    models.SideCall,
			Premium: 150_000,
			Fills:   5,
			Contract: models.OptionContract{
				Symbol: symbol,
				Strike: 190,
				Expiry: now.Add(21 * 24 * time.Hour),
				IsCall: true,
			},
		},
		Score:       score,
		Action:      models.ActionBuy,
		Confidence:  models.ConfidenceMedium,
		RepeatCount: 2,
		ITMProb:     0.45,
		Context: models.MarketContextSnapshot{
			Trend:      models.TrendUp,
			Volatility: models.VolNormal,
		},
		Exits: models.ExitPlan{
			StopLossPct: 0.5,
			ProfitTiers: []models.ProfitTier{{TargetPct: 0.25, Portion: 0.4}},
		},
		GeneratedAt: now,
	}
}

type capturedPost struct {
	payload webhookPayload
}

func newWebhookServer(t *testing.T, status int) (*WebhookSink, *[]capturedPost) {
	t.Helper()
	var (
		mu    sync.Mutex
		posts []capturedPost
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		posts = append(posts, capturedPost{payload: p})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	sink := NewWebhookSink(WebhookConfig{
		URL:      server.URL,
		Timeout:  2 * time.Second,
		Username: "FlowSentry",
	})
	return sink, &posts
}

func TestWebhookSink_DeliverSingleBatch(t *testing.T) {
	sink, posts := newWebhookServer(t, http.StatusNoContent)

	signals := []models.ScoredSignal{testSignal("AAPL", 72), testSignal("TSLA", 88)}
	require.NoError(t, sink.Deliver(context.Background(), signals))

	require.Len(t, *posts, 1)
	payload := (*posts)[0].payload
	assert.Equal(t, "FlowSentry", payload.Username)
	require.Len(t, payload.Embeds, 2)
	assert.Contains(t, payload.Embeds[0].Title, "AAPL")
	assert.Contains(t, payload.Embeds[0].Description, "Premium")
}

func TestWebhookSink_EmptyBatchIsNoop(t *testing.T) {
	sink, posts := newWebhookServer(t, http.StatusNoContent)
	require.NoError(t, sink.Deliver(context.Background(), nil))
	assert.Empty(t, *posts)
}

func TestWebhookSink_SplitsLargeBatches(t *testing.T) {
	sink, posts := newWebhookServer(t, http.StatusNoContent)

	signals := make([]models.ScoredSignal, 23)
	for i := range signals {
		signals[i] = testSignal("AAPL", 70)
	}
	require.NoError(t, sink.Deliver(context.Background(), signals))

	require.Len(t, *posts, 3) // 10 + 10 + 3
	assert.Len(t, (*posts)[0].payload.Embeds, 10)
	assert.Len(t, (*posts)[2].payload.Embeds, 3)
}

func TestWebhookSink_ServerErrorReturned(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	sink := NewWebhookSink(WebhookConfig{URL: server.URL, Timeout: time.Second})
	err := sink.Deliver(context.Background(), []models.ScoredSignal{testSignal("AAPL", 70)})
	assert.Error(t, err)
}

func TestActionColor(t *testing.T) {
	assert.Equal(t, 0x2ecc71, actionColor(models.ActionStrongBuy))
	assert.Equal(t, 0x3498db, actionColor(models.ActionBuy))
	assert.Equal(t, 0xf1c40f, actionColor(models.ActionConsider))
	assert.Equal(t, 0x95a5a6, actionColor(models.ActionMonitor))
}

func TestEmbedTitle(t *testing.T) {
	title := embedTitle(testSignal("NVDA", 83))
	assert.Contains(t, title, "SWEEP")
	assert.Contains(t, title, "NVDA")
	assert.Contains(t, title, "CALL")
	assert.Contains(t, title, "83")
}
