package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/flowsentry/flowsentry/internal/models"
)

// Provider is the market data boundary: read-only queries for normalized
// trade/quote/chain records. Implementations translate their transport's
// failure modes into the fetcher error taxonomy.
type Provider interface {
	// Venue names the upstream for rate limiting and circuit breaking.
	Venue() string
	// Fetch returns records for symbol/kind covering the lookback window.
	Fetch(ctx context.Context, symbol string, kind models.DataKind, lookback time.Duration) ([]models.RawMarketRecord, error)
}

// HTTPProviderConfig configures the REST market data client.
type HTTPProviderConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Venue   string        `yaml:"venue"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPProvider queries a REST market data service. Retry policy lives in the
// Fetcher, not here: the client performs exactly one attempt per call so the
// backoff schedule stays in one place.
type HTTPProvider struct {
	client *resty.Client
	venue  string
}

// NewHTTPProvider builds a provider from config.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	venue := cfg.Venue
	if venue == "" {
		venue = "primary"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "flowsentry/1.0")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &HTTPProvider{client: client, venue: venue}
}

// Venue implements Provider.
func (p *HTTPProvider) Venue() string { return p.venue }

var kindPaths = map[models.DataKind]string{
	models.KindTrades: "/v1/trades/{symbol}",
	models.KindQuotes: "/v1/quotes/{symbol}",
	models.KindChain:  "/v1/chain/{symbol}",
}

// Fetch implements Provider. HTTP 429 maps to ErrRateLimited, 404 to
// ErrInvalidSymbol, everything else non-2xx (and transport errors) to
// ErrSourceUnavailable.
func (p *HTTPProvider) Fetch(ctx context.Context, symbol string, kind models.DataKind, lookback time.Duration) ([]models.RawMarketRecord, error) {
	path, ok := kindPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown data kind %q", kind)
	}

	now := time.Now().UTC()
	var payload struct {
		Records []models.RawMarketRecord `json:"records"`
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"from": now.Add(-lookback).Format(time.RFC3339),
			"to":   now.Format(time.RFC3339),
		}).
		SetResult(&payload).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	case resp.StatusCode() >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode())
	}

	// Stamp symbol and kind on records the provider left bare.
	records := payload.Records
	for i := range records {
		if records[i].Symbol == "" {
			records[i].Symbol = symbol
		}
		if records[i].Kind == "" {
			records[i].Kind = kind
		}
	}
	return records, nil
}
