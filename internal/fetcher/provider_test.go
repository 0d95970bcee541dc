package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/internal/models"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPProvider(HTTPProviderConfig{
		BaseURL: server.URL,
		Venue:   "test",
		Timeout: 2 * time.Second,
	})
}

func TestHTTPProvider_FetchOK(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/trades/AAPL", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		assert.NotEmpty(t, r.URL.Query().Get("to"))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"records": []map[string]interface{}{
				{"price": 187.5, "size": 100},
				{"symbol": "AAPL", "kind": "trades", "price": 187.6, "size": 200},
			},
		})
	})

	records, err := p.Fetch(context.Background(), "AAPL", models.KindTrades, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Bare records get symbol and kind stamped.
	assert.Equal(t, "AAPL", records[0].Symbol)
	assert.Equal(t, models.KindTrades, records[0].Kind)
}

func TestHTTPProvider_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrInvalidSymbol},
		{http.StatusInternalServerError, ErrSourceUnavailable},
		{http.StatusBadGateway, ErrSourceUnavailable},
	}

	for _, tc := range cases {
		p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := p.Fetch(context.Background(), "AAPL", models.KindTrades, time.Minute)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestHTTPProvider_TransportErrorIsTransient(t *testing.T) {
	p := NewHTTPProvider(HTTPProviderConfig{
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Venue:   "test",
		Timeout: 200 * time.Millisecond,
	})

	_, err := p.Fetch(context.Background(), "AAPL", models.KindTrades, time.Minute)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestHTTPProvider_UnknownKind(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := p.Fetch(context.Background(), "AAPL", models.DataKind("bogus"), time.Minute)
	assert.Error(t, err)
}

func TestHTTPProvider_DefaultVenue(t *testing.T) {
	p := NewHTTPProvider(HTTPProviderConfig{BaseURL: "http://example.com"})
	assert.Equal(t, "primary", p.Venue())
}
