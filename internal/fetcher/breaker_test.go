package fetcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerSet_PassesThroughSuccess(t *testing.T) {
	bs := NewBreakerSet(DefaultBreakerConfig())

	out, err := bs.Execute("primary", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "closed", bs.State("primary"))
}

func TestBreakerSet_TripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 3
	bs := NewBreakerSet(cfg)

	for i := 0; i < 3; i++ {
		_, err := bs.Execute("primary", func() (interface{}, error) {
			return nil, ErrSourceUnavailable
		})
		require.Error(t, err)
	}

	// Breaker is now open: the provider must not be touched.
	called := false
	_, err := bs.Execute("primary", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.False(t, called)
	assert.Equal(t, "open", bs.State("primary"))
}

func TestBreakerSet_PermanentErrorsDoNotTrip(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 3
	bs := NewBreakerSet(cfg)

	// A storm of bad tickers says nothing about venue health.
	for i := 0; i < 20; i++ {
		_, err := bs.Execute("primary", func() (interface{}, error) {
			return nil, ErrInvalidSymbol
		})
		require.ErrorIs(t, err, ErrInvalidSymbol)
	}
	assert.Equal(t, "closed", bs.State("primary"))

	out, err := bs.Execute("primary", func() (interface{}, error) {
		return "still working", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "still working", out)
}

func TestBreakerSet_VenuesAreIsolated(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	bs := NewBreakerSet(cfg)

	for i := 0; i < 2; i++ {
		_, _ = bs.Execute("dead", func() (interface{}, error) {
			return nil, errors.New("boom")
		})
	}
	assert.Equal(t, "open", bs.State("dead"))
	assert.Equal(t, "closed", bs.State("healthy"))

	_, err := bs.Execute("healthy", func() (interface{}, error) { return 1, nil })
	assert.NoError(t, err)
}

func TestBreakerSet_UnseenVenueReportsClosed(t *testing.T) {
	bs := NewBreakerSet(DefaultBreakerConfig())
	assert.Equal(t, "closed", bs.State("never-used"))
}
