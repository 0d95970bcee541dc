package fetcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-venue circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`         // half-open probe budget
	Interval            time.Duration `yaml:"interval"`             // counters reset window
	Timeout             time.Duration `yaml:"timeout"`              // open -> half-open
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // trip threshold
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"` // trip threshold, 0-1
}

// DefaultBreakerConfig matches a polling scanner's tolerance: trip after a
// short burst of failures, probe again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		ErrorRateThreshold:  0.5,
	}
}

// BreakerSet holds one circuit breaker per venue. An open breaker converts
// provider calls into immediate ErrSourceUnavailable so a dead venue does not
// burn the retry budget of every symbol in a chunk.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   BreakerConfig
}

// NewBreakerSet creates an empty breaker set; breakers are created lazily.
func NewBreakerSet(config BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
	}
}

func (bs *BreakerSet) breaker(venue string) *gobreaker.CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[venue]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok := bs.breakers[venue]; ok {
		return cb
	}

	cfg := bs.config
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        venue,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return errorRate >= cfg.ErrorRateThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("venue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
	bs.breakers[venue] = cb
	return cb
}

// Execute runs fn under the venue's breaker. When the breaker is open the
// call is rejected as ErrSourceUnavailable without touching the provider.
// Permanent errors (InvalidSymbol) do not count as breaker failures: a bad
// ticker says nothing about venue health.
func (bs *BreakerSet) Execute(venue string, fn func() (interface{}, error)) (interface{}, error) {
	cb := bs.breaker(venue)

	result, err := cb.Execute(func() (interface{}, error) {
		out, err := fn()
		if err != nil && IsPermanent(err) {
			// Smuggle the permanent error out as a success so gobreaker
			// does not count it against the venue.
			return permanentResult{out: out, err: err}, nil
		}
		return out, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, ErrSourceUnavailable
		}
		return nil, err
	}
	if pr, ok := result.(permanentResult); ok {
		return pr.out, pr.err
	}
	return result, nil
}

// State returns the breaker state string for a venue ("closed" when unseen).
func (bs *BreakerSet) State(venue string) string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if cb, ok := bs.breakers[venue]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

type permanentResult struct {
	out interface{}
	err error
}
