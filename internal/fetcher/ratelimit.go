package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a global requests-per-second ceiling shared by every
// concurrent caller, with optional tighter per-venue buckets layered on top.
// All strategies funnel their provider calls through one Gate so overlapping
// scan cycles cannot exceed the provider's budget in aggregate.
type Gate struct {
	mu     sync.RWMutex
	global *rate.Limiter
	venues map[string]*rate.Limiter
	rps    float64
	burst  int
}

// NewGate creates an admission gate with the given global RPS and burst.
func NewGate(rps float64, burst int) *Gate {
	return &Gate{
		global: rate.NewLimiter(rate.Limit(rps), burst),
		venues: make(map[string]*rate.Limiter),
		rps:    rps,
		burst:  burst,
	}
}

// SetVenueLimit installs a per-venue bucket tighter than the global ceiling.
func (g *Gate) SetVenueLimit(venue string, rps float64, burst int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.venues[venue] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (g *Gate) venueLimiter(venue string) *rate.Limiter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.venues[venue]
}

// Wait blocks until a request for venue is admitted or ctx is cancelled.
// The global bucket is always consulted; the venue bucket only when set.
func (g *Gate) Wait(ctx context.Context, venue string) error {
	if err := g.global.Wait(ctx); err != nil {
		return err
	}
	if vl := g.venueLimiter(venue); vl != nil {
		return vl.Wait(ctx)
	}
	return nil
}

// Allow reports whether a request for venue would be admitted right now
// without blocking. Used by the stream pre-warmer to shed load.
func (g *Gate) Allow(venue string) bool {
	if vl := g.venueLimiter(venue); vl != nil && !vl.Allow() {
		return false
	}
	return g.global.Allow()
}

// SetRPS updates the global ceiling at runtime (config reload).
func (g *Gate) SetRPS(rps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rps = rps
	g.global.SetLimit(rate.Limit(rps))
}

// GateStats is a point-in-time view of the admission gate.
type GateStats struct {
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Stats returns current global bucket state.
func (g *Gate) Stats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := g.global.Reserve()
	delay := res.Delay()
	res.Cancel()

	return GateStats{
		RPS:             g.rps,
		Burst:           g.burst,
		TokensAvailable: g.global.Tokens(),
		Delay:           delay,
	}
}
