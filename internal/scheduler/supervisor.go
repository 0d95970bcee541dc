package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flowsentry/flowsentry/internal/telemetry"
)

// Health is the supervisory track of a strategy instance.
type Health string

const (
	HealthHealthy    Health = "healthy"
	HealthStalled    Health = "stalled"
	HealthRestarting Health = "restarting"
)

// RunnerFactory builds a fresh runner. Called once at start and again after
// every restart; in-flight state from the previous incarnation is discarded.
// The cooldown tracker lives outside the factory so it survives.
type RunnerFactory func() *Runner

// Supervisor watches one strategy's cycle heartbeats and restarts the runner
// when no cycle completes within stallFactor times the scan interval.
// Modeled as an explicit monitor, not error-driven control flow: a stall is
// an absence of progress, which no error path can observe.
type Supervisor struct {
	name        string
	interval    time.Duration
	stallFactor int
	factory     RunnerFactory

	lastBeat atomic.Int64 // unix nanos of last completed cycle

	mu     sync.RWMutex
	health Health
}

// NewSupervisor creates a supervisor for one strategy.
func NewSupervisor(name string, interval time.Duration, stallFactor int, factory RunnerFactory) *Supervisor {
	if stallFactor < 2 {
		stallFactor = 3
	}
	return &Supervisor{
		name:        name,
		interval:    interval,
		stallFactor: stallFactor,
		factory:     factory,
		health:      HealthHealthy,
	}
}

// Health returns the current supervisory state.
func (s *Supervisor) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *Supervisor) setHealth(h Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *Supervisor) beat(t time.Time) {
	s.lastBeat.Store(t.UnixNano())
}

func (s *Supervisor) stallThreshold() time.Duration {
	return time.Duration(s.stallFactor) * s.interval
}

// Run launches the runner and monitors it until ctx is cancelled. On stall
// the runner's context is cancelled, partial results die with it, and a new
// runner starts from Idle.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		runner := s.factory()
		runner.SetHeartbeat(s.beat)
		s.beat(time.Now()) // grace period before the first cycle counts
		s.setHealth(HealthHealthy)

		done := make(chan struct{})
		go func() {
			defer close(done)
			runner.Run(runCtx)
		}()

		stalled := s.monitor(ctx, done)
		cancel()
		<-done

		if !stalled {
			// Parent cancellation: clean shutdown.
			return
		}

		s.setHealth(HealthRestarting)
		telemetry.SupervisorRestarts.WithLabelValues(s.name).Inc()
		log.Error().
			Str("strategy", s.name).
			Dur("threshold", s.stallThreshold()).
			Msg("strategy stalled, restarting runner")
	}
}

// monitor returns true when a stall was detected, false when ctx ended or
// the runner exited on its own.
func (s *Supervisor) monitor(ctx context.Context, done <-chan struct{}) bool {
	check := s.interval
	if check > time.Second {
		check = time.Second * time.Duration(1+int(s.interval.Seconds())/4)
	}

	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		case <-ticker.C:
			last := time.Unix(0, s.lastBeat.Load())
			if time.Since(last) > s.stallThreshold() {
				s.setHealth(HealthStalled)
				return true
			}
		}
	}
}
