package cooldown

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/flowsentry/flowsentry/internal/models"
)

// Decision is the tracker's verdict for a candidate signal.
type Decision struct {
	Allowed     bool
	RepeatCount int // meaningful only when Allowed
}

// Config tunes dedup and eviction behavior.
type Config struct {
	Window                time.Duration `yaml:"window"`                  // min time between equivalent alerts
	EvictionHorizon       time.Duration `yaml:"eviction_horizon"`        // drop entries idle this long
	PremiumOverrideFactor float64       `yaml:"premium_override_factor"` // larger-premium bypass multiple
	SweepInterval         time.Duration `yaml:"sweep_interval"`          // janitor cadence
}

// DefaultConfig suits a 1-5 minute scan cadence.
func DefaultConfig() Config {
	return Config{
		Window:                10 * time.Minute,
		EvictionHorizon:       4 * time.Hour,
		PremiumOverrideFactor: 1.5,
		SweepInterval:         time.Minute,
	}
}

type entry struct {
	lastAlert   time.Time
	repeatCount int
	lastPremium float64
}

// shardCount trades memory for contention; scans for different symbols must
// never serialize on one lock.
const shardCount = 32

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Tracker is the per-(symbol, signalType) dedup and repeat-count state.
// It is process-wide: scheduler restarts do not reset it. Keys are sharded
// so only same-shard symbols contend.
type Tracker struct {
	cfg    Config
	shards [shardCount]*shard
	stop   chan struct{}
	once   sync.Once
}

// NewTracker creates a tracker and starts its eviction janitor.
func NewTracker(cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.EvictionHorizon <= 0 {
		cfg.EvictionHorizon = DefaultConfig().EvictionHorizon
	}
	if cfg.PremiumOverrideFactor <= 1 {
		cfg.PremiumOverrideFactor = DefaultConfig().PremiumOverrideFactor
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}

	t := &Tracker{cfg: cfg, stop: make(chan struct{})}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	go t.janitor()
	return t
}

func key(symbol string, signalType models.SignalType) string {
	return symbol + "|" + string(signalType)
}

func (t *Tracker) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return t.shards[h.Sum32()%shardCount]
}

// Admit decides whether a signal for (symbol, signalType) may alert at now.
//
// First sighting, or a sighting past the cooldown window: allowed, the entry
// is stamped and the repeat count incremented. Inside the window: suppressed
// and the count left untouched, so rapid near-duplicates cannot inflate the
// repeat bonus. Exception: a premium at least PremiumOverrideFactor times
// the last admitted premium is allowed through — a materially bigger trade
// is new information, not a duplicate.
func (t *Tracker) Admit(symbol string, signalType models.SignalType, premium float64, now time.Time) Decision {
	k := key(symbol, signalType)
	s := t.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[k]
	if !exists {
		s.entries[k] = &entry{lastAlert: now, repeatCount: 1, lastPremium: premium}
		return Decision{Allowed: true, RepeatCount: 1}
	}

	inWindow := now.Sub(e.lastAlert) < t.cfg.Window
	override := e.lastPremium > 0 && premium >= e.lastPremium*t.cfg.PremiumOverrideFactor

	if inWindow && !override {
		return Decision{Allowed: false}
	}

	e.lastAlert = now
	e.repeatCount++
	e.lastPremium = premium
	return Decision{Allowed: true, RepeatCount: e.repeatCount}
}

// RepeatCount returns the current count without admitting anything.
func (t *Tracker) RepeatCount(symbol string, signalType models.SignalType) int {
	k := key(symbol, signalType)
	s := t.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e.repeatCount
	}
	return 0
}

// Len returns the total number of live entries across shards.
func (t *Tracker) Len() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// evict drops entries idle past the horizon; bounds memory over long runs.
func (t *Tracker) evict(now time.Time) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.lastAlert) > t.cfg.EvictionHorizon {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *Tracker) janitor() {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.evict(time.Now())
		case <-t.stop:
			return
		}
	}
}

// Close stops the janitor.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
}
