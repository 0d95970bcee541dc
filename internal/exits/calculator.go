package exits

import (
	"github.com/flowsentry/flowsentry/internal/models"
)

// Config holds the exit-level tuning. Targets are fractions of the entry
// premium: 0.5 means +50%.
type Config struct {
	BaseStopPct    float64   `yaml:"base_stop_pct"`   // default premium stop
	ShortDTEStop   float64   `yaml:"short_dte_stop"`  // tighter stop under ShortDTEDays
	ShortDTEDays   float64   `yaml:"short_dte_days"`  // expiry proximity threshold
	BaseTargets    []float64 `yaml:"base_targets"`    // staged profit targets
	TargetPortions []float64 `yaml:"target_portions"` // position fraction per stage
}

// DefaultConfig returns the production exit tuning: 50% stop (35% inside a
// week of expiry) and three staged targets at +25/+50/+100%.
func DefaultConfig() Config {
	return Config{
		BaseStopPct:    0.50,
		ShortDTEStop:   0.35,
		ShortDTEDays:   7,
		BaseTargets:    []float64{0.25, 0.50, 1.00},
		TargetPortions: []float64{0.40, 0.35, 0.25},
	}
}

// Calculator derives stop-loss and staged take-profit levels from a scored
// signal. Pure: no I/O, no failure modes, always returns a plan.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator; a zero-value config gets defaults.
func NewCalculator(cfg Config) *Calculator {
	if cfg.BaseStopPct <= 0 {
		cfg = DefaultConfig()
	}
	return &Calculator{cfg: cfg}
}

// Levels computes the exit plan. Conviction widens the profit ladder:
// a score of 100 stretches targets by 1.25x, a score of 0 compresses them
// to 0.75x. Contracts inside the short-DTE threshold get the tighter stop
// and a compressed ladder, since theta leaves no room to wait.
func (c *Calculator) Levels(signal models.ScoredSignal) models.ExitPlan {
	conviction := 0.75 + 0.5*(signal.Score/100.0)

	dte := signal.Event.Contract.DaysToExpiry(signal.GeneratedAt)
	shortDTE := signal.Event.Contract.Strike > 0 && dte < c.cfg.ShortDTEDays

	stop := c.cfg.BaseStopPct
	ladder := conviction
	if shortDTE {
		stop = c.cfg.ShortDTEStop
		ladder *= 0.7
	}

	tiers := make([]models.ProfitTier, 0, len(c.cfg.BaseTargets))
	for i, target := range c.cfg.BaseTargets {
		portion := 0.0
		if i < len(c.cfg.TargetPortions) {
			portion = c.cfg.TargetPortions[i]
		}
		tiers = append(tiers, models.ProfitTier{
			TargetPct: target * ladder,
			Portion:   portion,
		})
	}

	return models.ExitPlan{
		StopLossPct: stop,
		ProfitTiers: tiers,
	}
}
