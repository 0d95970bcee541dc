package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/flowsentry/flowsentry/internal/models"
	"github.com/flowsentry/flowsentry/internal/pricing"
)

// Weights allocates the 100-point composite across the four feature groups.
// Values are the maximum points each group can contribute.
type Weights struct {
	Base    float64 `yaml:"base"`    // premium size / fill velocity
	Strike  float64 `yaml:"strike"`  // strike proximity + days to expiry
	Context float64 `yaml:"context"` // market regime alignment
	Repeat  float64 `yaml:"repeat"`  // repeat-signal bonus

	RepeatCap int `yaml:"repeat_cap"` // repeats counted toward the bonus
}

// DefaultWeights is the production allocation: 40/25/20/15.
func DefaultWeights() Weights {
	return Weights{Base: 40, Strike: 25, Context: 20, Repeat: 15, RepeatCap: 5}
}

// Bands maps the composite score to action and confidence tiers. Strategy
// configuration owns the cutoffs; the engine only applies them.
type Bands struct {
	StrongBuy float64 `yaml:"strong_buy"`
	Buy       float64 `yaml:"buy"`
	Consider  float64 `yaml:"consider"`

	HighConfidence   float64 `yaml:"high_confidence"`
	MediumConfidence float64 `yaml:"medium_confidence"`
}

// DefaultBands is the production banding.
func DefaultBands() Bands {
	return Bands{StrongBuy: 85, Buy: 70, Consider: 55, HighConfidence: 80, MediumConfidence: 60}
}

// Engine computes composite scores. Deterministic: identical event, context,
// repeat count and clock always produce the same score and tiers.
type Engine struct {
	weights  Weights
	bands    Bands
	riskFree float64
}

// NewEngine creates a scoring engine; zero-value weights/bands fall back to
// the defaults.
func NewEngine(weights Weights, bands Bands, riskFree float64) *Engine {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if bands == (Bands{}) {
		bands = DefaultBands()
	}
	return &Engine{weights: weights, bands: bands, riskFree: riskFree}
}

// Score combines the event's features, the shared market context and the
// cooldown tracker's repeat count into a ScoredSignal. The score is clamped
// to [0, 100] and is monotone non-decreasing in premium and repeat count
// with all other features held fixed.
func (e *Engine) Score(event models.FlowEvent, ctx models.MarketContextSnapshot, repeatCount int, now time.Time) models.ScoredSignal {
	itmProb, itmKnown := e.itmProbability(event, now)

	base := e.weights.Base * baseFeature(event)
	strike := e.weights.Strike * strikeFeature(event, itmProb, itmKnown, now)
	context := e.weights.Context * contextFeature(event, ctx)
	repeat := e.weights.Repeat * repeatFeature(repeatCount, e.weights.RepeatCap)

	score := clamp(base+strike+context+repeat, 0, 100)

	signal := models.ScoredSignal{
		ID:          uuid.NewString(),
		Event:       event,
		Score:       score,
		Action:      e.action(score),
		Confidence:  e.confidence(score),
		RepeatCount: repeatCount,
		Context:     ctx,
		GeneratedAt: now,
	}
	if itmKnown {
		signal.ITMProb = itmProb
	}
	return signal
}

func (e *Engine) action(score float64) models.ActionTier {
	switch {
	case score >= e.bands.StrongBuy:
		return models.ActionStrongBuy
	case score >= e.bands.Buy:
		return models.ActionBuy
	case score >= e.bands.Consider:
		return models.ActionConsider
	default:
		return models.ActionMonitor
	}
}

func (e *Engine) confidence(score float64) models.ConfidenceTier {
	switch {
	case score >= e.bands.HighConfidence:
		return models.ConfidenceHigh
	case score >= e.bands.MediumConfidence:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// itmProbability returns the d2 estimate when the event carries a contract
// leg with usable IV, and reports whether the probability is known. Unknown
// never maps to zero.
func (e *Engine) itmProbability(event models.FlowEvent, now time.Time) (float64, bool) {
	if event.Contract.Strike == 0 || event.Spot <= 0 || event.IV <= 0 {
		return 0, false
	}
	prob, err := pricing.ITMProbability(
		event.Spot,
		event.Contract.Strike,
		event.Contract.DaysToExpiry(now),
		event.IV,
		e.riskFree,
		event.Contract.IsCall,
	)
	if err != nil {
		return 0, false
	}
	return prob, true
}

// baseFeature scales premium and fill velocity into [0, 1]. Log-scaled so a
// $75k sweep and a $7.5M block both land in a useful range; strictly
// non-decreasing in premium.
func baseFeature(event models.FlowEvent) float64 {
	if event.Premium <= 0 {
		return 0
	}

	// 0 at $10k, 1 at ~$10M.
	premium := clamp(math.Log10(event.Premium/10_000)/3.0, 0, 1)

	fills := clamp(float64(event.Fills)/10.0, 0, 1)

	velocity := 0.0
	if span := event.WindowSpan().Seconds(); span > 0 && event.Fills > 1 {
		velocity = clamp(float64(event.Fills)/span/0.5, 0, 1) // 0.5 fills/sec = max
	}

	return 0.6*premium + 0.25*fills + 0.15*velocity
}

// strikeFeature rewards contracts close to the money with tradable time on
// the clock. Events without a contract leg (breakout, momentum) score the
// neutral midpoint so price-action signals aren't structurally penalized.
func strikeFeature(event models.FlowEvent, itmProb float64, itmKnown bool, now time.Time) float64 {
	if event.Contract.Strike == 0 {
		return 0.5
	}

	proximity := 0.5 // probability unknown: neutral, never zero
	if itmKnown {
		proximity = itmProb
	}

	dte := event.Contract.DaysToExpiry(now)
	sweet := 0.0
	switch {
	case dte <= 0:
		sweet = 0
	case dte < 7:
		sweet = dte / 7
	case dte <= 45:
		sweet = 1
	default:
		sweet = clamp(1-(dte-45)/120, 0.2, 1)
	}

	return 0.6*proximity + 0.4*sweet
}

// contextFeature scores regime alignment: direction agreement with the trend
// plus a volatility adjustment. Bounded [0, 1].
func contextFeature(event models.FlowEvent, ctx models.MarketContextSnapshot) float64 {
	bullish := event.Side == models.SideCall

	alignment := 0.5
	switch ctx.Trend {
	case models.TrendUp:
		if bullish {
			alignment = 1.0
		} else {
			alignment = 0.2
		}
	case models.TrendDown:
		if bullish {
			alignment = 0.2
		} else {
			alignment = 1.0
		}
	}

	volAdj := 0.5
	switch ctx.Volatility {
	case models.VolLow:
		volAdj = 0.7
	case models.VolHigh:
		volAdj = 0.3
	}

	return 0.7*alignment + 0.3*volAdj
}

// repeatFeature is proportional to min(repeatCount, cap).
func repeatFeature(repeatCount, limit int) float64 {
	if limit <= 0 {
		limit = DefaultWeights().RepeatCap
	}
	if repeatCount > limit {
		repeatCount = limit
	}
	if repeatCount < 0 {
		repeatCount = 0
	}
	return float64(repeatCount) / float64(limit)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
