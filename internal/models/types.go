package models

import (
	"time"
)

// DataKind identifies a class of market data served by the fetcher.
type DataKind string

const (
	KindTrades DataKind = "trades"
	KindQuotes DataKind = "quotes"
	KindChain  DataKind = "chain"
)

// SignalType classifies a detected flow occurrence.
type SignalType string

const (
	SignalSweep    SignalType = "sweep"
	SignalBlock    SignalType = "block"
	SignalBreakout SignalType = "breakout"
	SignalMomentum SignalType = "momentum"
)

// Side is the option side of a flow event.
type Side string

const (
	SideCall Side = "call"
	SidePut  Side = "put"
)

// OptionContract identifies a single listed option.
type OptionContract struct {
	Symbol string    `json:"symbol"`
	Strike float64   `json:"strike"`
	Expiry time.Time `json:"expiry"`
	IsCall bool      `json:"is_call"`
}

// DaysToExpiry returns the contract's remaining lifetime in days at t.
func (c OptionContract) DaysToExpiry(t time.Time) float64 {
	return c.Expiry.Sub(t).Hours() / 24.0
}

// RawMarketRecord is a single normalized trade, quote, or chain entry as
// returned by the market data provider. Records are read-only after fetch.
type RawMarketRecord struct {
	Symbol      string         `json:"symbol"`
	Kind        DataKind       `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	Price       float64        `json:"price"`
	Size        float64        `json:"size"`
	Premium     float64        `json:"premium"` // notional in dollars for option fills
	Venue       string         `json:"venue"`
	OffExchange bool           `json:"off_exchange"`
	Contract    OptionContract `json:"contract,omitempty"`
	Side        Side           `json:"side,omitempty"`
	Spot        float64        `json:"spot,omitempty"` // underlying price at fill time
	Bid         float64        `json:"bid,omitempty"`
	Ask         float64        `json:"ask,omitempty"`
	IV          float64        `json:"iv,omitempty"`
	Volume      float64        `json:"volume,omitempty"`
}

// FlowEvent is a classified occurrence produced by the flow classifier and
// consumed exactly once by the scoring engine.
type FlowEvent struct {
	Symbol      string         `json:"symbol"`
	Type        SignalType     `json:"type"`
	Contract    OptionContract `json:"contract"`
	Side        Side           `json:"side"`
	Premium     float64        `json:"premium"`
	Size        float64        `json:"size"`
	Fills       int            `json:"fills"`
	Venue       string         `json:"venue"`
	OffExchange bool           `json:"off_exchange"`
	Spot        float64        `json:"spot"`
	IV          float64        `json:"iv,omitempty"` // size-weighted implied vol of the fills
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
}

// WindowSpan is the wall-clock span covered by the event's fills.
func (e FlowEvent) WindowSpan() time.Duration {
	return e.WindowEnd.Sub(e.WindowStart)
}

// TrendDirection is the coarse market trend label.
type TrendDirection string

const (
	TrendUp       TrendDirection = "up"
	TrendDown     TrendDirection = "down"
	TrendSideways TrendDirection = "sideways"
)

// VolBucket is the coarse realized-volatility label.
type VolBucket string

const (
	VolLow    VolBucket = "low"
	VolNormal VolBucket = "normal"
	VolHigh   VolBucket = "high"
)

// MarketContextSnapshot is the regime classification shared read-only by all
// strategies during a scan pass. Refreshed at a slower cadence than symbol
// scans; never mutated after creation.
type MarketContextSnapshot struct {
	Trend          TrendDirection `json:"trend"`
	Volatility     VolBucket      `json:"volatility"`
	ReferenceIndex string         `json:"reference_index"`
	ShortMA        float64        `json:"short_ma"`
	LongMA         float64        `json:"long_ma"`
	RealizedVol    float64        `json:"realized_vol"`
	AsOf           time.Time      `json:"as_of"`
}

// ActionTier is the recommended action derived from the composite score.
type ActionTier string

const (
	ActionStrongBuy ActionTier = "STRONG_BUY"
	ActionBuy       ActionTier = "BUY"
	ActionConsider  ActionTier = "CONSIDER"
	ActionMonitor   ActionTier = "MONITOR"
)

// ConfidenceTier buckets the score into a confidence label.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "HIGH"
	ConfidenceMedium ConfidenceTier = "MEDIUM"
	ConfidenceLow    ConfidenceTier = "LOW"
)

// ProfitTier is one staged take-profit target.
type ProfitTier struct {
	TargetPct float64 `json:"target_pct"` // gain on premium, e.g. 0.5 = +50%
	Portion   float64 `json:"portion"`    // fraction of position to close
}

// ExitPlan holds the stop and staged profit targets for a scored signal.
type ExitPlan struct {
	StopLossPct float64      `json:"stop_loss_pct"`
	ProfitTiers []ProfitTier `json:"profit_tiers"`
}

// ScoredSignal is the terminal entity handed to the notification boundary.
// Immutable after creation.
type ScoredSignal struct {
	ID          string                `json:"id"`
	Strategy    string                `json:"strategy"`
	Event       FlowEvent             `json:"event"`
	Score       float64               `json:"score"`
	Action      ActionTier            `json:"action"`
	Confidence  ConfidenceTier        `json:"confidence"`
	RepeatCount int                   `json:"repeat_count"`
	ITMProb     float64               `json:"itm_probability,omitempty"`
	Context     MarketContextSnapshot `json:"context"`
	Exits       ExitPlan              `json:"exits"`
	GeneratedAt time.Time             `json:"generated_at"`
}
