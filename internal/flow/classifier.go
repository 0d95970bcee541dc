package flow

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowsentry/flowsentry/internal/models"
)

// Rules are the strategy-specific classification thresholds. The mechanism
// (time-window grouping, fill velocity) is fixed; the constants come from
// configuration.
type Rules struct {
	Lookback        time.Duration `yaml:"lookback"`
	GroupWindow     time.Duration `yaml:"group_window"`      // rolling window for sweep grouping
	MinFills        int           `yaml:"min_fills"`         // fills required inside the window
	MinPremium      float64       `yaml:"min_premium"`       // aggregate premium floor, dollars
	BlockMinPremium float64       `yaml:"block_min_premium"` // single off-exchange print floor
	BreakoutPct     float64       `yaml:"breakout_pct"`      // move above prior high, e.g. 0.02
	MomentumPct     float64       `yaml:"momentum_pct"`      // directional move over lookback
	VolumeRatio     float64       `yaml:"volume_ratio"`      // recent vs baseline volume
}

// DefaultRules mirrors the common tuning for a liquid large-cap watchlist.
func DefaultRules() Rules {
	return Rules{
		Lookback:        15 * time.Minute,
		GroupWindow:     30 * time.Second,
		MinFills:        3,
		MinPremium:      50_000,
		BlockMinPremium: 250_000,
		BreakoutPct:     0.015,
		MomentumPct:     0.02,
		VolumeRatio:     2.0,
	}
}

// Classify turns raw records into an ordered sequence of flow events.
// Absence of signal is not a failure: an empty slice is the normal result.
func Classify(records []models.RawMarketRecord, rules Rules) []models.FlowEvent {
	if len(records) == 0 {
		return nil
	}

	var events []models.FlowEvent
	events = append(events, classifyBlocks(records, rules)...)
	events = append(events, classifySweeps(records, rules)...)
	events = append(events, classifyPriceAction(records, rules)...)

	sort.Slice(events, func(i, j int) bool {
		if !events[i].WindowStart.Equal(events[j].WindowStart) {
			return events[i].WindowStart.Before(events[j].WindowStart)
		}
		return events[i].Type < events[j].Type
	})
	return events
}

// classifyBlocks emits one event per qualifying off-exchange print.
func classifyBlocks(records []models.RawMarketRecord, rules Rules) []models.FlowEvent {
	var events []models.FlowEvent
	for _, r := range records {
		if r.Kind != models.KindTrades || !r.OffExchange {
			continue
		}
		if r.Premium < rules.BlockMinPremium {
			continue
		}
		events = append(events, models.FlowEvent{
			Symbol:      r.Symbol,
			Type:        models.SignalBlock,
			Contract:    r.Contract,
			Side:        r.Side,
			Premium:     r.Premium,
			Size:        r.Size,
			Fills:       1,
			Venue:       r.Venue,
			OffExchange: true,
			Spot:        r.Spot,
			IV:          r.IV,
			WindowStart: r.Timestamp,
			WindowEnd:   r.Timestamp,
		})
	}
	return events
}

// contractKey groups fills belonging to one conviction trade.
func contractKey(r models.RawMarketRecord) string {
	return fmt.Sprintf("%s|%.2f|%d|%v|%s",
		r.Contract.Symbol, r.Contract.Strike, r.Contract.Expiry.Unix(), r.Contract.IsCall, r.Side)
}

// candidate is a contiguous run of fills inside the grouping window.
type candidate struct {
	start, end int // half-open index range into the sorted fill slice
	premium    float64
	size       float64
	span       time.Duration
}

func (c candidate) fills() int { return c.end - c.start }

// classifySweeps groups temporally-close lit-exchange fills per contract/side
// and emits an event for each qualifying, non-overlapping grouping.
func classifySweeps(records []models.RawMarketRecord, rules Rules) []models.FlowEvent {
	byContract := make(map[string][]models.RawMarketRecord)
	for _, r := range records {
		if r.Kind != models.KindTrades || r.OffExchange || r.Contract.Strike == 0 {
			continue
		}
		byContract[contractKey(r)] = append(byContract[contractKey(r)], r)
	}

	keys := make([]string, 0, len(byContract))
	for k := range byContract {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic event order regardless of map iteration

	var events []models.FlowEvent
	for _, key := range keys {
		fills := byContract[key]
		sort.Slice(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })
		for _, c := range selectGroupings(fills, rules) {
			first, last := fills[c.start], fills[c.end-1]
			events = append(events, models.FlowEvent{
				Symbol:      first.Symbol,
				Type:        models.SignalSweep,
				Contract:    first.Contract,
				Side:        first.Side,
				Premium:     c.premium,
				Size:        c.size,
				Fills:       c.fills(),
				Venue:       first.Venue,
				Spot:        last.Spot,
				IV:          weightedIV(fills[c.start:c.end]),
				WindowStart: first.Timestamp,
				WindowEnd:   last.Timestamp,
			})
		}
	}
	return events
}

// selectGroupings finds qualifying fill clusters. Every maximal window
// starting at each fill is considered; overlapping candidates are resolved
// by preference: comparable premium goes to the grouping with more fills in
// the shorter span (higher conviction), otherwise higher premium wins.
func selectGroupings(fills []models.RawMarketRecord, rules Rules) []candidate {
	var cands []candidate
	for i := range fills {
		premium, size := 0.0, 0.0
		j := i
		for ; j < len(fills) && fills[j].Timestamp.Sub(fills[i].Timestamp) <= rules.GroupWindow; j++ {
			premium += fills[j].Premium
			size += fills[j].Size
		}
		c := candidate{
			start:   i,
			end:     j,
			premium: premium,
			size:    size,
			span:    fills[j-1].Timestamp.Sub(fills[i].Timestamp),
		}
		if c.fills() >= rules.MinFills && c.premium >= rules.MinPremium {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return nil
	}

	sort.Slice(cands, func(i, j int) bool { return preferGrouping(cands[i], cands[j]) })

	var selected []candidate
	used := make([]bool, len(fills))
	for _, c := range cands {
		overlap := false
		for k := c.start; k < c.end; k++ {
			if used[k] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		for k := c.start; k < c.end; k++ {
			used[k] = true
		}
		selected = append(selected, c)
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].start < selected[j].start })
	return selected
}

// preferGrouping reports whether a beats b. Premiums within 10% of each
// other count as comparable; then more fills win, then the shorter span.
func preferGrouping(a, b candidate) bool {
	larger := a.premium
	if b.premium > larger {
		larger = b.premium
	}
	if larger > 0 && abs(a.premium-b.premium)/larger > 0.10 {
		return a.premium > b.premium
	}
	if a.fills() != b.fills() {
		return a.fills() > b.fills()
	}
	return a.span < b.span
}

// weightedIV is the size-weighted implied vol across the grouped fills.
func weightedIV(fills []models.RawMarketRecord) float64 {
	totalSize, weighted := 0.0, 0.0
	for _, f := range fills {
		if f.IV > 0 && f.Size > 0 {
			weighted += f.IV * f.Size
			totalSize += f.Size
		}
	}
	if totalSize == 0 {
		return 0
	}
	return weighted / totalSize
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// classifyPriceAction derives breakout and momentum events from the
// underlying's trade tape (records without a contract leg).
func classifyPriceAction(records []models.RawMarketRecord, rules Rules) []models.FlowEvent {
	var tape []models.RawMarketRecord
	for _, r := range records {
		if r.Kind == models.KindTrades && !r.OffExchange && r.Contract.Strike == 0 && r.Price > 0 {
			tape = append(tape, r)
		}
	}
	if len(tape) < 4 {
		return nil
	}
	sort.Slice(tape, func(i, j int) bool { return tape[i].Timestamp.Before(tape[j].Timestamp) })

	var events []models.FlowEvent

	// Breakout: the latest print clears the prior window high with a volume
	// spike versus the baseline.
	half := len(tape) / 2
	priorHigh := 0.0
	for _, r := range tape[:len(tape)-1] {
		if r.Price > priorHigh {
			priorHigh = r.Price
		}
	}
	last := tape[len(tape)-1]
	recentVol := sumVolume(tape[half:])
	baseVol := sumVolume(tape[:half])
	volRatio := 0.0
	if baseVol > 0 {
		volRatio = recentVol / baseVol
	}
	if priorHigh > 0 && last.Price >= priorHigh*(1+rules.BreakoutPct) && volRatio >= rules.VolumeRatio {
		events = append(events, models.FlowEvent{
			Symbol:      last.Symbol,
			Type:        models.SignalBreakout,
			Side:        models.SideCall,
			Premium:     last.Price * recentVol,
			Size:        recentVol,
			Fills:       len(tape) - half,
			Venue:       last.Venue,
			Spot:        last.Price,
			WindowStart: tape[half].Timestamp,
			WindowEnd:   last.Timestamp,
		})
	}

	// Momentum: sustained directional move over the lookback with most
	// prints agreeing on direction.
	first := tape[0]
	move := (last.Price - first.Price) / first.Price
	if abs(move) >= rules.MomentumPct && directionalAgreement(tape, move > 0) >= 0.7 {
		side := models.SideCall
		if move < 0 {
			side = models.SidePut
		}
		events = append(events, models.FlowEvent{
			Symbol:      last.Symbol,
			Type:        models.SignalMomentum,
			Side:        side,
			Premium:     last.Price * sumVolume(tape),
			Size:        sumVolume(tape),
			Fills:       len(tape),
			Venue:       last.Venue,
			Spot:        last.Price,
			WindowStart: first.Timestamp,
			WindowEnd:   last.Timestamp,
		})
	}

	return events
}

func sumVolume(records []models.RawMarketRecord) float64 {
	total := 0.0
	for _, r := range records {
		if r.Volume > 0 {
			total += r.Volume
		} else {
			total += r.Size
		}
	}
	return total
}

// directionalAgreement is the fraction of consecutive prints moving with the
// overall direction.
func directionalAgreement(tape []models.RawMarketRecord, up bool) float64 {
	if len(tape) < 2 {
		return 0
	}
	agree := 0
	for i := 1; i < len(tape); i++ {
		delta := tape[i].Price - tape[i-1].Price
		if (up && delta >= 0) || (!up && delta <= 0) {
			agree++
		}
	}
	return float64(agree) / float64(len(tape)-1)
}
