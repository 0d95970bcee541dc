package regime

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/flowsentry/flowsentry/internal/models"
)

// ErrInsufficientData is returned when the reference index tape is too short
// to compute both moving averages.
var ErrInsufficientData = errors.New("insufficient reference index data")

// Config tunes the context classifier.
type Config struct {
	ReferenceIndex string        `yaml:"reference_index"` // e.g. "SPY"
	ShortWindow    int           `yaml:"short_window"`    // prints in the short MA
	LongWindow     int           `yaml:"long_window"`     // prints in the long MA
	LowVol         float64       `yaml:"low_vol"`         // annualized, below = LOW
	HighVol        float64       `yaml:"high_vol"`        // annualized, above = HIGH
	TrendBandPct   float64       `yaml:"trend_band_pct"`  // MA gap inside band = SIDEWAYS
	RefreshEvery   time.Duration `yaml:"refresh_every"`
	Lookback       time.Duration `yaml:"lookback"`
}

// DefaultConfig matches an intraday scan cadence against a broad index.
func DefaultConfig() Config {
	return Config{
		ReferenceIndex: "SPY",
		ShortWindow:    10,
		LongWindow:     40,
		LowVol:         0.12,
		HighVol:        0.25,
		TrendBandPct:   0.0015,
		RefreshEvery:   5 * time.Minute,
		Lookback:       2 * time.Hour,
	}
}

// Classify derives the coarse regime from the reference index tape: trend
// from short- vs long-window moving averages, volatility bucket from
// annualized realized vol of the short window.
func Classify(records []models.RawMarketRecord, cfg Config) (models.MarketContextSnapshot, error) {
	prices, times := priceSeries(records)
	if len(prices) < cfg.LongWindow || cfg.ShortWindow <= 1 {
		return models.MarketContextSnapshot{}, ErrInsufficientData
	}

	shortMA := mean(prices[len(prices)-cfg.ShortWindow:])
	longMA := mean(prices[len(prices)-cfg.LongWindow:])

	trend := models.TrendSideways
	gap := (shortMA - longMA) / longMA
	switch {
	case gap > cfg.TrendBandPct:
		trend = models.TrendUp
	case gap < -cfg.TrendBandPct:
		trend = models.TrendDown
	}

	rv := realizedVol(prices[len(prices)-cfg.ShortWindow:], times[len(times)-cfg.ShortWindow:])
	bucket := models.VolNormal
	switch {
	case rv < cfg.LowVol:
		bucket = models.VolLow
	case rv > cfg.HighVol:
		bucket = models.VolHigh
	}

	return models.MarketContextSnapshot{
		Trend:          trend,
		Volatility:     bucket,
		ReferenceIndex: cfg.ReferenceIndex,
		ShortMA:        shortMA,
		LongMA:         longMA,
		RealizedVol:    rv,
		AsOf:           times[len(times)-1],
	}, nil
}

func priceSeries(records []models.RawMarketRecord) ([]float64, []time.Time) {
	sorted := make([]models.RawMarketRecord, 0, len(records))
	for _, r := range records {
		if r.Price > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	prices := make([]float64, len(sorted))
	times := make([]time.Time, len(sorted))
	for i, r := range sorted {
		prices[i] = r.Price
		times[i] = r.Timestamp
	}
	return prices, times
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// realizedVol annualizes the stddev of log returns using the observed
// average spacing between prints.
func realizedVol(prices []float64, times []time.Time) float64 {
	if len(prices) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}

	m := mean(returns)
	variance := 0.0
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	variance /= float64(len(returns) - 1)

	spacing := times[len(times)-1].Sub(times[0]).Seconds() / float64(len(times)-1)
	if spacing <= 0 {
		return 0
	}
	periodsPerYear := (365.25 * 24 * 3600) / spacing
	return math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}
