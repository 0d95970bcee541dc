package pricing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput marks probability inputs outside the model's domain.
// Callers must treat this as "probability unknown", never as zero.
var ErrInvalidInput = errors.New("invalid pricing input")

// ITMProbability estimates the probability that an option finishes
// in-the-money at expiry under a lognormal spot model (the Black-Scholes d2
// term). Pure and deterministic: identical inputs always yield identical
// output in [0, 1].
func ITMProbability(spot, strike, timeToExpiryDays, impliedVol, riskFreeRate float64, isCall bool) (float64, error) {
	if timeToExpiryDays <= 0 {
		return 0, fmt.Errorf("%w: time to expiry %.4f days", ErrInvalidInput, timeToExpiryDays)
	}
	if impliedVol <= 0 {
		return 0, fmt.Errorf("%w: implied vol %.4f", ErrInvalidInput, impliedVol)
	}
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("%w: spot %.4f strike %.4f", ErrInvalidInput, spot, strike)
	}

	t := timeToExpiryDays / 365.0
	volSqrtT := impliedVol * math.Sqrt(t)
	d2 := (math.Log(spot/strike) + (riskFreeRate-0.5*impliedVol*impliedVol)*t) / volSqrtT

	if isCall {
		return normCDF(d2), nil
	}
	return normCDF(-d2), nil
}

// BreakevenMove returns the fractional spot move needed for the contract to
// reach its strike, signed toward the strike. Used by the scorer's
// strike-proximity feature.
func BreakevenMove(spot, strike float64) (float64, error) {
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("%w: spot %.4f strike %.4f", ErrInvalidInput, spot, strike)
	}
	return (strike - spot) / spot, nil
}

// DeltaApprox returns the Black-Scholes delta magnitude, a cheap proxy for
// how directional the contract is.
func DeltaApprox(spot, strike, timeToExpiryDays, impliedVol, riskFreeRate float64, isCall bool) (float64, error) {
	if timeToExpiryDays <= 0 || impliedVol <= 0 || spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("%w: delta inputs out of domain", ErrInvalidInput)
	}

	t := timeToExpiryDays / 365.0
	volSqrtT := impliedVol * math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (riskFreeRate+0.5*impliedVol*impliedVol)*t) / volSqrtT

	if isCall {
		return normCDF(d1), nil
	}
	return normCDF(d1) - 1, nil
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
