// Package pricing provides closed-form option valuation used to mark
// positions to market during simulation. Every function here is pure:
// identical inputs yield bit-for-bit identical outputs, which the
// simulation's determinism guarantee depends on.
package pricing

import (
	"fmt"
	"math"
)

// Right identifies the option type of a single leg.
type Right int

const (
	Call Right = iota
	Put
)

func (r Right) String() string {
	switch r {
	case Call:
		return "call"
	case Put:
		return "put"
	default:
		return "unknown"
	}
}

// InvalidInputError reports a degenerate pricing input. It is fatal to the
// single valuation that produced it, never to the run.
type InvalidInputError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid pricing input %s=%g: %s", e.Field, e.Value, e.Reason)
}

// Input bundles the Black-Scholes parameters for one leg.
type Input struct {
	Spot         float64 // underlying price
	Strike       float64
	TimeToExpiry float64 // years
	Vol          float64 // annualized, decimal (0.20 = 20%)
	Rate         float64 // risk-free, decimal
	Right        Right
}

// Result holds the theoretical price and first/second-order sensitivities.
// Theta is per calendar day; Vega is per one volatility point (0.01).
type Result struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Model is the production pricer. It carries no state; the struct exists so
// callers can depend on a narrow interface and tests can wrap it.
type Model struct{}

// Price values a single European option leg under Black-Scholes.
func (Model) Price(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	sqrtT := math.Sqrt(in.TimeToExpiry)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+0.5*in.Vol*in.Vol)*in.TimeToExpiry) / (in.Vol * sqrtT)
	d2 := d1 - in.Vol*sqrtT
	discount := math.Exp(-in.Rate * in.TimeToExpiry)

	pdf := normPDF(d1)
	gamma := pdf / (in.Spot * in.Vol * sqrtT)
	vega := in.Spot * pdf * sqrtT / 100.0

	var price, delta, theta float64
	switch in.Right {
	case Call:
		price = in.Spot*normCDF(d1) - in.Strike*discount*normCDF(d2)
		delta = normCDF(d1)
		theta = (-in.Spot*pdf*in.Vol/(2*sqrtT) - in.Rate*in.Strike*discount*normCDF(d2)) / 365.0
	case Put:
		price = in.Strike*discount*normCDF(-d2) - in.Spot*normCDF(-d1)
		delta = normCDF(d1) - 1
		theta = (-in.Spot*pdf*in.Vol/(2*sqrtT) + in.Rate*in.Strike*discount*normCDF(-d2)) / 365.0
	}

	return Result{Price: price, Delta: delta, Gamma: gamma, Theta: theta, Vega: vega}, nil
}

// StrikeForDelta finds the strike whose Black-Scholes delta magnitude matches
// target (e.g. 0.16 for a 16-delta wing). Bisection over a wide strike
// bracket keeps the search deterministic for identical inputs.
func (m Model) StrikeForDelta(spot, tte, vol, rate float64, right Right, target float64) (float64, error) {
	if target <= 0 || target >= 1 {
		return 0, &InvalidInputError{Field: "target_delta", Value: target, Reason: "must be in (0, 1)"}
	}

	lo, hi := spot*0.2, spot*3.0
	for i := 0; i < 96; i++ {
		mid := (lo + hi) / 2
		res, err := m.Price(Input{Spot: spot, Strike: mid, TimeToExpiry: tte, Vol: vol, Rate: rate, Right: right})
		if err != nil {
			return 0, err
		}
		// |delta| falls as calls move OTM (strike up) and rises for puts.
		if math.Abs(res.Delta) > target {
			if right == Call {
				lo = mid
			} else {
				hi = mid
			}
		} else {
			if right == Call {
				hi = mid
			} else {
				lo = mid
			}
		}
	}
	return (lo + hi) / 2, nil
}

func validate(in Input) error {
	switch {
	case in.TimeToExpiry <= 0:
		return &InvalidInputError{Field: "time_to_expiry", Value: in.TimeToExpiry, Reason: "must be > 0"}
	case in.Vol <= 0:
		return &InvalidInputError{Field: "vol", Value: in.Vol, Reason: "must be > 0"}
	case in.Spot <= 0:
		return &InvalidInputError{Field: "spot", Value: in.Spot, Reason: "must be > 0"}
	case in.Strike <= 0:
		return &InvalidInputError{Field: "strike", Value: in.Strike, Reason: "must be > 0"}
	case math.IsNaN(in.Spot) || math.IsNaN(in.Vol) || math.IsNaN(in.Rate):
		return &InvalidInputError{Field: "input", Value: math.NaN(), Reason: "NaN parameter"}
	case in.Right != Call && in.Right != Put:
		return &InvalidInputError{Field: "right", Value: float64(in.Right), Reason: "unknown option right"}
	}
	return nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
