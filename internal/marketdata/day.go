package marketdata

import (
	"time"
)

// VolRegime classifies the current implied volatility environment.
// Ceilings and strategy gating key off this classification, never off
// the raw IV number, so the breakpoints live in exactly one place.
type VolRegime int

const (
	RegimeLow VolRegime = iota
	RegimeNormal
	RegimeElevated
	RegimeHigh
)

func (r VolRegime) String() string {
	switch r {
	case RegimeLow:
		return "low"
	case RegimeNormal:
		return "normal"
	case RegimeElevated:
		return "elevated"
	case RegimeHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Regime breakpoints on the VIX-style IV proxy (percentage points).
const (
	lowVolUpper      = 15.0
	normalVolUpper   = 20.0
	elevatedVolUpper = 30.0
)

// ClassifyRegime maps an implied volatility reading onto a discrete regime.
// IV is expressed in percentage points (VIX convention: 18.5 == 18.5%).
func ClassifyRegime(iv float64) VolRegime {
	switch {
	case iv < lowVolUpper:
		return RegimeLow
	case iv < normalVolUpper:
		return RegimeNormal
	case iv < elevatedVolUpper:
		return RegimeElevated
	default:
		return RegimeHigh
	}
}

// Day is one symbol's immutable daily snapshot. Produced by the data
// collaborator, consumed read-only by the simulation core.
type Day struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	IV     float64   `json:"iv"` // implied volatility proxy, percentage points
}

// Regime derives the volatility regime from the day's IV reading.
func (d Day) Regime() VolRegime {
	return ClassifyRegime(d.IV)
}
