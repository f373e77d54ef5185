package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/thetarun/thetarun/internal/marketdata"
)

// HistoryDepth is how many trailing bars the driver hands to Evaluate; it
// covers the longest window any score component needs.
const HistoryDepth = ivRankPeriod

const (
	fastSMAPeriod = 10
	slowSMAPeriod = 30
	rsiPeriod     = 14
	rangePeriod   = 20
	ivRankPeriod  = 60
)

// scoreBreakdown carries the entry score components for logging and audit.
type scoreBreakdown struct {
	Trend  float64 `json:"trend"`   // 0-40: neutral trend scores highest
	Range  float64 `json:"range"`   // 0-30: mid-range spot scores highest
	IVRank float64 `json:"iv_rank"` // 0-30: richer IV scores highest
	Total  float64 `json:"total"`   // 0-100
	RSI    float64 `json:"rsi"`     // informational, consumed by condor rule
}

// entryScore computes the 0-100 entry score for a premium-selling strategy
// from trend neutrality, position within the recent range, and IV rank.
// Pure arithmetic over the history window; deterministic for identical
// inputs. Returns false when the history is too short to score.
func entryScore(history []marketdata.Day) (scoreBreakdown, bool) {
	n := len(history)
	if n < slowSMAPeriod {
		return scoreBreakdown{}, false
	}

	closes := make([]float64, n)
	for i, d := range history {
		closes[i] = d.Close
	}

	fast := talib.Sma(closes, fastSMAPeriod)[n-1]
	slow := talib.Sma(closes, slowSMAPeriod)[n-1]
	rsi := talib.Rsi(closes, rsiPeriod)[n-1]

	// Trend: short premium wants a flat tape. Full marks when fast and slow
	// SMAs agree; zero once they diverge by 3% or more.
	diff := math.Abs(fast-slow) / slow
	trend := 40 * (1 - math.Min(diff/0.03, 1))

	// Range position: mid-range spot leaves room on both sides.
	start := n - rangePeriod
	if start < 0 {
		start = 0
	}
	hi, lo := history[start].High, history[start].Low
	for _, d := range history[start:] {
		hi = math.Max(hi, d.High)
		lo = math.Min(lo, d.Low)
	}
	pos := 0.5
	if hi > lo {
		pos = (history[n-1].Close - lo) / (hi - lo)
	}
	rangeScore := 30 * (1 - 2*math.Abs(pos-0.5))

	// IV rank within the lookback window: richer premium, better entry.
	ivStart := n - ivRankPeriod
	if ivStart < 0 {
		ivStart = 0
	}
	window := history[ivStart:]
	below := 0
	for _, d := range window {
		if d.IV <= history[n-1].IV {
			below++
		}
	}
	ivScore := 30 * float64(below) / float64(len(window))

	return scoreBreakdown{
		Trend:  trend,
		Range:  rangeScore,
		IVRank: ivScore,
		Total:  trend + rangeScore + ivScore,
		RSI:    rsi,
	}, true
}
