package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/marketdata"
	"github.com/thetarun/thetarun/internal/pricing"
)

// histEnding builds n weekday bars ending at the given date: a gently
// oscillating tape around 500 with flat IV, which scores well on every
// entry component without pinning RSI to an extreme.
func histEnding(end time.Time, n int) []marketdata.Day {
	dates := make([]time.Time, 0, n)
	d := end
	for len(dates) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	out := make([]marketdata.Day, n)
	for i := 0; i < n; i++ {
		date := dates[n-1-i]
		close := 500.0
		if i%2 == 0 {
			close += 0.5
		} else {
			close -= 0.5
		}
		out[i] = marketdata.Day{
			Date: date, Open: close, High: close + 1, Low: close - 1, Close: close,
			Volume: 1_000_000, IV: 20,
		}
	}
	return out
}

func viewEnding(end time.Time) MarketView {
	h := histEnding(end, HistoryDepth)
	return MarketView{Date: end, Today: h[len(h)-1], History: h}
}

func condorDescriptor() *Descriptor {
	return &Descriptor{
		ID: "friday-condor", Rule: RuleCondor0DTE, Symbol: "SPY",
		Weekdays: []time.Weekday{time.Friday}, TargetDTE: 0,
		MinIV: 12, MaxIV: 35, MinScore: 60,
		CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
		ProfitTargetFrac: 0.5, MaxLossMultiple: 2.0, MinPhase: 1,
		OTMPct: 0.01, WingPct: 0.005, RiskFree: 0.045,
	}
}

func strangleDescriptor() *Descriptor {
	return &Descriptor{
		ID: "strangle-90", Rule: RuleStrangle, Symbol: "SPY",
		Weekdays: []time.Weekday{time.Wednesday}, TargetDTE: 90,
		MinIV: 15, MaxIV: 50, MinScore: 55,
		CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
		ProfitTargetFrac: 0.5, DefensiveDTE: 21, MaxLossMultiple: 2.5,
		MinPhase: 3, ShortDelta: 0.16, RiskFree: 0.045,
	}
}

func put112Descriptor() *Descriptor {
	return &Descriptor{
		ID: "put-112", Rule: RulePut112, Symbol: "SPY",
		Weekdays: []time.Weekday{time.Monday}, TargetDTE: 120,
		MinIV: 14, MaxIV: 45, MinScore: 55,
		CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
		ProfitTargetFrac: 0.5, DefensiveDTE: 21, MaxLossMultiple: 2.0,
		MinPhase: 2, OTMPct: 0.05, WingPct: 0.02, RiskFree: 0.045,
	}
}

var (
	aFriday    = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	aWednesday = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	aMonday    = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

func TestEvaluateGateOrder(t *testing.T) {
	ctx := context.Background()
	pricer := pricing.Model{}

	t.Run("calendar fires first", func(t *testing.T) {
		d := condorDescriptor()
		view := viewEnding(aMonday)
		view.Today.IV = 5 // would also fail the IV band
		cand, rej, err := Evaluate(ctx, d, view, pricer)
		require.NoError(t, err)
		require.Nil(t, cand)
		require.NotNil(t, rej)
		assert.Equal(t, "calendar", rej.Gate)
	})

	t.Run("iv band", func(t *testing.T) {
		d := condorDescriptor()
		view := viewEnding(aFriday)
		view.Today.IV = 40
		_, rej, err := Evaluate(ctx, d, view, pricer)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, "iv_band", rej.Gate)

		// Upper bound is exclusive.
		view.Today.IV = d.MaxIV
		_, rej, err = Evaluate(ctx, d, view, pricer)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, "iv_band", rej.Gate)
	})

	t.Run("insufficient history", func(t *testing.T) {
		d := condorDescriptor()
		view := viewEnding(aFriday)
		view.History = view.History[len(view.History)-10:]
		_, rej, err := Evaluate(ctx, d, view, pricer)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, "score", rej.Gate)
	})

	t.Run("score threshold", func(t *testing.T) {
		d := condorDescriptor()
		d.MinScore = 101 // unreachable
		_, rej, err := Evaluate(ctx, d, viewEnding(aFriday), pricer)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, "score", rej.Gate)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := Evaluate(cctx, condorDescriptor(), viewEnding(aFriday), pricer)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCondorConstruction(t *testing.T) {
	d := condorDescriptor()
	view := viewEnding(aFriday)
	cand, rej, err := Evaluate(context.Background(), d, view, pricing.Model{})
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, cand)

	require.Len(t, cand.Legs, 4)
	// long put / short put / short call / long call, strikes ascending
	assert.Equal(t, 1, cand.Legs[0].Qty)
	assert.Equal(t, -1, cand.Legs[1].Qty)
	assert.Equal(t, -1, cand.Legs[2].Qty)
	assert.Equal(t, 1, cand.Legs[3].Qty)
	for i := 1; i < 4; i++ {
		assert.Greater(t, cand.Legs[i].Strike, cand.Legs[i-1].Strike)
	}

	assert.Greater(t, cand.EntryCredit, 0.0)
	assert.Greater(t, cand.RiskCapital, 0.0)
	// Defined risk: reserved capital is bounded by the wing width.
	width := cand.Legs[1].Strike - cand.Legs[0].Strike
	assert.LessOrEqual(t, cand.RiskCapital, width*float64(d.Contracts)*d.Multiplier)
	assert.Equal(t, view.Date, cand.Expiry) // same-day expiry
	assert.Greater(t, cand.Score, 0.0)
}

func TestStrangleConstruction(t *testing.T) {
	d := strangleDescriptor()
	view := viewEnding(aWednesday)
	cand, rej, err := Evaluate(context.Background(), d, view, pricing.Model{})
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, cand)

	require.Len(t, cand.Legs, 2)
	spot := view.Today.Close
	put, call := cand.Legs[0], cand.Legs[1]
	assert.Equal(t, pricing.Put, put.Right)
	assert.Equal(t, pricing.Call, call.Right)
	assert.Equal(t, -1, put.Qty)
	assert.Equal(t, -1, call.Qty)
	assert.Less(t, put.Strike, spot)
	assert.Greater(t, call.Strike, spot)

	assert.Greater(t, cand.EntryCredit, 0.0)
	wantRisk := cand.EntryCredit * d.MaxLossMultiple * float64(d.Contracts) * d.Multiplier
	assert.InDelta(t, wantRisk, cand.RiskCapital, 1e-9)
	assert.Equal(t, view.Date.AddDate(0, 0, 90), cand.Expiry)
}

func TestPut112Construction(t *testing.T) {
	d := put112Descriptor()
	view := viewEnding(aMonday)
	cand, rej, err := Evaluate(context.Background(), d, view, pricing.Model{})
	require.NoError(t, err)
	require.Nil(t, rej)
	require.NotNil(t, cand)

	require.Len(t, cand.Legs, 3)
	long, short, naked := cand.Legs[0], cand.Legs[1], cand.Legs[2]
	assert.Equal(t, 1, long.Qty)
	assert.Equal(t, -1, short.Qty)
	assert.Equal(t, -2, naked.Qty)
	assert.Greater(t, long.Strike, short.Strike)
	assert.Greater(t, short.Strike, naked.Strike)
	for _, leg := range cand.Legs {
		assert.Equal(t, pricing.Put, leg.Right)
	}
	assert.Greater(t, cand.EntryCredit, 0.0)
}

func TestEvaluateDeterministic(t *testing.T) {
	d := strangleDescriptor()
	view := viewEnding(aWednesday)

	first, rej, err := Evaluate(context.Background(), d, view, pricing.Model{})
	require.NoError(t, err)
	require.Nil(t, rej)
	second, rej, err := Evaluate(context.Background(), d, view, pricing.Model{})
	require.NoError(t, err)
	require.Nil(t, rej)

	assert.Equal(t, first, second)
}

func TestPriceStructureSignConvention(t *testing.T) {
	view := viewEnding(aWednesday)
	spot := view.Today.Close
	short := []ledger.Leg{{Right: pricing.Put, Strike: spot - 20, Qty: -1}}

	credit, err := PriceStructure(short, spot, yearsToExpiry(30), 0.20, 0.045, pricing.Model{})
	require.NoError(t, err)
	assert.Greater(t, credit, 0.0, "selling an option collects premium")

	long := []ledger.Leg{{Right: pricing.Put, Strike: spot - 20, Qty: 1}}
	debit, err := PriceStructure(long, spot, yearsToExpiry(30), 0.20, 0.045, pricing.Model{})
	require.NoError(t, err)
	assert.InDelta(t, -credit, debit, 1e-12, "buying the same option costs the same premium")
}
