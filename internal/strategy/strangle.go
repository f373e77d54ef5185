package strategy

import (
	"context"
	"math"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/pricing"
)

// buildStrangle constructs a short strangle with delta-targeted strikes:
// both short strikes are found by bisection against the pricing model, so
// the structure adapts to the day's volatility instead of a fixed distance.
// Undefined risk; reserved capital assumes the max-loss exit fires.
func buildStrangle(ctx context.Context, d *Descriptor, view MarketView, pricer Pricer) (*Candidate, *Rejection, error) {
	spot := view.Today.Close
	tte := yearsToExpiry(d.TargetDTE)
	vol := view.Today.IV / 100

	putStrike, err := pricer.StrikeForDelta(spot, tte, vol, d.RiskFree, pricing.Put, d.ShortDelta)
	if err != nil {
		return nil, nil, err
	}
	callStrike, err := pricer.StrikeForDelta(spot, tte, vol, d.RiskFree, pricing.Call, d.ShortDelta)
	if err != nil {
		return nil, nil, err
	}
	putStrike = math.Round(putStrike)
	callStrike = math.Round(callStrike)
	if putStrike >= callStrike {
		return nil, reject(d.ID, "structure", "strikes collapsed: put %.0f >= call %.0f", putStrike, callStrike), nil
	}

	legs := []ledger.Leg{
		{Right: pricing.Put, Strike: putStrike, Qty: -1},
		{Right: pricing.Call, Strike: callStrike, Qty: -1},
	}

	credit, err := PriceStructure(legs, spot, tte, vol, d.RiskFree, pricer)
	if err != nil {
		return nil, nil, err
	}
	if credit <= 0 {
		return nil, reject(d.ID, "structure", "strangle prices to a debit (%.2f)", credit), nil
	}

	return &Candidate{
		StrategyID:  d.ID,
		Symbol:      d.Symbol,
		Legs:        legs,
		Expiry:      expiryDate(view.Date, d.TargetDTE),
		EntryCredit: credit,
		RiskCapital: credit * d.MaxLossMultiple * float64(d.Contracts) * d.Multiplier,
	}, nil, nil
}
