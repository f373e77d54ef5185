package strategy

import (
	"context"
	"math"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/pricing"
)

// buildCondor0DTE constructs a same-day iron condor: short strikes a fixed
// percentage out of the money on both sides, long wings a further WingPct
// out. Defined risk, so the reserved capital is wing width minus credit.
func buildCondor0DTE(ctx context.Context, d *Descriptor, view MarketView, pricer Pricer) (*Candidate, *Rejection, error) {
	score, _ := entryScore(view.History)
	if score.RSI >= 70 || score.RSI <= 30 {
		return nil, reject(d.ID, "structure", "RSI %.1f signals a directional tape", score.RSI), nil
	}

	spot := view.Today.Open // condor is struck off the open, before the day's range develops
	shortPut := math.Round(spot * (1 - d.OTMPct))
	shortCall := math.Round(spot * (1 + d.OTMPct))
	longPut := math.Round(spot * (1 - d.OTMPct - d.WingPct))
	longCall := math.Round(spot * (1 + d.OTMPct + d.WingPct))

	legs := []ledger.Leg{
		{Right: pricing.Put, Strike: longPut, Qty: 1},
		{Right: pricing.Put, Strike: shortPut, Qty: -1},
		{Right: pricing.Call, Strike: shortCall, Qty: -1},
		{Right: pricing.Call, Strike: longCall, Qty: 1},
	}

	credit, err := PriceStructure(legs, spot, yearsToExpiry(d.TargetDTE), view.Today.IV/100, d.RiskFree, pricer)
	if err != nil {
		return nil, nil, err
	}
	if credit <= 0 {
		return nil, reject(d.ID, "structure", "condor prices to a debit (%.2f)", credit), nil
	}

	width := shortPut - longPut // symmetric wings
	risk := (width - credit) * float64(d.Contracts) * d.Multiplier
	if risk <= 0 {
		return nil, reject(d.ID, "structure", "credit %.2f exceeds wing width %.2f", credit, width), nil
	}

	return &Candidate{
		StrategyID:  d.ID,
		Symbol:      d.Symbol,
		Legs:        legs,
		Expiry:      expiryDate(view.Date, d.TargetDTE),
		EntryCredit: credit,
		RiskCapital: risk,
	}, nil, nil
}

// PriceStructure sums signed leg valuations: negative qty legs are sold, so
// the structure credit is minus the net cost of the legs.
func PriceStructure(legs []ledger.Leg, spot, tte, vol, rate float64, pricer Pricer) (float64, error) {
	var cost float64
	for _, leg := range legs {
		res, err := pricer.Price(pricing.Input{
			Spot: spot, Strike: leg.Strike, TimeToExpiry: tte,
			Vol: vol, Rate: rate, Right: leg.Right,
		})
		if err != nil {
			return 0, err
		}
		cost += float64(leg.Qty) * res.Price
	}
	return -cost, nil
}
