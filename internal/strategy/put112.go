package strategy

import (
	"context"
	"math"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/pricing"
)

// buildPut112 constructs the 1-1-2: a put debit spread financed by two naked
// puts further out of the money. Strikes step down from spot by OTMPct and
// then WingPct increments. The naked puts make this an undefined-risk trade.
func buildPut112(ctx context.Context, d *Descriptor, view MarketView, pricer Pricer) (*Candidate, *Rejection, error) {
	spot := view.Today.Close
	tte := yearsToExpiry(d.TargetDTE)
	vol := view.Today.IV / 100

	longPut := math.Round(spot * (1 - d.OTMPct))
	shortPut := math.Round(spot * (1 - d.OTMPct - d.WingPct))
	nakedPut := math.Round(spot * (1 - d.OTMPct - 3*d.WingPct))
	if nakedPut <= 0 || nakedPut >= shortPut || shortPut >= longPut {
		return nil, reject(d.ID, "structure", "strike ladder collapsed at spot %.2f", spot), nil
	}

	legs := []ledger.Leg{
		{Right: pricing.Put, Strike: longPut, Qty: 1},
		{Right: pricing.Put, Strike: shortPut, Qty: -1},
		{Right: pricing.Put, Strike: nakedPut, Qty: -2},
	}

	credit, err := PriceStructure(legs, spot, tte, vol, d.RiskFree, pricer)
	if err != nil {
		return nil, nil, err
	}
	if credit <= 0 {
		return nil, reject(d.ID, "structure", "1-1-2 prices to a debit (%.2f)", credit), nil
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
