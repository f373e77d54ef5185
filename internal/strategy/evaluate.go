package strategy

import (
	"context"
	"time"
)

// Evaluate runs the ordered entry gates for one strategy on one day and, if
// all pass, hands off to the strategy's rule function for strike
// construction. At most one candidate per strategy per day.
//
// Gate order is fixed and short-circuits: calendar, IV band, entry score.
// No pricing happens until every gate has passed.
func Evaluate(ctx context.Context, d *Descriptor, view MarketView, pricer Pricer) (*Candidate, *Rejection, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if !d.TradesOn(view.Date.Weekday()) {
		return nil, reject(d.ID, "calendar", "%s is not a trading day for this strategy", view.Date.Weekday()), nil
	}

	iv := view.Today.IV
	if iv < d.MinIV || iv >= d.MaxIV {
		return nil, reject(d.ID, "iv_band", "IV %.1f outside [%.1f, %.1f)", iv, d.MinIV, d.MaxIV), nil
	}

	score, ok := entryScore(view.History)
	if !ok {
		return nil, reject(d.ID, "score", "insufficient history: %d days", len(view.History)), nil
	}
	if score.Total < d.MinScore {
		return nil, reject(d.ID, "score", "entry score %.1f below threshold %.1f", score.Total, d.MinScore), nil
	}

	rule := ruleRegistry[d.Rule]
	cand, rej, err := rule(ctx, d, view, pricer)
	if err != nil || rej != nil {
		return nil, rej, err
	}
	cand.Score = score.Total
	return cand, nil, nil
}

// yearsToExpiry converts a whole-day DTE into pricing time. The half-day
// offset keeps same-day expiries strictly positive for the pricing model.
func yearsToExpiry(dte int) float64 {
	return (float64(dte) + 0.5) / 365.0
}

// expiryDate returns the calendar expiration for a target DTE.
func expiryDate(on time.Time, dte int) time.Time {
	return on.AddDate(0, 0, dte)
}
