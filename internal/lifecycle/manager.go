// Package lifecycle evaluates open positions for exit, once per simulated
// day, in strict priority order. The first matching trigger wins and a
// position is never acted on twice in a day.
package lifecycle

import (
	"context"
	"fmt"
	"math"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/marketdata"
	"github.com/thetarun/thetarun/internal/pricing"
	"github.com/thetarun/thetarun/internal/strategy"
)

// ExitReason identifies the exit trigger, ordered by evaluation precedence.
type ExitReason int

const (
	NoExit ExitReason = iota
	Expiration
	ProfitTarget   // takes priority over everything below: never give back a realized gain
	MaxLoss
	DefensiveRoll  // untested side rolled; modeled as close + reopen
	DefensiveClose // time-based strategies force close at the defensive DTE
)

func (r ExitReason) String() string {
	switch r {
	case NoExit:
		return "no_exit"
	case Expiration:
		return "expiration"
	case ProfitTarget:
		return "profit_target"
	case MaxLoss:
		return "max_loss"
	case DefensiveRoll:
		return "defensive_roll"
	case DefensiveClose:
		return "defensive_close"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one day's evaluation of one position.
type Decision struct {
	ShouldExit  bool          `json:"should_exit"`
	Reason      ExitReason    `json:"reason"`
	Status      ledger.Status `json:"status,omitempty"`     // terminal status on exit
	ExitValue   float64       `json:"exit_value,omitempty"` // cost to close, per structure per contract
	PnL         float64       `json:"pnl"`                  // dollars, realized if exiting, marked if holding
	Roll        bool          `json:"roll,omitempty"`
	RollLegs    []ledger.Leg  `json:"roll_legs,omitempty"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
}

// Evaluator applies the exit state machine. It holds no per-position state;
// the ledger owns the positions and this evaluator only reads them.
type Evaluator struct {
	pricer strategy.Pricer
}

func NewEvaluator(pricer strategy.Pricer) *Evaluator {
	return &Evaluator{pricer: pricer}
}

// EvaluateExit marks the position to market and walks the trigger ladder:
// expiration, profit target, max loss, defensive threshold, hold.
func (e *Evaluator) EvaluateExit(ctx context.Context, pos *ledger.Position, desc *strategy.Descriptor, day marketdata.Day) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pos.Status != ledger.Open {
		return nil, fmt.Errorf("evaluate exit: position %s is %s, not open", pos.ID, pos.Status)
	}

	dte := pos.DTE(day.Date)

	// 1. Expiration: settle at intrinsic value, classified by P&L sign.
	if dte == 0 {
		cost := IntrinsicCost(pos.Legs, day.Close)
		pnl := pos.PnLAt(cost)
		return &Decision{
			ShouldExit:  true,
			Reason:      Expiration,
			Status:      ClassifyBySign(pnl),
			ExitValue:   cost,
			PnL:         pnl,
			TriggeredBy: fmt.Sprintf("expired at settlement %.2f", day.Close),
		}, nil
	}

	cost, err := strategy.PriceStructure(pos.Legs, day.Close, (float64(dte)+0.5)/365.0, day.IV/100, desc.RiskFree, e.pricer)
	if err != nil {
		return nil, fmt.Errorf("mark position %s: %w", pos.ID, err)
	}
	pnl := pos.PnLAt(cost)
	maxProfit := pos.MaxProfit()

	// 2. Profit target.
	if target := desc.ProfitTargetFrac * maxProfit; pnl >= target {
		return &Decision{
			ShouldExit:  true,
			Reason:      ProfitTarget,
			Status:      ledger.ClosedProfit,
			ExitValue:   cost,
			PnL:         pnl,
			TriggeredBy: fmt.Sprintf("P&L %.2f reached target %.2f (%.0f%% of max profit)", pnl, target, desc.ProfitTargetFrac*100),
		}, nil
	}

	// 3. Maximum loss, measured against the entry credit.
	if limit := desc.MaxLossMultiple * maxProfit; pnl <= -limit {
		return &Decision{
			ShouldExit:  true,
			Reason:      MaxLoss,
			Status:      ledger.ClosedLoss,
			ExitValue:   cost,
			PnL:         pnl,
			TriggeredBy: fmt.Sprintf("loss %.2f breached limit %.2f (%.1fx credit)", -pnl, limit, desc.MaxLossMultiple),
		}, nil
	}

	// 4. Defensive threshold.
	if desc.DefensiveDTE > 0 && dte <= desc.DefensiveDTE {
		if desc.Rule == strategy.RuleStrangle {
			return e.rollUntested(pos, desc, day, cost, pnl, dte)
		}
		return &Decision{
			ShouldExit:  true,
			Reason:      DefensiveClose,
			Status:      ClassifyBySign(pnl),
			ExitValue:   cost,
			PnL:         pnl,
			TriggeredBy: fmt.Sprintf("%d DTE at defensive threshold %d", dte, desc.DefensiveDTE),
		}, nil
	}

	// 5. Hold.
	return &Decision{Reason: NoExit, PnL: pnl}, nil
}

// rollUntested closes the strangle and proposes reopening it with the
// untested side (the strike farther from spot) re-struck at the original
// delta target. The tested side is left alone: rolling it would lock in the
// loss the defensive window exists to manage.
func (e *Evaluator) rollUntested(pos *ledger.Position, desc *strategy.Descriptor, day marketdata.Day, cost, pnl float64, dte int) (*Decision, error) {
	spot := day.Close
	tte := (float64(dte) + 0.5) / 365.0

	var putIdx, callIdx = -1, -1
	for i, leg := range pos.Legs {
		switch leg.Right {
		case pricing.Put:
			putIdx = i
		case pricing.Call:
			callIdx = i
		}
	}
	if putIdx < 0 || callIdx < 0 {
		return nil, fmt.Errorf("roll position %s: strangle legs missing", pos.ID)
	}

	// Untested side is the one spot has moved away from.
	untested := putIdx
	if math.Abs(spot-pos.Legs[callIdx].Strike) > math.Abs(spot-pos.Legs[putIdx].Strike) {
		untested = callIdx
	}

	newStrike, err := e.pricer.StrikeForDelta(spot, tte, day.IV/100, desc.RiskFree, pos.Legs[untested].Right, desc.ShortDelta)
	if err != nil {
		return nil, fmt.Errorf("roll position %s: %w", pos.ID, err)
	}
	newStrike = math.Round(newStrike)

	rollLegs := make([]ledger.Leg, len(pos.Legs))
	copy(rollLegs, pos.Legs)
	rollLegs[untested].Strike = newStrike

	// A roll that changes nothing, or collapses the strangle, degrades to a
	// plain defensive close.
	if newStrike == pos.Legs[untested].Strike || rollLegs[putIdx].Strike >= rollLegs[callIdx].Strike {
		return &Decision{
			ShouldExit:  true,
			Reason:      DefensiveClose,
			Status:      ClassifyBySign(pnl),
			ExitValue:   cost,
			PnL:         pnl,
			TriggeredBy: fmt.Sprintf("%d DTE defensive, roll not viable", dte),
		}, nil
	}

	return &Decision{
		ShouldExit:  true,
		Reason:      DefensiveRoll,
		Status:      ClassifyBySign(pnl),
		ExitValue:   cost,
		PnL:         pnl,
		Roll:        true,
		RollLegs:    rollLegs,
		TriggeredBy: fmt.Sprintf("%d DTE defensive, untested %s rolled to %.0f", dte, pos.Legs[untested].Right, newStrike),
	}, nil
}

// ClassifyBySign maps realized P&L onto the terminal status set. Flat
// outcomes map to ClosedExpired regardless of trigger: it is the only
// neutral terminal state, and a flat defensive or derisk close carries no
// more information than a flat expiry.
func ClassifyBySign(pnl float64) ledger.Status {
	const epsilon = 0.005 // under half a cent is flat
	switch {
	case pnl > epsilon:
		return ledger.ClosedProfit
	case pnl < -epsilon:
		return ledger.ClosedLoss
	default:
		return ledger.ClosedExpired
	}
}

// IntrinsicCost values the structure at expiration settlement.
func IntrinsicCost(legs []ledger.Leg, settle float64) float64 {
	var cost float64
	for _, leg := range legs {
		var v float64
		switch leg.Right {
		case pricing.Call:
			v = math.Max(settle-leg.Strike, 0)
		case pricing.Put:
			v = math.Max(leg.Strike-settle, 0)
		}
		cost += float64(leg.Qty) * v
	}
	return -cost
}
