// Package ledger is the authoritative record of positions, capital, and
// buying power for one simulation run. A Ledger is owned by exactly one
// driver instance; nothing in this package is shared across runs.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thetarun/thetarun/internal/pricing"
)

// Status is a position's lifecycle state. Transitions are monotone:
// Open moves to exactly one terminal state and never back.
type Status int

const (
	Open Status = iota
	ClosedProfit
	ClosedLoss
	ClosedExpired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case ClosedProfit:
		return "closed_profit"
	case ClosedLoss:
		return "closed_loss"
	case ClosedExpired:
		return "closed_expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a closed state.
func (s Status) Terminal() bool {
	return s == ClosedProfit || s == ClosedLoss || s == ClosedExpired
}

// Leg is one option contract within a structure. Qty is signed:
// negative for short legs, positive for long legs, per contract.
type Leg struct {
	Right  pricing.Right `json:"right"`
	Strike float64       `json:"strike"`
	Qty    int           `json:"qty"`
}

// Position is the central mutable entity of a run. It is created by the
// driver accepting a candidate, mutated only by the lifecycle evaluation
// (via Ledger.Close), and never deleted: closed positions stay on the
// ledger as the audit trail.
type Position struct {
	ID               string    `json:"id"`
	StrategyID       string    `json:"strategy_id"`
	Symbol           string    `json:"symbol"`
	OpenDate         time.Time `json:"open_date"`
	Expiry           time.Time `json:"expiry"`
	Legs             []Leg     `json:"legs"`
	EntryCredit      float64   `json:"entry_credit"` // per structure, per contract; positive = credit received
	Contracts        int       `json:"contracts"`
	Multiplier       float64   `json:"multiplier"`
	CorrelationGroup string    `json:"correlation_group"`
	RiskCapital      float64   `json:"risk_capital"` // dollars of buying power reserved

	Status      Status          `json:"status"`
	ExitDate    time.Time       `json:"exit_date,omitempty"`
	ExitValue   float64         `json:"exit_value,omitempty"` // cost to close, per structure per contract
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	ExitReason  string          `json:"exit_reason,omitempty"`

	// MarkPnL is the last evaluated unrealized P&L in dollars. Tracked for
	// the equity series; never folded into capital before realization.
	MarkPnL float64 `json:"mark_pnl"`
}

// DTE returns whole calendar days from the given date to expiry, floored
// at zero.
func (p *Position) DTE(on time.Time) int {
	days := int(p.Expiry.Truncate(24*time.Hour).Sub(on.Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// PnLAt converts a current cost-to-close (per structure, per contract) into
// dollar P&L for the whole position.
func (p *Position) PnLAt(currentCost float64) float64 {
	return (p.EntryCredit - currentCost) * float64(p.Contracts) * p.Multiplier
}

// MaxProfit is the best possible outcome in dollars: the whole structure
// expires worthless and the full credit is kept.
func (p *Position) MaxProfit() float64 {
	return p.EntryCredit * float64(p.Contracts) * p.Multiplier
}

// Validate checks internal consistency between status and exit fields.
func (p *Position) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("position without ID")
	case len(p.Legs) == 0:
		return fmt.Errorf("position %s has no legs", p.ID)
	case p.Contracts <= 0:
		return fmt.Errorf("position %s: contracts must be positive, got %d", p.ID, p.Contracts)
	}

	if p.Status == Open {
		if !p.ExitDate.IsZero() || p.ExitReason != "" {
			return fmt.Errorf("position %s: open position carries exit fields", p.ID)
		}
		return nil
	}

	if !p.Status.Terminal() {
		return fmt.Errorf("position %s: unknown status %d", p.ID, p.Status)
	}
	if p.ExitDate.IsZero() {
		return fmt.Errorf("position %s: closed without exit date", p.ID)
	}
	if p.ExitDate.Before(p.OpenDate) {
		return fmt.Errorf("position %s: exit date %s precedes open date %s",
			p.ID, p.ExitDate.Format("2006-01-02"), p.OpenDate.Format("2006-01-02"))
	}
	if p.ExitReason == "" {
		return fmt.Errorf("position %s: closed without exit reason", p.ID)
	}
	return nil
}
