package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskViolationError means an attempted open would have breached a portfolio
// invariant. The risk policy runs before any candidate reaches the ledger,
// so seeing this error indicates a sequencing defect and the run aborts.
type RiskViolationError struct {
	PositionID string
	Reason     string
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk violation opening %s: %s", e.PositionID, e.Reason)
}

// InvariantError reports a post-day consistency failure. Always fatal.
type InvariantError struct {
	Check  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("portfolio invariant %q violated: %s", e.Check, e.Detail)
}

// Snapshot is the derived view of portfolio state. It is recomputed from the
// position set on demand and never cached, so it cannot desynchronize.
type Snapshot struct {
	Capital         decimal.Decimal `json:"capital"`
	BuyingPowerUsed float64         `json:"buying_power_used"` // dollars reserved
	GroupCounts     map[string]int  `json:"group_counts"`
	OpenPositions   int             `json:"open_positions"`
}

// Ledger owns every Position of one run. Closed positions are retained for
// the audit trail; only status and exit fields ever change on a position.
type Ledger struct {
	startingCapital decimal.Decimal
	realized        decimal.Decimal
	positions       []*Position
	byID            map[string]*Position
}

func New(startingCapital decimal.Decimal) *Ledger {
	return &Ledger{
		startingCapital: startingCapital,
		byID:            make(map[string]*Position),
	}
}

// Capital is starting capital plus realized P&L of closed positions.
// Unrealized P&L never contributes.
func (l *Ledger) Capital() decimal.Decimal {
	return l.startingCapital.Add(l.realized)
}

func (l *Ledger) StartingCapital() decimal.Decimal { return l.startingCapital }
func (l *Ledger) RealizedPnL() decimal.Decimal     { return l.realized }

// Open admits a new position. bpCeiling is the dollar buying-power ceiling
// for the current regime; breaching it here means the risk policy was
// bypassed, which is a hard error rather than a clamp.
func (l *Ledger) Open(p *Position, bpCeiling decimal.Decimal) error {
	if _, exists := l.byID[p.ID]; exists {
		return &RiskViolationError{PositionID: p.ID, Reason: "duplicate position ID"}
	}
	if p.Status != Open {
		return &RiskViolationError{PositionID: p.ID, Reason: "new position must be in open status"}
	}
	if err := p.Validate(); err != nil {
		return &RiskViolationError{PositionID: p.ID, Reason: err.Error()}
	}

	used := decimal.NewFromFloat(l.buyingPowerUsed() + p.RiskCapital)
	if used.GreaterThan(bpCeiling) {
		return &RiskViolationError{
			PositionID: p.ID,
			Reason: fmt.Sprintf("buying power %s would exceed ceiling %s",
				used.StringFixed(2), bpCeiling.StringFixed(2)),
		}
	}

	l.positions = append(l.positions, p)
	l.byID[p.ID] = p
	return nil
}

// Close transitions a position to a terminal state and realizes its P&L into
// capital. Closing an already-closed position is a hard error: terminality
// is part of the audit contract.
func (l *Ledger) Close(id string, date time.Time, exitValue float64, status Status, reason string) error {
	p, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("close: unknown position %s", id)
	}
	if p.Status.Terminal() {
		return fmt.Errorf("close: position %s already terminal (%s)", id, p.Status)
	}
	if !status.Terminal() {
		return fmt.Errorf("close: %s is not a terminal status", status)
	}
	if reason == "" {
		return fmt.Errorf("close: position %s needs an exit reason", id)
	}

	pnl := decimal.NewFromFloat(p.PnLAt(exitValue)).Round(2)

	p.Status = status
	p.ExitDate = date
	p.ExitValue = exitValue
	p.RealizedPnL = pnl
	p.ExitReason = reason
	p.MarkPnL = 0

	l.realized = l.realized.Add(pnl)
	return nil
}

// OpenPositions returns open positions in open order. The slice is rebuilt
// per call; callers must not retain the position pointers across days.
func (l *Ledger) OpenPositions() []*Position {
	var out []*Position
	for _, p := range l.positions {
		if p.Status == Open {
			out = append(out, p)
		}
	}
	return out
}

// ClosedPositions returns closed positions in open order.
func (l *Ledger) ClosedPositions() []*Position {
	var out []*Position
	for _, p := range l.positions {
		if p.Status.Terminal() {
			out = append(out, p)
		}
	}
	return out
}

// Position looks up a position by ID.
func (l *Ledger) Position(id string) (*Position, bool) {
	p, ok := l.byID[id]
	return p, ok
}

// UnrealizedPnL sums the last evaluated mark P&L across open positions.
func (l *Ledger) UnrealizedPnL() float64 {
	var sum float64
	for _, p := range l.positions {
		if p.Status == Open {
			sum += p.MarkPnL
		}
	}
	return sum
}

// Snapshot recomputes the derived portfolio state from the position set.
func (l *Ledger) Snapshot() Snapshot {
	counts := make(map[string]int)
	open := 0
	for _, p := range l.positions {
		if p.Status == Open {
			open++
			counts[p.CorrelationGroup]++
		}
	}
	return Snapshot{
		Capital:         l.Capital(),
		BuyingPowerUsed: l.buyingPowerUsed(),
		GroupCounts:     counts,
		OpenPositions:   open,
	}
}

// CheckInvariants verifies the ledger-internal invariants that must hold
// after every simulated day: exact capital identity, non-negative capital,
// and status/exit-field consistency on every position.
func (l *Ledger) CheckInvariants() error {
	sum := decimal.Zero
	for _, p := range l.positions {
		if err := p.Validate(); err != nil {
			return &InvariantError{Check: "position_consistency", Detail: err.Error()}
		}
		if p.Status.Terminal() {
			sum = sum.Add(p.RealizedPnL)
		}
	}
	if !sum.Equal(l.realized) {
		return &InvariantError{
			Check:  "capital_conservation",
			Detail: fmt.Sprintf("sum of realized P&L %s != ledger realized %s", sum, l.realized),
		}
	}
	if l.Capital().IsNegative() {
		return &InvariantError{
			Check:  "capital_non_negative",
			Detail: fmt.Sprintf("capital %s", l.Capital().StringFixed(2)),
		}
	}
	return nil
}

func (l *Ledger) buyingPowerUsed() float64 {
	var sum float64
	for _, p := range l.positions {
		if p.Status == Open {
			sum += p.RiskCapital
		}
	}
	return sum
}
