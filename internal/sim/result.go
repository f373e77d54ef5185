package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/thetarun/thetarun/internal/ledger"
)

// Trade is the flattened record of one closed position, emitted for the
// reporting collaborator. Money fields are decimal so two identical runs
// serialize byte-identically.
type Trade struct {
	PositionID  string          `json:"position_id"`
	StrategyID  string          `json:"strategy_id"`
	Symbol      string          `json:"symbol"`
	OpenDate    string          `json:"open_date"`
	ExitDate    string          `json:"exit_date"`
	Expiry      string          `json:"expiry"`
	Legs        []ledger.Leg    `json:"legs"`
	Contracts   int             `json:"contracts"`
	EntryCredit float64         `json:"entry_credit"`
	ExitValue   float64         `json:"exit_value"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Status      string          `json:"status"`
	ExitReason  string          `json:"exit_reason"`
}

// EquityPoint is one day's aggregated portfolio state.
type EquityPoint struct {
	Date            string          `json:"date"`
	Regime          string          `json:"regime"`
	Capital         decimal.Decimal `json:"capital"`
	UnrealizedPnL   float64         `json:"unrealized_pnl"`
	NetLiquidity    float64         `json:"net_liquidity"`
	BuyingPowerUsed float64         `json:"buying_power_used"`
	OpenPositions   int             `json:"open_positions"`
	Evaluations     int             `json:"evaluations"` // entry evaluation attempts
	Opened          int             `json:"opened"`
	Closed          int             `json:"closed"`
}

// Summary aggregates a completed (or halted) run.
type Summary struct {
	TradingDays  int             `json:"trading_days"`
	TotalTrades  int             `json:"total_trades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	Flat         int             `json:"flat"`
	WinRate      float64         `json:"win_rate"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	FinalCapital decimal.Decimal `json:"final_capital"`
	MaxDrawdown  float64         `json:"max_drawdown"` // fraction of peak net liquidity
}

// Result is the full output of one run. On a halted run Trades and Equity
// hold everything up to the failing day.
type Result struct {
	Trades  []Trade       `json:"trades"`
	Equity  []EquityPoint `json:"equity"`
	Summary Summary       `json:"summary"`
	Halted  bool          `json:"halted,omitempty"`
}

func buildTrades(closed []*ledger.Position) []Trade {
	trades := make([]Trade, 0, len(closed))
	for _, p := range closed {
		trades = append(trades, Trade{
			PositionID:  p.ID,
			StrategyID:  p.StrategyID,
			Symbol:      p.Symbol,
			OpenDate:    p.OpenDate.Format("2006-01-02"),
			ExitDate:    p.ExitDate.Format("2006-01-02"),
			Expiry:      p.Expiry.Format("2006-01-02"),
			Legs:        p.Legs,
			Contracts:   p.Contracts,
			EntryCredit: p.EntryCredit,
			ExitValue:   p.ExitValue,
			RealizedPnL: p.RealizedPnL,
			Status:      p.Status.String(),
			ExitReason:  p.ExitReason,
		})
	}
	return trades
}

func buildSummary(trades []Trade, equity []EquityPoint, final decimal.Decimal, realized decimal.Decimal) Summary {
	s := Summary{
		TradingDays:  len(equity),
		TotalTrades:  len(trades),
		RealizedPnL:  realized,
		FinalCapital: final,
	}
	for _, t := range trades {
		switch {
		case t.RealizedPnL.IsPositive():
			s.Wins++
		case t.RealizedPnL.IsNegative():
			s.Losses++
		default:
			s.Flat++
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}

	peak := 0.0
	for _, e := range equity {
		if e.NetLiquidity > peak {
			peak = e.NetLiquidity
		}
		if peak > 0 {
			dd := (peak - e.NetLiquidity) / peak
			if dd > s.MaxDrawdown {
				s.MaxDrawdown = dd
			}
		}
	}
	return s
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
