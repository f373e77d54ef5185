// Package sim is the simulation driver: the only component that advances
// simulated time. Each day it runs exits, then de-risking, then entries, in
// a strictly sequential loop whose outputs feed the next day's decisions.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/lifecycle"
	"github.com/thetarun/thetarun/internal/marketdata"
	"github.com/thetarun/thetarun/internal/metrics"
	"github.com/thetarun/thetarun/internal/pricing"
	"github.com/thetarun/thetarun/internal/risk"
	"github.com/thetarun/thetarun/internal/strategy"
)

const deriskReason = "portfolio_derisk"

// Config holds one run's parameters.
type Config struct {
	Start           time.Time
	End             time.Time
	StartingCapital decimal.Decimal
	// RegimeSymbol names the series whose IV drives the portfolio-level
	// volatility regime (typically the index the strategies trade).
	RegimeSymbol string
}

// Runner executes one simulation. Each Runner owns an independent ledger, so
// distinct Runners may run in parallel; a single Runner must not be reused.
type Runner struct {
	config     Config
	strategies []*strategy.Descriptor
	byID       map[string]*strategy.Descriptor
	data       map[string]*marketdata.Series
	policy     *risk.Policy
	pricer     strategy.Pricer
	evaluator  *lifecycle.Evaluator
	book       *ledger.Ledger
	log        zerolog.Logger
	seq        int
}

// NewRunner wires a run. The pricer is injectable so tests can count or stub
// valuations; production callers pass pricing.Model{}.
func NewRunner(config Config, strategies []*strategy.Descriptor, data map[string]*marketdata.Series,
	policy *risk.Policy, pricer strategy.Pricer, log zerolog.Logger) (*Runner, error) {

	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies configured")
	}
	if config.End.Before(config.Start) {
		return nil, fmt.Errorf("end date %s before start date %s",
			config.End.Format("2006-01-02"), config.Start.Format("2006-01-02"))
	}
	if config.StartingCapital.Sign() <= 0 {
		return nil, fmt.Errorf("starting capital must be positive")
	}

	byID := make(map[string]*strategy.Descriptor, len(strategies))
	for _, d := range strategies {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate strategy ID %s", d.ID)
		}
		if _, ok := data[d.Symbol]; !ok {
			return nil, fmt.Errorf("strategy %s: no data loaded for symbol %s", d.ID, d.Symbol)
		}
		byID[d.ID] = d
	}
	if _, ok := data[config.RegimeSymbol]; !ok {
		return nil, fmt.Errorf("no data loaded for regime symbol %s", config.RegimeSymbol)
	}

	return &Runner{
		config:     config,
		strategies: strategies,
		byID:       byID,
		data:       data,
		policy:     policy,
		pricer:     pricer,
		evaluator:  lifecycle.NewEvaluator(pricer),
		book:       ledger.New(config.StartingCapital),
		log:        log,
	}, nil
}

// Ledger exposes the run's ledger for inspection after Run returns.
func (r *Runner) Ledger() *ledger.Ledger { return r.book }

// Run iterates the trading calendar in ascending order. Cancellation is
// checked once per day; a cancelled or halted run returns partial results
// alongside the error, never a silently inconsistent state.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	calendar := r.calendar()
	result := &Result{}

	for _, date := range calendar {
		if err := ctx.Err(); err != nil {
			return r.halt(result, err)
		}

		regimeDay, ok := r.data[r.config.RegimeSymbol].Day(date)
		if !ok {
			r.log.Debug().Str("date", date.Format("2006-01-02")).Msg("No regime bar, skipping day")
			continue
		}
		regime := regimeDay.Regime()
		ceiling := r.policy.BPCeiling(r.book.Capital(), regime)

		closed, err := r.runExits(ctx, date, regime)
		if err != nil {
			return r.halt(result, err)
		}

		// A regime downshift can strand more buying power than the new
		// ceiling admits, and a phase downgrade can strand group counts over
		// the new cap; shed newest positions first until back within both.
		deriskClosed, err := r.derisk(date, regime)
		if err != nil {
			return r.halt(result, err)
		}
		closed += deriskClosed
		ceiling = r.policy.BPCeiling(r.book.Capital(), regime)

		evaluated, opened, err := r.runEntries(ctx, date, regime, ceiling)
		if err != nil {
			return r.halt(result, err)
		}

		// Same-day structures are opened after the exit pass; the end-of-day
		// sweep settles them on their expiry date, never against a later bar.
		expired, err := r.settleExpirations(date)
		if err != nil {
			return r.halt(result, err)
		}
		closed += expired

		snap := r.book.Snapshot()
		capital, _ := snap.Capital.Float64()
		unrealized := r.book.UnrealizedPnL()
		result.Equity = append(result.Equity, EquityPoint{
			Date:            date.Format("2006-01-02"),
			Regime:          regime.String(),
			Capital:         snap.Capital,
			UnrealizedPnL:   unrealized,
			NetLiquidity:    capital + unrealized,
			BuyingPowerUsed: snap.BuyingPowerUsed,
			OpenPositions:   snap.OpenPositions,
			Evaluations:     evaluated,
			Opened:          opened,
			Closed:          closed,
		})
		metrics.DaysSimulated.Inc()

		if err := r.checkDay(snap, regime, date); err != nil {
			return r.halt(result, err)
		}

		r.log.Debug().
			Str("date", date.Format("2006-01-02")).
			Str("regime", regime.String()).
			Str("capital", snap.Capital.StringFixed(2)).
			Float64("bp_used", snap.BuyingPowerUsed).
			Int("open", snap.OpenPositions).
			Msg("Day complete")
	}

	r.finalize(result)
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	return result, nil
}

// calendar builds the union of trading dates across all loaded series within
// the configured range, ascending.
func (r *Runner) calendar() []time.Time {
	seen := make(map[time.Time]bool)
	start, end := dateOnly(r.config.Start), dateOnly(r.config.End)
	for _, series := range r.data {
		for _, d := range series.Days {
			day := dateOnly(d.Date)
			if !day.Before(start) && !day.After(end) {
				seen[day] = true
			}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// runExits evaluates every open position. Exits always run before entries so
// capital freed by a close is available the same day.
func (r *Runner) runExits(ctx context.Context, date time.Time, regime marketdata.VolRegime) (int, error) {
	closed := 0
	for _, pos := range r.book.OpenPositions() {
		desc, ok := r.byID[pos.StrategyID]
		if !ok {
			return closed, fmt.Errorf("position %s references unknown strategy %s", pos.ID, pos.StrategyID)
		}
		if date.After(pos.Expiry) {
			continue // settles in the expiration sweep against the expiry-day bar
		}
		day, ok := r.data[pos.Symbol].Day(date)
		if !ok {
			continue // no bar for this symbol today, position holds its mark
		}

		decision, err := r.evaluator.EvaluateExit(ctx, pos, desc, day)
		if err != nil {
			var invalid *pricing.InvalidInputError
			if errors.As(err, &invalid) {
				r.log.Warn().Err(err).Str("position", pos.ID).Msg("Mark failed, holding position")
				continue
			}
			return closed, err
		}

		if !decision.ShouldExit {
			pos.MarkPnL = decision.PnL
			continue
		}

		if err := r.book.Close(pos.ID, date, decision.ExitValue, decision.Status, decision.Reason.String()); err != nil {
			return closed, err
		}
		closed++
		metrics.PositionsClosed.WithLabelValues(pos.StrategyID, decision.Reason.String()).Inc()
		r.log.Info().
			Str("position", pos.ID).
			Str("strategy", pos.StrategyID).
			Str("reason", decision.Reason.String()).
			Str("detail", decision.TriggeredBy).
			Str("pnl", pos.RealizedPnL.StringFixed(2)).
			Msg("Position closed")

		if decision.Roll {
			if err := r.reopenRolled(date, regime, pos, desc, decision.RollLegs, day); err != nil {
				return closed, err
			}
		}
	}
	return closed, nil
}

// reopenRolled prices the adjusted structure and admits it as a brand-new
// position, subject to the same risk policy as any entry.
func (r *Runner) reopenRolled(date time.Time, regime marketdata.VolRegime, old *ledger.Position,
	desc *strategy.Descriptor, legs []ledger.Leg, day marketdata.Day) error {

	snap := r.book.Snapshot()
	id, group, minPhase := desc.Requirements()
	verdict := r.policy.CanOpen(risk.Requirements{StrategyID: id, CorrelationGroup: group, MinPhase: minPhase}, snap, regime)
	if !verdict.Allowed {
		metrics.RiskDenials.WithLabelValues(desc.ID, verdict.Check).Inc()
		r.log.Info().Str("strategy", desc.ID).Str("check", verdict.Check).Msg("Roll reopen denied by risk policy")
		return nil
	}

	dte := old.DTE(date)
	credit, err := strategy.PriceStructure(legs, day.Close, (float64(dte)+0.5)/365.0, day.IV/100, desc.RiskFree, r.pricer)
	if err != nil {
		var invalid *pricing.InvalidInputError
		if errors.As(err, &invalid) {
			r.log.Warn().Err(err).Str("strategy", desc.ID).Msg("Roll pricing failed, not reopening")
			return nil
		}
		return err
	}
	if credit <= 0 {
		r.log.Info().Str("strategy", desc.ID).Float64("credit", credit).Msg("Rolled structure prices to a debit, not reopening")
		return nil
	}

	riskCapital := credit * desc.MaxLossMultiple * float64(old.Contracts) * old.Multiplier
	ceiling := r.policy.BPCeiling(snap.Capital, regime)
	if decimal.NewFromFloat(snap.BuyingPowerUsed + riskCapital).GreaterThan(ceiling) {
		metrics.RiskDenials.WithLabelValues(desc.ID, "buying_power_headroom").Inc()
		return nil
	}

	pos := &ledger.Position{
		ID:               r.nextID(desc.ID, date),
		StrategyID:       desc.ID,
		Symbol:           old.Symbol,
		OpenDate:         date,
		Expiry:           old.Expiry,
		Legs:             legs,
		EntryCredit:      credit,
		Contracts:        old.Contracts,
		Multiplier:       old.Multiplier,
		CorrelationGroup: old.CorrelationGroup,
		RiskCapital:      riskCapital,
		Status:           ledger.Open,
	}
	if err := r.book.Open(pos, ceiling); err != nil {
		return err
	}
	metrics.PositionsOpened.WithLabelValues(desc.ID).Inc()
	r.log.Info().Str("position", pos.ID).Str("strategy", desc.ID).Float64("credit", credit).Msg("Rolled position reopened")
	return nil
}

// settleExpirations closes every open position whose expiry date has been
// reached, at intrinsic settlement value. Exits run before entries, so a
// structure opened on its own expiry day is only reachable here.
func (r *Runner) settleExpirations(date time.Time) (int, error) {
	closed := 0
	for _, pos := range r.book.OpenPositions() {
		if pos.Expiry.After(date) {
			continue
		}
		settle, exitDate, ok := r.settlementBar(pos, date)
		if !ok {
			continue // no usable bar yet, retry next day
		}

		cost := lifecycle.IntrinsicCost(pos.Legs, settle.Close)
		pnl := pos.PnLAt(cost)
		reason := lifecycle.Expiration.String()
		if err := r.book.Close(pos.ID, exitDate, cost, lifecycle.ClassifyBySign(pnl), reason); err != nil {
			return closed, err
		}
		closed++
		metrics.PositionsClosed.WithLabelValues(pos.StrategyID, reason).Inc()
		r.log.Info().
			Str("position", pos.ID).
			Str("strategy", pos.StrategyID).
			Str("expiry", pos.Expiry.Format("2006-01-02")).
			Float64("settlement", settle.Close).
			Str("pnl", pos.RealizedPnL.StringFixed(2)).
			Msg("Position expired")
	}
	return closed, nil
}

// settlementBar picks the bar an expired position settles against: the
// expiry-day bar when one exists, otherwise today's bar (the expiry fell on
// a day the symbol had no bar). The exit is dated to the bar used.
func (r *Runner) settlementBar(pos *ledger.Position, date time.Time) (marketdata.Day, time.Time, bool) {
	if day, ok := r.data[pos.Symbol].Day(pos.Expiry); ok {
		return day, pos.Expiry, true
	}
	if day, ok := r.data[pos.Symbol].Day(date); ok {
		return day, date, true
	}
	return marketdata.Day{}, time.Time{}, false
}

// derisk closes newest-first until the book fits the day's constraints
// again. Positions are closed at their last mark; this only triggers after a
// regime downshift raises buying-power pressure or a phase downgrade lowers
// a correlation-group cap, since entries never breach either.
func (r *Runner) derisk(date time.Time, regime marketdata.VolRegime) (int, error) {
	closed := 0
	for {
		pos := r.deriskTarget(regime)
		if pos == nil {
			return closed, nil
		}

		// Cost-to-close implied by the last mark keeps this deterministic
		// even when the symbol has no bar today.
		cost := pos.EntryCredit - pos.MarkPnL/(float64(pos.Contracts)*pos.Multiplier)
		status := lifecycle.ClassifyBySign(pos.MarkPnL)
		if err := r.book.Close(pos.ID, date, cost, status, deriskReason); err != nil {
			return closed, err
		}
		closed++
		metrics.PositionsClosed.WithLabelValues(pos.StrategyID, deriskReason).Inc()
		r.log.Info().
			Str("position", pos.ID).
			Str("group", pos.CorrelationGroup).
			Str("regime", regime.String()).
			Str("pnl", pos.RealizedPnL.StringFixed(2)).
			Msg("Position closed to fit portfolio constraints")
	}
}

// deriskTarget returns the newest position that must be shed, or nil when
// buying power is under the regime ceiling and every correlation group is
// within the phase cap.
func (r *Runner) deriskTarget(regime marketdata.VolRegime) *ledger.Position {
	snap := r.book.Snapshot()
	open := r.book.OpenPositions()
	if len(open) == 0 {
		return nil
	}

	ceiling := r.policy.BPCeiling(snap.Capital, regime)
	if decimal.NewFromFloat(snap.BuyingPowerUsed).GreaterThan(ceiling) {
		return open[len(open)-1]
	}

	cap := r.policy.GroupCap(r.policy.Phase(snap.Capital))
	for i := len(open) - 1; i >= 0; i-- {
		if snap.GroupCounts[open[i].CorrelationGroup] > cap {
			return open[i]
		}
	}
	return nil
}

// runEntries walks strategies in configuration order. The calendar gate is
// checked here, once, before anything else; the risk policy runs before any
// strike construction or pricing.
func (r *Runner) runEntries(ctx context.Context, date time.Time, regime marketdata.VolRegime, ceiling decimal.Decimal) (evaluated, opened int, err error) {
	for _, desc := range r.strategies {
		if !desc.TradesOn(date.Weekday()) {
			continue
		}
		evaluated++

		day, ok := r.data[desc.Symbol].Day(date)
		if !ok {
			continue // no bar for this symbol today
		}

		snap := r.book.Snapshot()
		id, group, minPhase := desc.Requirements()
		verdict := r.policy.CanOpen(risk.Requirements{StrategyID: id, CorrelationGroup: group, MinPhase: minPhase}, snap, regime)
		if !verdict.Allowed {
			metrics.RiskDenials.WithLabelValues(desc.ID, verdict.Check).Inc()
			continue
		}

		view := strategy.MarketView{
			Date:    date,
			Today:   day,
			History: r.data[desc.Symbol].History(date, strategy.HistoryDepth),
		}
		cand, rej, err := strategy.Evaluate(ctx, desc, view, r.pricer)
		if err != nil {
			var invalid *pricing.InvalidInputError
			if errors.As(err, &invalid) {
				r.log.Warn().Err(err).Str("strategy", desc.ID).Msg("Candidate pricing failed, skipping")
				continue
			}
			return evaluated, opened, err
		}
		if rej != nil {
			metrics.CandidatesRejected.WithLabelValues(desc.ID, rej.Gate).Inc()
			continue
		}

		if decimal.NewFromFloat(snap.BuyingPowerUsed + cand.RiskCapital).GreaterThan(ceiling) {
			metrics.RiskDenials.WithLabelValues(desc.ID, "buying_power_headroom").Inc()
			continue
		}

		pos := &ledger.Position{
			ID:               r.nextID(desc.ID, date),
			StrategyID:       desc.ID,
			Symbol:           cand.Symbol,
			OpenDate:         date,
			Expiry:           cand.Expiry,
			Legs:             cand.Legs,
			EntryCredit:      cand.EntryCredit,
			Contracts:        desc.Contracts,
			Multiplier:       desc.Multiplier,
			CorrelationGroup: desc.CorrelationGroup,
			RiskCapital:      cand.RiskCapital,
			Status:           ledger.Open,
		}
		if err := r.book.Open(pos, ceiling); err != nil {
			return evaluated, opened, err
		}
		opened++
		metrics.PositionsOpened.WithLabelValues(desc.ID).Inc()
		r.log.Info().
			Str("position", pos.ID).
			Str("strategy", desc.ID).
			Float64("credit", cand.EntryCredit).
			Float64("score", cand.Score).
			Msg("Position opened")
	}
	return evaluated, opened, nil
}

// checkDay enforces the post-day invariants. Failures are fatal and logged
// with the full day state for offline diagnosis.
func (r *Runner) checkDay(snap ledger.Snapshot, regime marketdata.VolRegime, date time.Time) error {
	if err := r.book.CheckInvariants(); err != nil {
		r.logViolation(err, snap, regime, date)
		return err
	}
	if err := r.policy.ValidateSnapshot(snap, regime); err != nil {
		r.logViolation(err, snap, regime, date)
		return err
	}
	return nil
}

func (r *Runner) logViolation(err error, snap ledger.Snapshot, regime marketdata.VolRegime, date time.Time) {
	ev := r.log.Error().Err(err).
		Str("date", date.Format("2006-01-02")).
		Str("regime", regime.String()).
		Str("capital", snap.Capital.StringFixed(2)).
		Float64("bp_used", snap.BuyingPowerUsed).
		Int("open_positions", snap.OpenPositions)
	for group, n := range snap.GroupCounts {
		ev = ev.Int("group_"+group, n)
	}
	ev.Msg("Invariant violation, halting run")
}

// nextID derives a stable position identifier. Name-based UUIDs keep the
// trade records byte-identical across reruns of the same inputs.
func (r *Runner) nextID(strategyID string, date time.Time) string {
	r.seq++
	name := fmt.Sprintf("%s|%s|%d", strategyID, date.Format("2006-01-02"), r.seq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (r *Runner) halt(result *Result, cause error) (*Result, error) {
	r.finalize(result)
	result.Halted = true
	metrics.RunsTotal.WithLabelValues("halted").Inc()
	return result, cause
}

func (r *Runner) finalize(result *Result) {
	result.Trades = buildTrades(r.book.ClosedPositions())
	result.Summary = buildSummary(result.Trades, result.Equity, r.book.Capital(), r.book.RealizedPnL())
}
