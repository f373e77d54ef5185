// Package strategy turns per-day market context into zero or one candidate
// position per strategy. Gating is ordered and short-circuits on the first
// failure so rejected days never reach the pricing model.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/marketdata"
	"github.com/thetarun/thetarun/internal/pricing"
)

// RuleTag selects the strike/structure construction rule for a strategy.
// One small rule function per tag, resolved by lookup.
type RuleTag string

const (
	RuleCondor0DTE RuleTag = "condor0dte"
	RuleStrangle   RuleTag = "strangle"
	RulePut112     RuleTag = "put112"
)

// Descriptor is the static configuration of one strategy.
type Descriptor struct {
	ID               string
	Rule             RuleTag
	Symbol           string
	Weekdays         []time.Weekday // calendar gate, evaluated by the driver
	TargetDTE        int
	MinIV            float64 // inclusive lower bound, IV percentage points
	MaxIV            float64 // exclusive upper bound
	MinScore         float64 // entry score threshold, 0-100
	CorrelationGroup string
	Multiplier       float64
	Contracts        int
	ProfitTargetFrac float64 // e.g. 0.5: close at 50% of max profit
	DefensiveDTE     int     // e.g. 21: defensive management threshold
	MaxLossMultiple  float64 // e.g. 2.0: close at 2x credit loss
	MinPhase         int

	// Rule-specific knobs.
	ShortDelta float64 // delta-targeted short strikes (strangle)
	OTMPct     float64 // fixed percent-OTM short strikes (condor, put112)
	WingPct    float64 // wing width as percent of spot (condor)
	RiskFree   float64 // pricing rate
}

// Validate rejects descriptors the engine cannot run.
func (d *Descriptor) Validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("strategy without ID")
	case d.Symbol == "":
		return fmt.Errorf("strategy %s: symbol required", d.ID)
	case len(d.Weekdays) == 0:
		return fmt.Errorf("strategy %s: at least one trading weekday required", d.ID)
	case d.TargetDTE < 0:
		return fmt.Errorf("strategy %s: target DTE must be >= 0", d.ID)
	case d.MinIV >= d.MaxIV:
		return fmt.Errorf("strategy %s: IV band [%g, %g) is empty", d.ID, d.MinIV, d.MaxIV)
	case d.Contracts <= 0:
		return fmt.Errorf("strategy %s: contracts must be positive", d.ID)
	case d.Multiplier <= 0:
		return fmt.Errorf("strategy %s: multiplier must be positive", d.ID)
	case d.ProfitTargetFrac <= 0 || d.ProfitTargetFrac > 1:
		return fmt.Errorf("strategy %s: profit target fraction must be in (0, 1]", d.ID)
	case d.MaxLossMultiple <= 0:
		return fmt.Errorf("strategy %s: max loss multiple must be positive", d.ID)
	}
	if _, ok := ruleRegistry[d.Rule]; !ok {
		return fmt.Errorf("strategy %s: unknown rule %q", d.ID, d.Rule)
	}
	return nil
}

// TradesOn reports whether the calendar gate admits the given weekday.
func (d *Descriptor) TradesOn(day time.Weekday) bool {
	for _, wd := range d.Weekdays {
		if wd == day {
			return true
		}
	}
	return false
}

// Requirements extracts the risk-policy-relevant facts.
func (d *Descriptor) Requirements() (id, group string, minPhase int) {
	return d.ID, d.CorrelationGroup, d.MinPhase
}

// Pricer is the pricing dependency of strike construction. Narrow so tests
// can count or stub valuations.
type Pricer interface {
	Price(in pricing.Input) (pricing.Result, error)
	StrikeForDelta(spot, tte, vol, rate float64, right pricing.Right, target float64) (float64, error)
}

// MarketView is the per-symbol context a rule sees for one day. History is
// ascending and ends with Today.
type MarketView struct {
	Date    time.Time
	Today   marketdata.Day
	History []marketdata.Day
}

// Candidate is a fully constructed position proposal awaiting acceptance.
type Candidate struct {
	StrategyID  string       `json:"strategy_id"`
	Symbol      string       `json:"symbol"`
	Legs        []ledger.Leg `json:"legs"`
	Expiry      time.Time    `json:"expiry"`
	EntryCredit float64      `json:"entry_credit"` // per structure per contract; positive = credit
	RiskCapital float64      `json:"risk_capital"` // dollars reserved for the whole position
	Score       float64      `json:"score"`
}

// Rejection is a normal negative result naming the first gate that failed.
type Rejection struct {
	StrategyID string `json:"strategy_id"`
	Gate       string `json:"gate"`
	Reason     string `json:"reason"`
}

func reject(id, gate, format string, args ...any) *Rejection {
	return &Rejection{StrategyID: id, Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// ruleFunc builds the structure for an already-gated candidate day.
type ruleFunc func(ctx context.Context, d *Descriptor, view MarketView, pricer Pricer) (*Candidate, *Rejection, error)

var ruleRegistry = map[RuleTag]ruleFunc{
	RuleCondor0DTE: buildCondor0DTE,
	RuleStrangle:   buildStrangle,
	RulePut112:     buildPut112,
}
