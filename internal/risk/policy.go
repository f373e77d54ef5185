// Package risk enforces portfolio-level constraints before any pricing work
// happens: buying-power ceilings keyed off the volatility regime, correlation
// group capacity keyed off the account phase, and per-strategy phase gating.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/thetarun/thetarun/internal/ledger"
	"github.com/thetarun/thetarun/internal/marketdata"
)

// Config holds the risk policy step functions.
//
// The buying-power ceilings are intentionally inverted relative to naive
// intuition: low volatility means thin premium, so capital is conserved;
// high volatility means rich premium, so more buying power may deploy.
type Config struct {
	BPCeilingLow      float64 `yaml:"bp_ceiling_low"`      // fraction of capital, low regime
	BPCeilingNormal   float64 `yaml:"bp_ceiling_normal"`   // normal regime
	BPCeilingElevated float64 `yaml:"bp_ceiling_elevated"` // elevated regime
	BPCeilingHigh     float64 `yaml:"bp_ceiling_high"`     // high regime

	// Capital thresholds separating account phases 1..4.
	PhaseTiers []float64 `yaml:"phase_tiers"` // e.g. [40000, 55000, 75000]

	// Max open positions per correlation group, indexed by phase-1.
	GroupCapsByPhase []int `yaml:"group_caps_by_phase"` // e.g. [1, 2, 2, 3]
}

// DefaultConfig returns the production risk policy.
func DefaultConfig() Config {
	return Config{
		BPCeilingLow:      0.40,
		BPCeilingNormal:   0.55,
		BPCeilingElevated: 0.65,
		BPCeilingHigh:     0.80,
		PhaseTiers:        []float64{40000, 55000, 75000},
		GroupCapsByPhase:  []int{1, 2, 2, 3},
	}
}

// Validate rejects configs that would make the step functions undefined.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"bp_ceiling_low": c.BPCeilingLow, "bp_ceiling_normal": c.BPCeilingNormal,
		"bp_ceiling_elevated": c.BPCeilingElevated, "bp_ceiling_high": c.BPCeilingHigh,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %g", name, v)
		}
	}
	if len(c.PhaseTiers) == 0 {
		return fmt.Errorf("phase_tiers must not be empty")
	}
	for i := 1; i < len(c.PhaseTiers); i++ {
		if c.PhaseTiers[i] <= c.PhaseTiers[i-1] {
			return fmt.Errorf("phase_tiers must be strictly ascending")
		}
	}
	if len(c.GroupCapsByPhase) != len(c.PhaseTiers)+1 {
		return fmt.Errorf("group_caps_by_phase needs %d entries, got %d",
			len(c.PhaseTiers)+1, len(c.GroupCapsByPhase))
	}
	return nil
}

// Verdict is the outcome of a CanOpen check. A denial is a normal negative
// result carrying the first failed check, not an error.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Check   string `json:"check,omitempty"`  // which check denied
	Reason  string `json:"reason,omitempty"` // human-readable detail
}

func deny(check, format string, args ...any) Verdict {
	return Verdict{Allowed: false, Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Requirements are the risk-relevant facts about a strategy, extracted so
// this package does not depend on strategy internals.
type Requirements struct {
	StrategyID       string
	CorrelationGroup string
	MinPhase         int
}

// Policy evaluates whether a strategy may open a position today.
type Policy struct {
	config Config
}

func NewPolicy(config Config) *Policy {
	return &Policy{config: config}
}

// Phase maps account capital to phase 1..len(tiers)+1. Monotone in capital.
func (p *Policy) Phase(capital decimal.Decimal) int {
	cap64, _ := capital.Float64()
	phase := 1
	for _, tier := range p.config.PhaseTiers {
		if cap64 >= tier {
			phase++
		}
	}
	return phase
}

// BPCeilingFrac returns the buying-power ceiling as a fraction of capital
// for the given regime.
func (p *Policy) BPCeilingFrac(regime marketdata.VolRegime) float64 {
	switch regime {
	case marketdata.RegimeLow:
		return p.config.BPCeilingLow
	case marketdata.RegimeNormal:
		return p.config.BPCeilingNormal
	case marketdata.RegimeElevated:
		return p.config.BPCeilingElevated
	default:
		return p.config.BPCeilingHigh
	}
}

// BPCeiling converts the regime ceiling into dollars of buying power.
func (p *Policy) BPCeiling(capital decimal.Decimal, regime marketdata.VolRegime) decimal.Decimal {
	return capital.Mul(decimal.NewFromFloat(p.BPCeilingFrac(regime))).Round(2)
}

// GroupCap returns the per-correlation-group position cap for a phase.
func (p *Policy) GroupCap(phase int) int {
	idx := phase - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.config.GroupCapsByPhase) {
		idx = len(p.config.GroupCapsByPhase) - 1
	}
	return p.config.GroupCapsByPhase[idx]
}

// CanOpen is an advisory pre-filter: it runs before strike construction and
// pricing so denied strategies cost nothing. Checks run in a fixed order and
// short-circuit on the first failure.
func (p *Policy) CanOpen(req Requirements, snap ledger.Snapshot, regime marketdata.VolRegime) Verdict {
	phase := p.Phase(snap.Capital)

	if phase < req.MinPhase {
		return deny("account_phase", "strategy %s requires phase %d, account is phase %d",
			req.StrategyID, req.MinPhase, phase)
	}

	cap := p.GroupCap(phase)
	if open := snap.GroupCounts[req.CorrelationGroup]; open >= cap {
		return deny("correlation_group", "group %s at capacity: %d open, cap %d (phase %d)",
			req.CorrelationGroup, open, cap, phase)
	}

	ceiling := p.BPCeiling(snap.Capital, regime)
	used := decimal.NewFromFloat(snap.BuyingPowerUsed)
	if used.GreaterThanOrEqual(ceiling) {
		return deny("buying_power", "%s of %s buying power already deployed (%s regime)",
			used.StringFixed(2), ceiling.StringFixed(2), regime)
	}

	return Verdict{Allowed: true}
}

// ValidateSnapshot re-checks the regime ceiling and group caps against a
// post-day snapshot. Any failure here is an InvariantError: the pre-filters
// should have made it impossible.
func (p *Policy) ValidateSnapshot(snap ledger.Snapshot, regime marketdata.VolRegime) error {
	ceiling := p.BPCeiling(snap.Capital, regime)
	if decimal.NewFromFloat(snap.BuyingPowerUsed).GreaterThan(ceiling) {
		return &ledger.InvariantError{
			Check: "buying_power_ceiling",
			Detail: fmt.Sprintf("used %.2f exceeds ceiling %s in %s regime",
				snap.BuyingPowerUsed, ceiling.StringFixed(2), regime),
		}
	}

	cap := p.GroupCap(p.Phase(snap.Capital))
	for group, n := range snap.GroupCounts {
		if n > cap {
			return &ledger.InvariantError{
				Check:  "correlation_group_cap",
				Detail: fmt.Sprintf("group %s has %d open positions, cap %d", group, n, cap),
			}
		}
	}
	return nil
}
