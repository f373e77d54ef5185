// Package config loads the simulation run configuration: data location,
// run window, risk policy, and the strategy set.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thetarun/thetarun/internal/risk"
	"github.com/thetarun/thetarun/internal/strategy"
)

// Config is the top-level simulation configuration.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Risk       risk.Config      `yaml:"risk"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// DataConfig locates the historical dataset.
type DataConfig struct {
	Dir          string `yaml:"dir"`
	RegimeSymbol string `yaml:"regime_symbol"` // series whose IV drives the portfolio regime
}

// StrategyConfig is the YAML shape of one strategy descriptor.
type StrategyConfig struct {
	ID               string   `yaml:"id"`
	Rule             string   `yaml:"rule"` // condor0dte | strangle | put112
	Symbol           string   `yaml:"symbol"`
	Weekdays         []string `yaml:"weekdays"` // monday..friday
	TargetDTE        int      `yaml:"target_dte"`
	MinIV            float64  `yaml:"min_iv"`
	MaxIV            float64  `yaml:"max_iv"`
	MinScore         float64  `yaml:"min_score"`
	CorrelationGroup string   `yaml:"correlation_group"`
	Multiplier       float64  `yaml:"multiplier"`
	Contracts        int      `yaml:"contracts"`
	ProfitTargetFrac float64  `yaml:"profit_target_frac"`
	DefensiveDTE     int      `yaml:"defensive_dte"`
	MaxLossMultiple  float64  `yaml:"max_loss_multiple"`
	MinPhase         int      `yaml:"min_phase"`
	ShortDelta       float64  `yaml:"short_delta"`
	OTMPct           float64  `yaml:"otm_pct"`
	WingPct          float64  `yaml:"wing_pct"`
	RiskFree         float64  `yaml:"risk_free"`
}

// Load reads and validates a simulation config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config before any data is touched.
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.RegimeSymbol == "" {
		return fmt.Errorf("data.regime_symbol is required")
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk config: %w", err)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	descs, err := c.Descriptors()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(descs))
	for _, d := range descs {
		if seen[d.ID] {
			return fmt.Errorf("duplicate strategy ID %s", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Symbols returns the distinct symbols the strategy set needs, including the
// regime symbol, in first-seen order.
func (c *Config) Symbols() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(c.Data.RegimeSymbol)
	for _, s := range c.Strategies {
		add(s.Symbol)
	}
	return out
}

// Descriptors converts the YAML strategy set into validated descriptors.
func (c *Config) Descriptors() ([]*strategy.Descriptor, error) {
	out := make([]*strategy.Descriptor, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		weekdays, err := parseWeekdays(s.Weekdays)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		d := &strategy.Descriptor{
			ID:               s.ID,
			Rule:             strategy.RuleTag(s.Rule),
			Symbol:           s.Symbol,
			Weekdays:         weekdays,
			TargetDTE:        s.TargetDTE,
			MinIV:            s.MinIV,
			MaxIV:            s.MaxIV,
			MinScore:         s.MinScore,
			CorrelationGroup: s.CorrelationGroup,
			Multiplier:       s.Multiplier,
			Contracts:        s.Contracts,
			ProfitTargetFrac: s.ProfitTargetFrac,
			DefensiveDTE:     s.DefensiveDTE,
			MaxLossMultiple:  s.MaxLossMultiple,
			MinPhase:         s.MinPhase,
			ShortDelta:       s.ShortDelta,
			OTMPct:           s.OTMPct,
			WingPct:          s.WingPct,
			RiskFree:         s.RiskFree,
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, wd)
	}
	return out, nil
}

// Default returns the production configuration: a Friday same-day condor, a
// Wednesday delta-targeted strangle, and a Monday 1-1-2, all on the index.
func Default() *Config {
	return &Config{
		Data: DataConfig{Dir: "./data", RegimeSymbol: "SPY"},
		Risk: risk.DefaultConfig(),
		Strategies: []StrategyConfig{
			{
				ID: "friday-condor", Rule: "condor0dte", Symbol: "SPY",
				Weekdays: []string{"friday"}, TargetDTE: 0,
				MinIV: 12, MaxIV: 35, MinScore: 60,
				CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
				ProfitTargetFrac: 0.5, DefensiveDTE: 0, MaxLossMultiple: 2.0,
				MinPhase: 1, OTMPct: 0.01, WingPct: 0.005, RiskFree: 0.045,
			},
			{
				ID: "strangle-90", Rule: "strangle", Symbol: "SPY",
				Weekdays: []string{"wednesday"}, TargetDTE: 90,
				MinIV: 15, MaxIV: 50, MinScore: 55,
				CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
				ProfitTargetFrac: 0.5, DefensiveDTE: 21, MaxLossMultiple: 2.5,
				MinPhase: 3, ShortDelta: 0.16, RiskFree: 0.045,
			},
			{
				ID: "put-112", Rule: "put112", Symbol: "SPY",
				Weekdays: []string{"monday"}, TargetDTE: 120,
				MinIV: 14, MaxIV: 45, MinScore: 55,
				CorrelationGroup: "equity-index", Multiplier: 100, Contracts: 1,
				ProfitTargetFrac: 0.5, DefensiveDTE: 21, MaxLossMultiple: 2.0,
				MinPhase: 2, OTMPct: 0.05, WingPct: 0.02, RiskFree: 0.045,
			},
		},
	}
}
