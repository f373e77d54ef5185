package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/thetarun/thetarun/internal/config"
	"github.com/thetarun/thetarun/internal/marketdata"
	"github.com/thetarun/thetarun/internal/metrics"
	"github.com/thetarun/thetarun/internal/pricing"
	"github.com/thetarun/thetarun/internal/risk"
	"github.com/thetarun/thetarun/internal/sim"
)

func runBacktest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	capital, _ := cmd.Flags().GetFloat64("capital")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	asJSON, _ := cmd.Flags().GetBool("json")

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	if capital <= 0 {
		return fmt.Errorf("capital must be positive, got %.2f", capital)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		metrics.Serve(metricsAddr)
		log.Info().Str("addr", metricsAddr).Msg("Metrics endpoint started")
	}

	// Cancellation is cooperative at the day-loop boundary: Ctrl-C returns
	// partial results rather than tearing down mid-day.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("start", startStr).
		Str("end", endStr).
		Float64("capital", capital).
		Int("strategies", len(descriptors)).
		Msg("Starting backtest")

	data, err := marketdata.LoadDir(ctx, cfg.Data.Dir, cfg.Symbols())
	if err != nil {
		return fmt.Errorf("load historical data: %w", err)
	}

	runner, err := sim.NewRunner(sim.Config{
		Start:           start,
		End:             end,
		StartingCapital: decimal.NewFromFloat(capital),
		RegimeSymbol:    cfg.Data.RegimeSymbol,
	}, descriptors, data, risk.NewPolicy(cfg.Risk), pricing.Model{}, log.Logger)
	if err != nil {
		return err
	}

	result, runErr := runner.Run(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("Run halted, reporting partial results")
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(result, capital)
	}
	return runErr
}

func printSummary(result *sim.Result, startingCapital float64) {
	s := result.Summary
	fmt.Printf("Backtest complete: %d trading days, %d trades\n", s.TradingDays, s.TotalTrades)
	fmt.Printf("  Wins/Losses/Flat: %d/%d/%d (win rate %.1f%%)\n", s.Wins, s.Losses, s.Flat, s.WinRate*100)
	fmt.Printf("  Realized P&L:     %s\n", s.RealizedPnL.StringFixed(2))
	fmt.Printf("  Final capital:    %s (from %.2f)\n", s.FinalCapital.StringFixed(2), startingCapital)
	fmt.Printf("  Max drawdown:     %.1f%%\n", s.MaxDrawdown*100)
	if result.Halted {
		fmt.Printf("  NOTE: run halted early, results are partial\n")
	}
}

func runStrategies(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return err
	}

	fmt.Printf("%-16s %-12s %-6s %-10s %-6s %-14s %s\n",
		"ID", "RULE", "SYM", "WEEKDAYS", "DTE", "GROUP", "PHASE")
	for _, d := range descriptors {
		days := ""
		for i, wd := range d.Weekdays {
			if i > 0 {
				days += ","
			}
			days += wd.String()[:3]
		}
		fmt.Printf("%-16s %-12s %-6s %-10s %-6d %-14s %d+\n",
			d.ID, d.Rule, d.Symbol, days, d.TargetDTE, d.CorrelationGroup, d.MinPhase)
	}
	return nil
}
