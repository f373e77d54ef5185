package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "thetarun"
	version = "v0.4.0"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if os.Getenv("THETARUN_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Options premium-selling backtest engine",
		Version: version,
		Long: `thetarun replays historical daily bars against a set of rule-based
option-selling strategies: calendar and volatility gating, Black-Scholes
valuation, regime-aware buying-power ceilings, correlation-group caps, and a
strict exit ladder per position. Runs are deterministic and auditable.`,
	}

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a simulation over a historical date range",
		Long:  "Replays the trading calendar day by day and reports trades, equity series, and summary statistics",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("config", "configs/simulation.yaml", "Simulation config file")
	backtestCmd.Flags().String("start", "", "Start date (YYYY-MM-DD, required)")
	backtestCmd.Flags().String("end", "", "End date (YYYY-MM-DD, required)")
	backtestCmd.Flags().Float64("capital", 40000, "Starting capital in dollars")
	backtestCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	backtestCmd.Flags().Bool("json", false, "Print the full result as JSON instead of a summary")

	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "List the configured strategy set",
		RunE:  runStrategies,
	}
	strategiesCmd.Flags().String("config", "configs/simulation.yaml", "Simulation config file")

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(strategiesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
