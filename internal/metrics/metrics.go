// Package metrics exposes simulation counters for parameter-sweep runs that
// stay up long enough to scrape. Registration is process-wide; counters are
// labeled per strategy so concurrent runs aggregate cleanly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_runs_total", Help: "Completed simulation runs by outcome"},
		[]string{"outcome"},
	)
	DaysSimulated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sim_days_total", Help: "Trading days simulated"},
	)
	PositionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_positions_opened_total", Help: "Positions opened"},
		[]string{"strategy"},
	)
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_positions_closed_total", Help: "Positions closed by exit reason"},
		[]string{"strategy", "reason"},
	)
	CandidatesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_candidates_rejected_total", Help: "Candidate rejections by gate"},
		[]string{"strategy", "gate"},
	)
	RiskDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sim_risk_denials_total", Help: "Risk policy denials by check"},
		[]string{"strategy", "check"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal, DaysSimulated, PositionsOpened, PositionsClosed, CandidatesRejected, RiskDenials)
}

// Serve exposes /metrics on addr in the background. Callers own shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
