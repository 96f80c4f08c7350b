package portfolio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the portfolio's prometheus collectors.
type Metrics struct {
	Repos       *prometheus.CounterVec
	RunDuration prometheus.Histogram
	Findings    *prometheus.CounterVec
}

// NewMetrics registers the portfolio collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Repos: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfactory_portfolio_repos_total",
			Help: "Repositories processed by portfolio runs, by final status.",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditfactory_portfolio_run_duration_seconds",
			Help:    "Wall time of portfolio runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfactory_findings_total",
			Help: "Findings reported by completed repositories, by severity.",
		}, []string{"severity"}),
	}
}
