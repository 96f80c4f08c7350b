package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records dispatcher calls. Outcome is "ok", a dispatch kind, or "contract_violation".
//
//   - auditfactory_dispatch_calls_total{role,skill,backend,outcome}
//   - auditfactory_dispatch_duration_seconds{role,skill,backend}
//   - auditfactory_dispatch_retries_total{role,skill}
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Retries  *prometheus.CounterVec
}

// NewMetrics registers dispatcher metrics on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfactory_dispatch_calls_total",
			Help: "Agent calls by role, skill, backend and outcome",
		}, []string{"role", "skill", "backend", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditfactory_dispatch_duration_seconds",
			Help:    "Agent call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"role", "skill", "backend"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditfactory_dispatch_retries_total",
			Help: "Agent calls retried after an unreachable or timeout failure",
		}, []string{"role", "skill"}),
	}
}
