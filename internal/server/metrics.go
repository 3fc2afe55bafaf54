package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// Metrics holds the Prometheus instruments exposed at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal  prometheus.Counter
	queryDuration prometheus.Histogram
	runsTotal     *prometheus.CounterVec
	promotions    prometheus.Counter
}

// NewMetrics creates and registers the corpusd metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_queries_total",
			Help: "Total retrieval queries served.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpusd_query_duration_seconds",
			Help:    "Retrieval query latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_pipeline_runs_total",
			Help: "Completed pipeline runs by status.",
		}, []string{"status"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_promotions_total",
			Help: "Snapshot promotions.",
		}),
	}
	registry.MustRegister(m.queriesTotal, m.queryDuration, m.runsTotal, m.promotions)
	return m
}

// ObserveQuery records one served query and its latency.
func (m *Metrics) ObserveQuery(seconds float64) {
	m.queriesTotal.Inc()
	m.queryDuration.Observe(seconds)
}

// ObserveRun records a completed pipeline run. Wire it to the pipeline's
// OnRunFinished hook.
func (m *Metrics) ObserveRun(rec *store.RunRecord) {
	m.runsTotal.WithLabelValues(rec.Status).Inc()
	if rec.Status == pipeline.StatusPromoted {
		m.promotions.Inc()
	}
}
