package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the rolewatch Prometheus metrics.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	FetchDuration  *prometheus.HistogramVec
	Records        prometheus.Gauge
	Roles          prometheus.Gauge
	LastSuccess    prometheus.Gauge
	DeliveryErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all rolewatch metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewatch_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"status"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rolewatch_run_duration_seconds",
			Help:    "End-to-end duration of a pipeline run.",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rolewatch_fetch_duration_seconds",
			Help:    "Latency of upstream fetches by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		Records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rolewatch_records",
			Help: "Member records in the last successful dataset.",
		}),

		Roles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rolewatch_roles",
			Help: "Directory roles in the last successful dataset.",
		}),

		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rolewatch_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),

		DeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rolewatch_delivery_errors_total",
			Help: "Summary delivery failures by sink.",
		}, []string{"sink"}),
	}
}
