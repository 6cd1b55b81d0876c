package bulkops

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metrics *PrometheusMetricsWrapper
)

// PrometheusMetricsWrapper bundles the Prometheus metrics published by the bulk-operation
// subsystem. A single instance is registered at package init and shared process-wide.
type PrometheusMetricsWrapper struct {
	SessionsCreated     *prometheus.CounterVec
	OperationsCompleted *prometheus.CounterVec
	OperationsInFlight  prometheus.Gauge
	OperationDuration   *prometheus.HistogramVec
}

func init() {
	metrics = &PrometheusMetricsWrapper{
		SessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_sessions_created_total",
			Help: "Total number of bulk sessions created, by target kind and action.",
		}, []string{"kind", "action"}),
		OperationsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_operations_completed_total",
			Help: "Total number of bulk operations that reached a terminal status.",
		}, []string{"kind", "action", "status"}),
		OperationsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulk_operations_in_flight",
			Help: "Number of bulk operations currently executing against the remote API.",
		}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_operation_duration_milliseconds",
			Help:    "Observed wall-clock duration of individual bulk operations, in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"kind", "action"}),
	}

	prometheus.MustRegister(metrics.SessionsCreated)
	prometheus.MustRegister(metrics.OperationsCompleted)
	prometheus.MustRegister(metrics.OperationsInFlight)
	prometheus.MustRegister(metrics.OperationDuration)
}
