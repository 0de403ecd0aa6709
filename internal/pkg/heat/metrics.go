package heat

import (
	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/couchestor/couchestor/internal/pkg/metrics"
)

// observerMetrics bundles the prometheus instrumentation for one Observer.
type observerMetrics struct {
	latency metrics.LatencyMetric
	result  metrics.ResultMetric
	healthy prometheus.Gauge
}

func newObserverMetrics() *observerMetrics {
	healthy := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "couchestor_heat_observer_healthy",
		Help: "1 if the heat observer's most recent telemetry backend query succeeded, 0 otherwise.",
	})
	if err := ctrlmetrics.Registry.Register(healthy); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		healthy = are.ExistingCollector.(prometheus.Gauge)
	}

	return &observerMetrics{
		latency: metrics.NewLatency(
			"couchestor_heat_observer_query_duration_seconds",
			"Latency of telemetry backend queries made by the heat observer.",
		),
		result: metrics.NewResult(
			"couchestor_heat_observer_query_total",
			"Count of telemetry backend queries made by the heat observer, by outcome.",
		),
		healthy: healthy,
	}
}
