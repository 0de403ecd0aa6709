// Package metrics provides small prometheus helper types shared by the
// heat observer and migration engine, mirroring the latency/error-counter
// pattern used throughout the wider storage-operator ecosystem this
// project is built on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// LatencyMetric observes the latency of a named operation.
type LatencyMetric interface {
	Observe(operation string, latency time.Duration)
}

// ResultMetric counts outcomes of a named operation, partitioned by error.
type ResultMetric interface {
	Increment(operation string, err error)
}

type latencyAdapter struct {
	m *prometheus.HistogramVec
}

func (l *latencyAdapter) Observe(operation string, latency time.Duration) {
	l.m.WithLabelValues(operation).Observe(latency.Seconds())
}

type resultAdapter struct {
	m *prometheus.CounterVec
}

func (r *resultAdapter) Increment(operation string, err error) {
	if err == nil {
		r.m.WithLabelValues(operation, "").Inc()
		return
	}
	r.m.WithLabelValues(operation, err.Error()).Inc()
}

// NewLatency builds a LatencyMetric backed by a new histogram registered
// on the controller-runtime metrics registry under name/help. If a
// histogram with the same name is already registered, that one is reused.
func NewLatency(name, help string) LatencyMetric {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	if err := ctrlmetrics.Registry.Register(h); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		h = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return &latencyAdapter{m: h}
}

// NewResult builds a ResultMetric backed by a new counter registered on the
// controller-runtime metrics registry under name/help. If a counter with
// the same name is already registered, that one is reused.
func NewResult(name, help string) ResultMetric {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: help,
	}, []string{"operation", "error"})
	if err := ctrlmetrics.Registry.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		c = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return &resultAdapter{m: c}
}
