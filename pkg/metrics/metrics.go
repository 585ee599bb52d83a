// Package metrics holds the Prometheus collectors for log storage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dukex/nodelog/pkg/models"
)

const namespace = "nodelog"

// Placement describes where a payload ended up after routing.
type Placement string

const (
	PlacementInline    Placement = "inline"
	PlacementOffloaded Placement = "offloaded"
	// PlacementFallback is an oversize payload stored inline because the upload failed.
	PlacementFallback Placement = "fallback"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	payloads          *prometheus.CounterVec
	hydrationFailures *prometheus.CounterVec
	offloadedBytes    prometheus.Counter
	providerDuration  *prometheus.HistogramVec
	providerErrors    *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_total",
			Help:      "Payloads saved, by field and placement",
		}, []string{"field", "placement"}),

		hydrationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydration_failures_total",
			Help:      "Offloaded payloads that could not be downloaded on read",
		}, []string{"field"}),

		offloadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offloaded_bytes_total",
			Help:      "Bytes uploaded to blob storage",
		}),

		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_operation_duration_seconds",
			Help:      "Storage provider operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"backend", "operation"}),

		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Storage provider operations that returned an error",
		}, []string{"backend", "operation"}),
	}

	for _, collector := range []prometheus.Collector{
		m.payloads,
		m.hydrationFailures,
		m.offloadedBytes,
		m.providerDuration,
		m.providerErrors,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordPayload counts one routed payload and, when offloaded, its size.
func (m *Metrics) RecordPayload(field models.PayloadField, placement Placement, size int64) {
	if m == nil {
		return
	}

	m.payloads.WithLabelValues(string(field), string(placement)).Inc()

	if placement == PlacementOffloaded && size > 0 {
		m.offloadedBytes.Add(float64(size))
	}
}

func (m *Metrics) RecordHydrationFailure(field models.PayloadField) {
	if m != nil {
		m.hydrationFailures.WithLabelValues(string(field)).Inc()
	}
}

func (m *Metrics) observeProvider(backend models.StorageBackend, operation string, seconds float64, failed bool) {
	if m == nil {
		return
	}

	m.providerDuration.WithLabelValues(string(backend), operation).Observe(seconds)

	if failed {
		m.providerErrors.WithLabelValues(string(backend), operation).Inc()
	}
}
