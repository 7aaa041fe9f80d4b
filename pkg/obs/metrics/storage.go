package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics holds Prometheus collectors for storage-layer instrumentation.
type StorageMetrics struct {
	reg            *prometheus.Registry
	bytes          *prometheus.CounterVec
	ops            *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	decryptFailure prometheus.Counter
}

// StorageObserver is a minimal observer interface implemented by StorageMetrics.
type StorageObserver interface {
	Observe(op string, bytes int64, err error, dur time.Duration)
}

// NewStorageMetrics registers storage metrics on the provided registry.
func NewStorageMetrics(reg *prometheus.Registry) *StorageMetrics {
	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "storage",
		Name:      "bytes_total",
		Help:      "Total bytes processed by storage operations.",
	}, []string{"op"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "storage",
		Name:      "ops_total",
		Help:      "Total number of storage operations by result.",
	}, []string{"op", "result"}) // result = "ok" | "error"
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fily",
		Subsystem: "storage",
		Name:      "op_duration_seconds",
		Help:      "Histogram of storage operation durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	decryptFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "storage",
		Name:      "decrypt_failures_total",
		Help:      "Number of payloads that failed AEAD authentication on read.",
	})

	_ = reg.Register(bytes)
	_ = reg.Register(ops)
	_ = reg.Register(latency)
	_ = reg.Register(decryptFailure)

	return &StorageMetrics{
		reg:            reg,
		bytes:          bytes,
		ops:            ops,
		latency:        latency,
		decryptFailure: decryptFailure,
	}
}

// Observe records a storage operation with optional bytes and error.
// dur must be the total time spent in the operation.
func (m *StorageMetrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

// ObserveDecryptFailure counts a payload whose AEAD tag did not verify.
func (m *StorageMetrics) ObserveDecryptFailure() {
	m.decryptFailure.Inc()
}
