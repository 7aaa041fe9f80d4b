package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fritsstegmann/fily/pkg/scrub"
)

// CleanupMetrics exposes Prometheus collectors for the cleanup queue and
// worker. It focuses on low-cardinality, cheap-to-collect series.
type CleanupMetrics struct {
	reg        *prometheus.Registry
	queueDepth prometheus.Gauge
	processed  prometheus.Counter
	failed     prometheus.Counter

	prevProcessed float64
	prevFailed    float64
}

// NewCleanupMetrics registers cleanup metrics on the provided registry.
func NewCleanupMetrics(reg *prometheus.Registry) *CleanupMetrics {
	qd := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fily",
		Subsystem: "cleanup",
		Name:      "queue_depth",
		Help:      "Current number of items pending in the cleanup queue.",
	})
	processed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "cleanup",
		Name:      "processed_total",
		Help:      "Total number of cleanup items processed since start.",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "cleanup",
		Name:      "failed_total",
		Help:      "Total number of cleanup items that failed processing since start.",
	})
	_ = reg.Register(qd)
	_ = reg.Register(processed)
	_ = reg.Register(failed)
	return &CleanupMetrics{
		reg:        reg,
		queueDepth: qd,
		processed:  processed,
		failed:     failed,
	}
}

// ObserveLen sets the queue depth gauge to n.
func (c *CleanupMetrics) ObserveLen(n int) {
	c.queueDepth.Set(float64(n))
}

// ObserveWorker updates the processed and failed counters from a worker
// stats snapshot.
func (c *CleanupMetrics) ObserveWorker(st scrub.WorkerStats) {
	addDelta(&c.prevProcessed, float64(st.Processed), c.processed)
	addDelta(&c.prevFailed, float64(st.Failed), c.failed)
	c.queueDepth.Set(float64(st.QueueLen))
}

// StartPolling periodically observes the worker stats and updates the
// collectors. Returns a stop function to cancel the poller.
func (c *CleanupMetrics) StartPolling(w *scrub.Worker, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if w != nil {
					c.ObserveWorker(w.Stats())
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
