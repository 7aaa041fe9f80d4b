package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fritsstegmann/fily/pkg/scrub"
)

// ScrubberMetrics exposes Prometheus collectors for the sidecar scrubber.
type ScrubberMetrics struct {
	reg     *prometheus.Registry
	scanned prometheus.Counter
	flagged prometheus.Counter
	errors  prometheus.Counter
	lastRun prometheus.Gauge
	uptime  prometheus.Gauge

	prevScanned float64
	prevFlagged float64
	prevErrors  float64
}

// NewScrubberMetrics registers scrubber metrics on the provided registry.
func NewScrubberMetrics(reg *prometheus.Registry) *ScrubberMetrics {
	scanned := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "scrubber",
		Name:      "scanned_total",
		Help:      "Total number of sidecars scanned by the scrubber since start.",
	})
	flagged := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "scrubber",
		Name:      "flagged_total",
		Help:      "Total number of items flagged for cleanup since start.",
	})
	errors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fily",
		Subsystem: "scrubber",
		Name:      "errors_total",
		Help:      "Total number of scrubber errors detected since start.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fily",
		Subsystem: "scrubber",
		Name:      "last_run_timestamp_seconds",
		Help:      "Timestamp of the last completed scrub pass in seconds since epoch.",
	})
	uptime := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fily",
		Subsystem: "scrubber",
		Name:      "uptime_seconds",
		Help:      "Total time in seconds since the scrubber was started.",
	})

	_ = reg.Register(scanned)
	_ = reg.Register(flagged)
	_ = reg.Register(errors)
	_ = reg.Register(lastRun)
	_ = reg.Register(uptime)

	return &ScrubberMetrics{
		reg:     reg,
		scanned: scanned,
		flagged: flagged,
		errors:  errors,
		lastRun: lastRun,
		uptime:  uptime,
	}
}

// Observe updates metrics based on a Stats snapshot. The scrubber reports
// absolute counts, so deltas against the previous snapshot are added to the
// counters; a negative delta means the counters were reset and the baseline
// restarts at the current value.
func (s *ScrubberMetrics) Observe(st scrub.Stats) {
	addDelta(&s.prevScanned, float64(st.Scanned), s.scanned)
	addDelta(&s.prevFlagged, float64(st.Flagged), s.flagged)
	addDelta(&s.prevErrors, float64(st.Errors), s.errors)

	if !st.LastRun.IsZero() {
		s.lastRun.Set(float64(st.LastRun.Unix()))
	}
	s.uptime.Set(st.Uptime.Seconds())
}

func addDelta(prev *float64, current float64, c prometheus.Counter) {
	delta := current - *prev
	if delta < 0 {
		*prev = current
		return
	}
	if delta > 0 {
		c.Add(delta)
		*prev = current
	}
}

// StartPolling attaches a periodic poller that reads scr.Stats() at the given
// interval and pushes into metrics via Observe. Returns a stop function to
// cancel the poller.
func (s *ScrubberMetrics) StartPolling(scr scrub.Scrubber, interval time.Duration) (stop func()) {
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
				s.Observe(scr.Stats())
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
