package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports checker activity. A nil *Metrics records nothing.
type Metrics struct {
	checks   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	queued   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alice_checks_total",
			Help: "Crash images checked, by phase and verdict.",
		}, []string{"phase", "verdict"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alice_check_duration_seconds",
			Help:    "Time the checker spent on one crash image.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"phase"}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alice_queued_checks",
			Help: "Crash images waiting for a worker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.checks, m.duration, m.queued)
	}
	return m
}

func verdict(res Result) string {
	switch {
	case res.Err != nil:
		return "fault"
	case res.Code != 0:
		return "inconsistent"
	}
	return "consistent"
}

func (m *Metrics) observe(phase string, res Result, took time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(phase, verdict(res)).Inc()
	m.duration.WithLabelValues(phase).Observe(took.Seconds())
}

func (m *Metrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}
