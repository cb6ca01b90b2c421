package impersonation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the limiter's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	starts   *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_impersonation_starts_total",
				Help: "Impersonation start attempts by result",
			},
			[]string{"result"},
		),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meridian_impersonation_active_sessions",
			Help: "Open impersonation sessions across all super-admins",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_impersonation_session_duration_seconds",
			Help:    "Length of ended impersonation sessions",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
		}),
	}
	reg.MustRegister(m.starts, m.active, m.duration)
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.starts.WithLabelValues("allowed").Inc()
	m.active.Inc()
}

func (m *Metrics) denied() {
	if m == nil {
		return
	}
	m.starts.WithLabelValues("denied").Inc()
}

func (m *Metrics) ended(d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.duration.Observe(d.Seconds())
}

// syncActive resets the gauge from a full listing, correcting drift from
// sessions started or ended by other processes.
func (m *Metrics) syncActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}
