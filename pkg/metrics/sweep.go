package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Alert outcomes reported by a sweep.
const (
	OutcomeDispatched = "dispatched"
	OutcomeDuplicate  = "duplicate"
	OutcomeFailed     = "failed"
)

// Delivery statuses reported per channel.
const (
	StatusSent    = "sent"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// SweepMetrics records alert sweep and notification delivery outcomes.
// A zero or nil SweepMetrics is a valid no-op recorder.
type SweepMetrics struct {
	duration   *prometheus.HistogramVec
	alerts     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewSweepMetrics registers the sweep metrics on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alert_sweep_duration_seconds",
		Help:    "Duration of alert sweeps and digest runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_sweep_alerts_total",
		Help: "Alerts evaluated by sweeps, by outcome.",
	}, []string{"outcome"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notification channel deliveries, by channel and status.",
	}, []string{"channel", "status"})
	reg.MustRegister(duration, alerts, deliveries)
	return &SweepMetrics{
		duration:   duration,
		alerts:     alerts,
		deliveries: deliveries,
	}
}

// ObserveDuration records the duration of the named job (sweep, digest).
func (m *SweepMetrics) ObserveDuration(job string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

// AddAlerts adds n alerts with the given outcome.
func (m *SweepMetrics) AddAlerts(outcome string, n int) {
	if m == nil || m.alerts == nil || n <= 0 {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(outcome)).Add(float64(n))
}

// IncDelivery counts one channel delivery attempt.
func (m *SweepMetrics) IncDelivery(channel, status string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(channel), normalizeLabel(status)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
