package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	paymentsMetricsOnce sync.Once
	paymentsRegistry    *PaymentsMetrics
)

// PaymentsMetrics wraps collectors tracking the payment request lifecycle.
type PaymentsMetrics struct {
	created       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	settled       *prometheus.CounterVec
	latency       prometheus.Histogram
	pending       prometheus.Gauge
	expired       prometheus.Counter
}

// Payments exposes the metrics registry for the payments gateway.
func Payments() *PaymentsMetrics {
	paymentsMetricsOnce.Do(func() {
		paymentsRegistry = NewPaymentsMetrics(prometheus.DefaultRegisterer)
	})
	return paymentsRegistry
}

// NewPaymentsMetrics builds the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests use to avoid global state.
func NewPaymentsMetrics(reg prometheus.Registerer) *PaymentsMetrics {
	m := &PaymentsMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "intents_created_total",
			Help:      "Payment requests created, segmented by asset.",
		}, []string{"asset"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Verification attempts segmented by outcome.",
		}, []string{"outcome"}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "settled_total",
			Help:      "Payments finalized after on-chain confirmation, segmented by asset.",
		}, []string{"asset"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "verification_duration_seconds",
			Help:      "Latency of verification including settlement lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "pending_intents",
			Help:      "Payment requests awaiting settlement.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "solkart",
			Subsystem: "payments",
			Name:      "intents_expired_total",
			Help:      "Payment requests purged after their expiry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.verifications, m.settled, m.latency, m.pending, m.expired)
	}
	return m
}

// RecordCreated increments the created counter for the asset.
func (m *PaymentsMetrics) RecordCreated(asset string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordVerification records the outcome of a verify call and its latency.
func (m *PaymentsMetrics) RecordVerification(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	outcome = strings.ReplaceAll(strings.TrimSpace(outcome), " ", "_")
	if outcome == "" {
		outcome = "unknown"
	}
	m.verifications.WithLabelValues(outcome).Inc()
	m.latency.Observe(d.Seconds())
}

// RecordSettled increments the settled counter for the asset.
func (m *PaymentsMetrics) RecordSettled(asset string) {
	if m == nil {
		return
	}
	m.settled.WithLabelValues(labelAsset(asset)).Inc()
}

// SetPending publishes the number of live intents.
func (m *PaymentsMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// RecordExpired adds n purged intents.
func (m *PaymentsMetrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// Collectors exposes the underlying collectors for test assertions.
func (m *PaymentsMetrics) Collectors() (created, verifications, settled *prometheus.CounterVec, pending prometheus.Gauge) {
	return m.created, m.verifications, m.settled, m.pending
}

// labelAsset maps an empty mint onto the native asset.
func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "SOL"
	}
	return trimmed
}
