// Package metrics exposes Prometheus metrics for submission tracking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all daemon metrics.
	Namespace = "subwatch"

	// Subsystem is the subsystem for tracking metrics.
	Subsystem = "tracker"
)

// Metrics holds the tracker counters and gauges.
type Metrics struct {
	ObservedTotal      *prometheus.CounterVec
	TrackedTotal       *prometheus.CounterVec
	DiscardedTotal     *prometheus.CounterVec
	EnrichmentTotal    *prometheus.CounterVec
	PollAttemptsTotal  *prometheus.CounterVec
	PollDuration       *prometheus.HistogramVec
	VerdictsTotal      *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	PendingSubmissions prometheus.Gauge
}

// NewMetrics creates and registers all tracker metrics on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ObservedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "requests_observed_total",
			Help:      "Browser requests observed, by source",
		}, []string{"source"}),
		TrackedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "submissions_tracked_total",
			Help:      "New submissions registered for polling",
		}, []string{"method"}),
		DiscardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "requests_discarded_total",
			Help:      "Matching requests that were dropped",
		}, []string{"reason"}),
		EnrichmentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "enrichments_total",
			Help:      "Problem info lookups, by outcome",
		}, []string{"outcome"}),
		PollAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "poll_attempts_total",
			Help:      "Status poll attempts, by method and outcome",
		}, []string{"method", "outcome"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a single status poll",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"method"}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "verdicts_total",
			Help:      "Final verdicts observed",
		}, []string{"method", "verdict"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "notifications_total",
			Help:      "Notifications delivered, by outcome",
		}, []string{"outcome"}),
		PendingSubmissions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "pending_submissions",
			Help:      "Submissions currently awaiting a verdict",
		}),
	}
}
