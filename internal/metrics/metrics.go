// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatarchive"

var (
	// EventsDropped counts malformed raw events, by reason.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "events_dropped_total",
			Help:      "Raw events dropped as malformed.",
		},
		[]string{"reason"},
	)

	// RecordsEmitted counts normalized records, by kind.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "records_emitted_total",
			Help:      "Records emitted with a resolved timestamp or range.",
		},
		[]string{"kind"},
	)

	// RangeTimeouts counts ranged records resolved by the timeout rule.
	RangeTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "range_timeouts_total",
			Help:      "Pending ranged records closed by the timeout ceiling.",
		},
	)

	// MinuteOutcomes counts per-minute merge outcomes (converged, changed, error).
	MinuteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "minute_outcomes_total",
			Help:      "Per-minute merge outcomes.",
		},
		[]string{"channel", "outcome"},
	)

	// Conflicts counts integrity conflicts surfaced by the merge engine.
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "conflicts_total",
			Help:      "Same-id records with diverging immutable fields or receiver times.",
		},
		[]string{"channel"},
	)

	// PassDuration observes the wall time of one reconciliation pass.
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Duration of a full scan-and-merge pass.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// MinuteFlushes counts minute files written by the recorder.
	MinuteFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "minute_flushes_total",
			Help:      "Minute files flushed from live normalization.",
		},
		[]string{"channel"},
	)
)
