// Package metrics defines the prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts accepted webhook deliveries by event type.
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_events_ingested_total",
		Help: "Webhook deliveries accepted and stored, by event type.",
	}, []string{"event_type"})

	// EventsDropped counts deliveries for untracked repositories.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsefeed_events_dropped_total",
		Help: "Webhook deliveries accepted but dropped (repository not tracked).",
	})

	// EventsRejected counts deliveries that failed schema validation.
	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsefeed_events_rejected_total",
		Help: "Webhook deliveries rejected at ingress (validation failure).",
	})

	// EventsProcessed counts per-event processing outcomes per batch run.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_events_processed_total",
		Help: "Raw events processed by the worker, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// FanoutWrites counts timeline upserts by projection.
	FanoutWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_fanout_writes_total",
		Help: "Timeline upserts issued, by projection (public or user).",
	}, []string{"projection"})

	// FanoutErrors counts failed timeline upserts by projection.
	FanoutErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_fanout_errors_total",
		Help: "Timeline upserts that failed, by projection.",
	}, []string{"projection"})

	// BatchDuration observes wall-clock time per worker batch run.
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulsefeed_batch_duration_seconds",
		Help:    "Wall-clock duration of worker batch runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// SnoozeReactivated counts timeline rows woken by the snooze sweep.
	SnoozeReactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsefeed_snooze_reactivated_total",
		Help: "Timeline entries reactivated by the snooze sweep.",
	})

	// MilestoneNotifications counts milestone notifications sent by type.
	MilestoneNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_milestone_notifications_total",
		Help: "Milestone notifications sent, by notification type.",
	}, []string{"type"})
)
