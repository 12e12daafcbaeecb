// Copyright 2026 PROVENIQ
//
// Prometheus metrics for the append path and outbox.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proveniq_ops",
		Name:      "append_total",
		Help:      "Append attempts by outcome code.",
	}, []string{"outcome"})

	appendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proveniq_ops",
		Name:      "append_duration_seconds",
		Help:      "End-to-end append latency including storage commit.",
		Buckets:   prometheus.DefBuckets,
	})

	idempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proveniq_ops",
		Name:      "idempotent_replays_total",
		Help:      "Appends answered from a stored idempotency record.",
	})

	outboxWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proveniq_ops",
		Name:      "outbox_written_total",
		Help:      "Outbox rows written, by topic.",
	}, []string{"topic"})

	outboxDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proveniq_ops",
		Name:      "outbox_delivered_total",
		Help:      "Outbox rows handed to the dispatcher sink.",
	})
)

// ObserveAppend records one append attempt.
func ObserveAppend(outcome string, took time.Duration) {
	appendTotal.WithLabelValues(outcome).Inc()
	appendDuration.Observe(took.Seconds())
}

// ObserveReplay records an idempotent replay.
func ObserveReplay() {
	idempotentReplays.Inc()
}

// ObserveOutboxWrite records an outbox row written for topic.
func ObserveOutboxWrite(topic string) {
	outboxWritten.WithLabelValues(topic).Inc()
}

// ObserveOutboxDelivered records a dispatched outbox row.
func ObserveOutboxDelivered() {
	outboxDelivered.Inc()
}
