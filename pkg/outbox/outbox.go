// Copyright 2026 PROVENIQ
//
// Outbox Dispatcher - drains pending outbox rows to a delivery sink.
// Rows are written in the append transaction; this loop provides
// at-least-once handoff. A row is marked delivered only after the sink
// accepts it, so a crash between the two repeats the delivery and
// consumers must dedupe on the envelope's event_id.

package outbox

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terryholliday/proveniq-ops/pkg/metrics"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

// Sink receives outbox payloads. The topic equals the event type verbatim.
type Sink interface {
	Deliver(ctx context.Context, row *storage.OutboxRow) error
}

// Dispatcher polls the outbox queue and forwards rows to the sink.
type Dispatcher struct {
	queue     storage.OutboxQueue
	sink      Sink
	interval  time.Duration
	batchSize int
	log       *logrus.Entry
}

// NewDispatcher builds a dispatcher polling at interval with the given
// batch size.
func NewDispatcher(queue storage.OutboxQueue, sink Sink, interval time.Duration, batchSize int) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		queue:     queue,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		log:       logrus.WithField("component", "outbox"),
	}
}

// Run polls until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				d.log.WithError(err).Warn("outbox drain failed")
			}
		}
	}
}

// DrainOnce fetches one batch and delivers it. Delivery failures stop the
// batch; undelivered rows stay pending for the next cycle.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	rows, err := d.queue.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := d.sink.Deliver(ctx, row); err != nil {
			d.log.WithError(err).WithField("topic", row.Topic).Warn("delivery failed, row stays pending")
			return err
		}
		if err := d.queue.MarkDelivered(ctx, row.OutboxID); err != nil {
			return err
		}
		metrics.ObserveOutboxDelivered()
	}
	return nil
}

// LogSink logs deliveries; the dev-mode stand-in for a webhook transport.
type LogSink struct{}

// Deliver logs the row's topic and size.
func (LogSink) Deliver(ctx context.Context, row *storage.OutboxRow) error {
	logrus.WithFields(logrus.Fields{
		"topic":     row.Topic,
		"tenant_id": row.TenantID,
		"bytes":     len(row.PayloadJSON),
	}).Info("outbox delivery")
	return nil
}
