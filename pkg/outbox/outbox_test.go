// Copyright 2026 PROVENIQ
//
// Outbox Dispatcher Tests

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/storage"
	"github.com/terryholliday/proveniq-ops/pkg/storage/memory"
)

type captureSink struct {
	delivered []*storage.OutboxRow
	failAfter int // deliver this many, then fail; -1 never fails
}

func (s *captureSink) Deliver(ctx context.Context, row *storage.OutboxRow) error {
	if s.failAfter >= 0 && len(s.delivered) >= s.failAfter {
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, row)
	return nil
}

func seedOutbox(t *testing.T, store *memory.Store, topics ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, topic := range topics {
		err := tx.InsertOutbox(ctx, &storage.OutboxRow{
			OutboxID:    uuid.New(),
			TenantID:    "tenant-001",
			Topic:       topic,
			PayloadJSON: []byte(`{"event_type":"` + topic + `"}`),
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestDrainOnce_DeliversAndMarks(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store, "ASSET_CREATED", "ASSET_TRANSFERRED")

	sink := &captureSink{failAfter: -1}
	d := NewDispatcher(store, sink, time.Second, 10)

	if err := d.DrainOnce(context.Background()); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if len(sink.delivered) != 2 {
		t.Errorf("delivered: got %d, want 2", len(sink.delivered))
	}

	pending, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("rows still pending after drain: %d", len(pending))
	}
}

func TestDrainOnce_FailedDeliveryStaysPending(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store, "A", "B", "C")

	sink := &captureSink{failAfter: 1}
	d := NewDispatcher(store, sink, time.Second, 10)

	if err := d.DrainOnce(context.Background()); err == nil {
		t.Fatal("expected drain error")
	}

	pending, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("pending after partial drain: got %d, want 2", len(pending))
	}
}

func TestDrainOnce_RedeliveryAfterFailure(t *testing.T) {
	store := memory.NewStore()
	seedOutbox(t, store, "A", "B")

	sink := &captureSink{failAfter: 1}
	d := NewDispatcher(store, sink, time.Second, 10)
	_ = d.DrainOnce(context.Background())

	// Sink recovers; the remaining row is delivered on the next cycle.
	sink.failAfter = -1
	if err := d.DrainOnce(context.Background()); err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if len(sink.delivered) != 2 {
		t.Errorf("delivered after recovery: got %d, want 2", len(sink.delivered))
	}
}
