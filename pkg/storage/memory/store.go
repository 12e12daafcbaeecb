// Copyright 2026 PROVENIQ
//
// In-memory implementation of the storage port.
// Used by tests and by the dev storage driver. Locks are scoped the same
// way the PostgreSQL store scopes its FOR UPDATE reads: ReadAssetTip takes
// a per-asset lock and ReadIdempotency a per-key lock, each held until
// Commit or Rollback. Appenders to the same asset serialize behind the tip
// read; appends to unrelated assets proceed independently.

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

// Store keeps the full ledger state in process memory.
type Store struct {
	mu     sync.RWMutex
	locks  map[string]chan struct{}
	events map[string][]*storage.EventRow // tenant/asset -> rows in version order
	byID   map[uuid.UUID]struct{}
	idem   map[string]*storage.IdempotencyRecord
	outbox []*storage.OutboxRow
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		locks:  make(map[string]chan struct{}),
		events: make(map[string][]*storage.EventRow),
		byID:   make(map[uuid.UUID]struct{}),
		idem:   make(map[string]*storage.IdempotencyRecord),
	}
}

func assetKey(tenantID string, assetID uuid.UUID) string {
	return tenantID + "/" + assetID.String()
}

func idemKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// lockChan returns the lock channel for key, creating it on first use.
func (s *Store) lockChan(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// Begin opens a transaction. Locks are taken lazily by the reads, so
// transactions on unrelated assets never block each other here.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	return &tx{store: s, held: make(map[string]chan struct{})}, nil
}

type tx struct {
	store *Store
	done  bool

	// held tracks row locks owned by this transaction, released on
	// Commit/Rollback.
	held map[string]chan struct{}

	pendingEvents []*storage.EventRow
	pendingIdem   []*storage.IdempotencyRecord
	pendingOutbox []*storage.OutboxRow
}

// acquire blocks until the lock for key is held by this transaction or ctx
// expires. Re-acquiring a held key is a no-op.
func (t *tx) acquire(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.store.lockChan(key)
	select {
	case ch <- struct{}{}:
		t.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) releaseAll() {
	for _, ch := range t.held {
		<-ch
	}
	t.held = nil
}

func (t *tx) ReadIdempotency(ctx context.Context, tenantID, key string) (*storage.IdempotencyRecord, error) {
	// Lock the key row so a concurrent retry with the same key cannot
	// insert a conflicting record before this transaction resolves.
	if err := t.acquire(ctx, "idem:"+idemKey(tenantID, key)); err != nil {
		return nil, fmt.Errorf("failed to lock idempotency key: %w", err)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.idem[idemKey(tenantID, key)]
	if !ok {
		return nil, storage.ErrIdempotencyNotFound
	}
	cp := *rec
	return &cp, nil
}

func (t *tx) ReadAssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	// The per-asset lock: concurrent appenders to this asset block here
	// until the holder commits or rolls back.
	if err := t.acquire(ctx, "asset:"+assetKey(tenantID, assetID)); err != nil {
		return nil, fmt.Errorf("failed to lock asset: %w", err)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rows := t.store.events[assetKey(tenantID, assetID)]
	if len(rows) == 0 {
		return nil, storage.ErrTipNotFound
	}
	last := rows[len(rows)-1]
	return &storage.Tip{
		AggregateVersion: last.AggregateVersion,
		EventHash:        last.EventHash,
	}, nil
}

func (t *tx) InsertEvent(ctx context.Context, row *storage.EventRow) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if _, dup := t.store.byID[row.EventID]; dup {
		return fmt.Errorf("%w: duplicate event_id", storage.ErrVersionConflict)
	}
	for _, existing := range t.store.events[assetKey(row.TenantID, row.AssetID)] {
		if existing.AggregateVersion == row.AggregateVersion {
			return fmt.Errorf("%w: version %d exists", storage.ErrVersionConflict, row.AggregateVersion)
		}
	}
	for _, pending := range t.pendingEvents {
		if pending.TenantID == row.TenantID && pending.AssetID == row.AssetID &&
			pending.AggregateVersion == row.AggregateVersion {
			return fmt.Errorf("%w: version %d pending", storage.ErrVersionConflict, row.AggregateVersion)
		}
	}

	cp := *row
	t.pendingEvents = append(t.pendingEvents, &cp)
	return nil
}

func (t *tx) InsertIdempotency(ctx context.Context, rec *storage.IdempotencyRecord) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if _, dup := t.store.idem[idemKey(rec.TenantID, rec.IdempotencyKey)]; dup {
		return fmt.Errorf("%w: key exists", storage.ErrIdempotencyConflict)
	}
	cp := *rec
	t.pendingIdem = append(t.pendingIdem, &cp)
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, row *storage.OutboxRow) error {
	cp := *row
	t.pendingOutbox = append(t.pendingOutbox, &cp)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already resolved")
	}
	t.done = true

	t.store.mu.Lock()
	for _, row := range t.pendingEvents {
		key := assetKey(row.TenantID, row.AssetID)
		t.store.events[key] = append(t.store.events[key], row)
		t.store.byID[row.EventID] = struct{}{}
	}
	for _, rec := range t.pendingIdem {
		t.store.idem[idemKey(rec.TenantID, rec.IdempotencyKey)] = rec
	}
	t.store.outbox = append(t.store.outbox, t.pendingOutbox...)
	t.store.mu.Unlock()

	t.releaseAll()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.releaseAll()
	return nil
}

// ============================================================================
// READ SIDE
// ============================================================================

// AssetTip returns the current tip outside any transaction.
func (s *Store) AssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.events[assetKey(tenantID, assetID)]
	if len(rows) == 0 {
		return nil, storage.ErrTipNotFound
	}
	last := rows[len(rows)-1]
	return &storage.Tip{AggregateVersion: last.AggregateVersion, EventHash: last.EventHash}, nil
}

// Lineage returns event rows for an asset in version order.
func (s *Store) Lineage(ctx context.Context, tenantID string, assetID uuid.UUID, afterVersion int64, limit int) ([]*storage.EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.EventRow
	for _, row := range s.events[assetKey(tenantID, assetID)] {
		if row.AggregateVersion <= afterVersion {
			continue
		}
		cp := *row
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ============================================================================
// OUTBOX QUEUE
// ============================================================================

// FetchPending returns undelivered outbox rows in creation order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]*storage.OutboxRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.OutboxRow
	for _, row := range s.outbox {
		if row.DeliveredAt != nil {
			continue
		}
		cp := *row
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkDelivered stamps an outbox row as handed off.
func (s *Store) MarkDelivered(ctx context.Context, outboxID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.outbox {
		if row.OutboxID == outboxID {
			now := time.Now().UTC()
			row.DeliveredAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox row %s not found", outboxID)
}

// EventCount reports the number of committed events for an asset; test helper.
func (s *Store) EventCount(tenantID string, assetID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[assetKey(tenantID, assetID)])
}

// OutboxCount reports the number of committed outbox rows; test helper.
func (s *Store) OutboxCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outbox)
}
