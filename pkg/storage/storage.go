// Copyright 2026 PROVENIQ
//
// Storage Port - transactional primitives the append coordinator relies on.
// Implementations must guarantee per-asset serialization: either block a
// concurrent appender on ReadAssetTip until this transaction finishes, or
// let both proceed and fail exactly one InsertEvent with ErrVersionConflict.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for storage operations
var (
	// ErrTipNotFound is returned when an asset has no events yet.
	ErrTipNotFound = errors.New("storage: asset tip not found")

	// ErrIdempotencyNotFound is returned when no idempotency record exists
	// for a (tenant_id, idempotency_key) pair.
	ErrIdempotencyNotFound = errors.New("storage: idempotency record not found")

	// ErrVersionConflict is returned when an event insert loses the race on
	// (tenant_id, asset_id, aggregate_version) or reuses an event_id.
	ErrVersionConflict = errors.New("storage: aggregate version conflict")

	// ErrIdempotencyConflict is returned when an idempotency insert hits an
	// existing (tenant_id, idempotency_key) row.
	ErrIdempotencyConflict = errors.New("storage: idempotency key conflict")
)

// EventRow is the persisted form of a signed envelope.
type EventRow struct {
	EventID          uuid.UUID
	AssetID          uuid.UUID
	TenantID         string
	AggregateVersion int64
	EventType        string
	EmitterClass     string
	EmitterID        string
	TSUTC            time.Time
	EvidencePolicy   string
	EvidenceHash     *string
	WaiverReason     *string
	// PayloadJSON and EvidenceJSON hold canonical encodings so stored rows
	// can be re-verified byte-for-byte.
	PayloadJSON   []byte
	EvidenceJSON  []byte
	PrevEventHash string
	EventHash     string
	Signature     string
}

// Tip is the highest-version event of an asset.
type Tip struct {
	AggregateVersion int64
	EventHash        string
}

// IdempotencyRecord makes an append retryable: same key and fingerprint
// replay the stored response; same key with a different fingerprint is a
// conflict.
type IdempotencyRecord struct {
	TenantID       string
	IdempotencyKey string
	RequestHash    string
	ResponseJSON   []byte
}

// OutboxRow is a pending downstream notification written in the same
// transaction as its event. Topic equals the event type verbatim.
type OutboxRow struct {
	OutboxID    uuid.UUID
	TenantID    string
	Topic       string
	PayloadJSON []byte
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// Store opens append transactions against a backend.
type Store interface {
	// Begin opens a transaction. The caller owns it exclusively and must
	// resolve it with Commit or Rollback on every path.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one open append transaction.
type Tx interface {
	// ReadIdempotency returns the record for (tenantID, key), locking it
	// against concurrent writers, or ErrIdempotencyNotFound.
	ReadIdempotency(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error)

	// ReadAssetTip returns the highest-version event for the asset, or
	// ErrTipNotFound. Implementations lock the tip row so concurrent
	// appenders to the same asset serialize behind this transaction.
	ReadAssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*Tip, error)

	// InsertEvent persists one event row. Duplicate
	// (tenant_id, asset_id, aggregate_version) or event_id returns
	// ErrVersionConflict.
	InsertEvent(ctx context.Context, row *EventRow) error

	// InsertIdempotency persists the idempotency record. A duplicate key
	// returns ErrIdempotencyConflict.
	InsertIdempotency(ctx context.Context, rec *IdempotencyRecord) error

	// InsertOutbox persists one outbox row.
	InsertOutbox(ctx context.Context, row *OutboxRow) error

	Commit() error
	Rollback() error
}

// Reader serves the read-side endpoints. Reads never take part in append
// transactions.
type Reader interface {
	// AssetTip returns the current tip, or ErrTipNotFound.
	AssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*Tip, error)

	// Lineage returns event rows for an asset in version order, starting
	// after afterVersion, at most limit rows.
	Lineage(ctx context.Context, tenantID string, assetID uuid.UUID, afterVersion int64, limit int) ([]*EventRow, error)
}

// OutboxQueue is consumed by the downstream dispatcher. Delivery is
// at-least-once; consumers dedupe on event_id inside the payload.
type OutboxQueue interface {
	FetchPending(ctx context.Context, limit int) ([]*OutboxRow, error)
	MarkDelivered(ctx context.Context, outboxID uuid.UUID) error
}
