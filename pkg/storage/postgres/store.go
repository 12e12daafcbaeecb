// Copyright 2026 PROVENIQ
//
// PostgreSQL implementation of the storage port.
// Per-asset serialization uses SELECT ... FOR UPDATE on the tip row; the
// genesis race (no row to lock) is resolved by the unique constraint on
// (tenant_id, asset_id, aggregate_version) surfacing ErrVersionConflict.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

const pqUniqueViolation = "23505"

// Store implements storage.Store, storage.Reader, and storage.OutboxQueue
// on top of a pooled PostgreSQL client.
type Store struct {
	client *Client
}

// NewStore creates a store bound to an open client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Begin opens an append transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.client.DB().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &appendTx{tx: tx}, nil
}

type appendTx struct {
	tx *sql.Tx
}

func (t *appendTx) ReadIdempotency(ctx context.Context, tenantID, key string) (*storage.IdempotencyRecord, error) {
	query := `
		SELECT request_hash, response_json
		FROM idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE`

	rec := &storage.IdempotencyRecord{TenantID: tenantID, IdempotencyKey: key}
	err := t.tx.QueryRowContext(ctx, query, tenantID, key).Scan(&rec.RequestHash, &rec.ResponseJSON)
	if err == sql.ErrNoRows {
		return nil, storage.ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return rec, nil
}

func (t *appendTx) ReadAssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	// FOR UPDATE on the tip row blocks concurrent appenders to this asset
	// until the transaction resolves.
	query := `
		SELECT aggregate_version, event_hash
		FROM event_store
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY aggregate_version DESC
		LIMIT 1
		FOR UPDATE`

	tip := &storage.Tip{}
	err := t.tx.QueryRowContext(ctx, query, tenantID, assetID).Scan(&tip.AggregateVersion, &tip.EventHash)
	if err == sql.ErrNoRows {
		return nil, storage.ErrTipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset tip: %w", err)
	}
	return tip, nil
}

func (t *appendTx) InsertEvent(ctx context.Context, row *storage.EventRow) error {
	query := `
		INSERT INTO event_store (
			event_id, asset_id, tenant_id,
			aggregate_version, event_type, emitter_class, emitter_id,
			ts_utc, evidence_policy, evidence_hash, waiver_reason,
			payload_json, evidence_json, prev_event_hash, event_hash, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := t.tx.ExecContext(ctx, query,
		row.EventID, row.AssetID, row.TenantID,
		row.AggregateVersion, row.EventType, row.EmitterClass, row.EmitterID,
		row.TSUTC, row.EvidencePolicy, nullString(row.EvidenceHash), nullString(row.WaiverReason),
		row.PayloadJSON, row.EvidenceJSON, row.PrevEventHash, row.EventHash, row.Signature,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrVersionConflict, err)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (t *appendTx) InsertIdempotency(ctx context.Context, rec *storage.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_keys (tenant_id, idempotency_key, request_hash, response_json)
		VALUES ($1, $2, $3, $4)`

	_, err := t.tx.ExecContext(ctx, query,
		rec.TenantID, rec.IdempotencyKey, rec.RequestHash, rec.ResponseJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

func (t *appendTx) InsertOutbox(ctx context.Context, row *storage.OutboxRow) error {
	query := `
		INSERT INTO outbox_webhooks (outbox_id, tenant_id, topic, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := t.tx.ExecContext(ctx, query,
		row.OutboxID, row.TenantID, row.Topic, row.PayloadJSON, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}
	return nil
}

func (t *appendTx) Commit() error {
	return t.tx.Commit()
}

func (t *appendTx) Rollback() error {
	return t.tx.Rollback()
}

// ============================================================================
// READ SIDE
// ============================================================================

// AssetTip reads the current tip outside any append transaction.
func (s *Store) AssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	query := `
		SELECT aggregate_version, event_hash
		FROM event_store
		WHERE tenant_id = $1 AND asset_id = $2
		ORDER BY aggregate_version DESC
		LIMIT 1`

	tip := &storage.Tip{}
	err := s.client.DB().QueryRowContext(ctx, query, tenantID, assetID).Scan(&tip.AggregateVersion, &tip.EventHash)
	if err == sql.ErrNoRows {
		return nil, storage.ErrTipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset tip: %w", err)
	}
	return tip, nil
}

// Lineage pages an asset's events in version order.
func (s *Store) Lineage(ctx context.Context, tenantID string, assetID uuid.UUID, afterVersion int64, limit int) ([]*storage.EventRow, error) {
	query := `
		SELECT event_id, asset_id, tenant_id,
			aggregate_version, event_type, emitter_class, emitter_id,
			ts_utc, evidence_policy, evidence_hash, waiver_reason,
			payload_json, evidence_json, prev_event_hash, event_hash, signature
		FROM event_store
		WHERE tenant_id = $1 AND asset_id = $2 AND aggregate_version > $3
		ORDER BY aggregate_version ASC
		LIMIT $4`

	rows, err := s.client.DB().QueryContext(ctx, query, tenantID, assetID, afterVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage: %w", err)
	}
	defer rows.Close()

	var events []*storage.EventRow
	for rows.Next() {
		row := &storage.EventRow{}
		var evidenceHash, waiverReason sql.NullString
		err := rows.Scan(
			&row.EventID, &row.AssetID, &row.TenantID,
			&row.AggregateVersion, &row.EventType, &row.EmitterClass, &row.EmitterID,
			&row.TSUTC, &row.EvidencePolicy, &evidenceHash, &waiverReason,
			&row.PayloadJSON, &row.EvidenceJSON, &row.PrevEventHash, &row.EventHash, &row.Signature,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if evidenceHash.Valid {
			row.EvidenceHash = &evidenceHash.String
		}
		if waiverReason.Valid {
			row.WaiverReason = &waiverReason.String
		}
		events = append(events, row)
	}
	return events, rows.Err()
}

// ============================================================================
// OUTBOX QUEUE
// ============================================================================

// FetchPending returns undelivered outbox rows in creation order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]*storage.OutboxRow, error) {
	query := `
		SELECT outbox_id, tenant_id, topic, payload_json, created_at
		FROM outbox_webhooks
		WHERE delivered_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`

	rows, err := s.client.DB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var pending []*storage.OutboxRow
	for rows.Next() {
		row := &storage.OutboxRow{}
		if err := rows.Scan(&row.OutboxID, &row.TenantID, &row.Topic, &row.PayloadJSON, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	return pending, rows.Err()
}

// MarkDelivered stamps an outbox row as handed off.
func (s *Store) MarkDelivered(ctx context.Context, outboxID uuid.UUID) error {
	_, err := s.client.DB().ExecContext(ctx,
		`UPDATE outbox_webhooks SET delivered_at = $2 WHERE outbox_id = $1`,
		outboxID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark outbox row delivered: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	// Fallback for drivers that wrap the error
	return strings.Contains(err.Error(), "duplicate key value")
}
