// Copyright 2026 PROVENIQ
//
// SQLite implementation of the storage port for single-node and development
// deployments. SQLite has no row locks; transactions open with
// _txlock=immediate so writers serialize at the database level, which gives
// the per-asset ordering guarantee for free.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Path:        "proveniq-ops.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Store implements storage.Store, storage.Reader, and storage.OutboxQueue on
// an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the database file and schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate&_fk=1",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time; a small pool avoids lock thrash.
	db.SetMaxOpenConns(4)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logrus.WithField("path", cfg.Path).Info("sqlite store ready")
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens an immediate (write-locking) transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &appendTx{tx: tx}, nil
}

type appendTx struct {
	tx *sql.Tx
}

func (t *appendTx) ReadIdempotency(ctx context.Context, tenantID, key string) (*storage.IdempotencyRecord, error) {
	rec := &storage.IdempotencyRecord{TenantID: tenantID, IdempotencyKey: key}
	err := t.tx.QueryRowContext(ctx,
		`SELECT request_hash, response_json FROM idempotency_keys
		 WHERE tenant_id = ? AND idempotency_key = ?`,
		tenantID, key).Scan(&rec.RequestHash, &rec.ResponseJSON)
	if err == sql.ErrNoRows {
		return nil, storage.ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency record: %w", err)
	}
	return rec, nil
}

func (t *appendTx) ReadAssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	tip := &storage.Tip{}
	err := t.tx.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM event_store
		 WHERE tenant_id = ? AND asset_id = ?
		 ORDER BY aggregate_version DESC LIMIT 1`,
		tenantID, assetID.String()).Scan(&tip.AggregateVersion, &tip.EventHash)
	if err == sql.ErrNoRows {
		return nil, storage.ErrTipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset tip: %w", err)
	}
	return tip, nil
}

func (t *appendTx) InsertEvent(ctx context.Context, row *storage.EventRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO event_store (
			event_id, asset_id, tenant_id,
			aggregate_version, event_type, emitter_class, emitter_id,
			ts_utc, evidence_policy, evidence_hash, waiver_reason,
			payload_json, evidence_json, prev_event_hash, event_hash, signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID.String(), row.AssetID.String(), row.TenantID,
		row.AggregateVersion, row.EventType, row.EmitterClass, row.EmitterID,
		row.TSUTC.UTC().Format(time.RFC3339Nano), row.EvidencePolicy,
		nullString(row.EvidenceHash), nullString(row.WaiverReason),
		string(row.PayloadJSON), string(row.EvidenceJSON),
		row.PrevEventHash, row.EventHash, row.Signature,
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
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, request_hash, response_json)
		 VALUES (?, ?, ?, ?)`,
		rec.TenantID, rec.IdempotencyKey, rec.RequestHash, string(rec.ResponseJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", storage.ErrIdempotencyConflict, err)
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

func (t *appendTx) InsertOutbox(ctx context.Context, row *storage.OutboxRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO outbox_webhooks (outbox_id, tenant_id, topic, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		row.OutboxID.String(), row.TenantID, row.Topic, string(row.PayloadJSON),
		row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}
	return nil
}

func (t *appendTx) Commit() error   { return t.tx.Commit() }
func (t *appendTx) Rollback() error { return t.tx.Rollback() }

// AssetTip reads the current tip outside any append transaction.
func (s *Store) AssetTip(ctx context.Context, tenantID string, assetID uuid.UUID) (*storage.Tip, error) {
	tip := &storage.Tip{}
	err := s.db.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM event_store
		 WHERE tenant_id = ? AND asset_id = ?
		 ORDER BY aggregate_version DESC LIMIT 1`,
		tenantID, assetID.String()).Scan(&tip.AggregateVersion, &tip.EventHash)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, asset_id, tenant_id,
			aggregate_version, event_type, emitter_class, emitter_id,
			ts_utc, evidence_policy, evidence_hash, waiver_reason,
			payload_json, evidence_json, prev_event_hash, event_hash, signature
		 FROM event_store
		 WHERE tenant_id = ? AND asset_id = ? AND aggregate_version > ?
		 ORDER BY aggregate_version ASC LIMIT ?`,
		tenantID, assetID.String(), afterVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage: %w", err)
	}
	defer rows.Close()

	var events []*storage.EventRow
	for rows.Next() {
		row := &storage.EventRow{}
		var eventID, rowAssetID, tsUTC, payload, evidence string
		var evidenceHash, waiverReason sql.NullString
		err := rows.Scan(
			&eventID, &rowAssetID, &row.TenantID,
			&row.AggregateVersion, &row.EventType, &row.EmitterClass, &row.EmitterID,
			&tsUTC, &row.EvidencePolicy, &evidenceHash, &waiverReason,
			&payload, &evidence, &row.PrevEventHash, &row.EventHash, &row.Signature,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if row.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("failed to parse event_id: %w", err)
		}
		if row.AssetID, err = uuid.Parse(rowAssetID); err != nil {
			return nil, fmt.Errorf("failed to parse asset_id: %w", err)
		}
		if row.TSUTC, err = time.Parse(time.RFC3339Nano, tsUTC); err != nil {
			return nil, fmt.Errorf("failed to parse ts_utc: %w", err)
		}
		row.PayloadJSON = []byte(payload)
		row.EvidenceJSON = []byte(evidence)
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

// FetchPending returns undelivered outbox rows in creation order.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]*storage.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outbox_id, tenant_id, topic, payload_json, created_at
		 FROM outbox_webhooks WHERE delivered_at IS NULL
		 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var pending []*storage.OutboxRow
	for rows.Next() {
		row := &storage.OutboxRow{}
		var outboxID, payload, createdAt string
		if err := rows.Scan(&outboxID, &row.TenantID, &row.Topic, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		if row.OutboxID, err = uuid.Parse(outboxID); err != nil {
			return nil, fmt.Errorf("failed to parse outbox_id: %w", err)
		}
		if row.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		row.PayloadJSON = []byte(payload)
		pending = append(pending, row)
	}
	return pending, rows.Err()
}

// MarkDelivered stamps an outbox row as handed off.
func (s *Store) MarkDelivered(ctx context.Context, outboxID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_webhooks SET delivered_at = ? WHERE outbox_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), outboxID.String())
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
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
