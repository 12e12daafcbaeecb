// Copyright 2026 PROVENIQ
//
// SQLite schema for the operational event ledger.

package sqlite

import "database/sql"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS event_store (
		event_id          TEXT PRIMARY KEY,
		asset_id          TEXT    NOT NULL,
		tenant_id         TEXT    NOT NULL,
		aggregate_version INTEGER NOT NULL CHECK (aggregate_version >= 1),
		event_type        TEXT    NOT NULL,
		emitter_class     TEXT    NOT NULL,
		emitter_id        TEXT    NOT NULL,
		ts_utc            TEXT    NOT NULL,
		evidence_policy   TEXT    NOT NULL,
		evidence_hash     TEXT,
		waiver_reason     TEXT,
		payload_json      TEXT    NOT NULL,
		evidence_json     TEXT    NOT NULL,
		prev_event_hash   TEXT    NOT NULL,
		event_hash        TEXT    NOT NULL,
		signature         TEXT    NOT NULL,
		UNIQUE (tenant_id, asset_id, aggregate_version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_store_asset
		ON event_store (tenant_id, asset_id, aggregate_version)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		tenant_id       TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		request_hash    TEXT NOT NULL,
		response_json   TEXT NOT NULL,
		created_at      TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (tenant_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_webhooks (
		outbox_id    TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		topic        TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		delivered_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_webhooks (created_at) WHERE delivered_at IS NULL`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
