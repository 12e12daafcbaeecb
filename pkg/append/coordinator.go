// Copyright 2026 PROVENIQ
//
// Append Coordinator - the single-writer append path for one asset.
// Orchestrates validation, idempotency, the optimistic version check,
// envelope construction, and atomic persistence of event + idempotency
// record + outbox row in one storage transaction.

package append

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terryholliday/proveniq-ops/pkg/canonical"
	"github.com/terryholliday/proveniq-ops/pkg/envelope"
	"github.com/terryholliday/proveniq-ops/pkg/errcode"
	"github.com/terryholliday/proveniq-ops/pkg/metrics"
	"github.com/terryholliday/proveniq-ops/pkg/registry"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
	"github.com/terryholliday/proveniq-ops/pkg/validator"
)

// Coordinator owns the append path. Registry and signer are immutable after
// construction and safe for concurrent use; each append owns its storage
// transaction exclusively.
type Coordinator struct {
	registry *registry.Registry
	store    storage.Store
	signer   *signer.Signer
	log      *logrus.Entry
}

// NewCoordinator wires the append path.
func NewCoordinator(reg *registry.Registry, store storage.Store, s *signer.Signer) *Coordinator {
	return &Coordinator{
		registry: reg,
		store:    store,
		signer:   s,
		log:      logrus.WithField("component", "append"),
	}
}

// Request is one append attempt. TenantID, Role, and EmitterID come from the
// authenticated context, never from the body.
type Request struct {
	TenantID       string
	AssetID        string
	Role           string
	EmitterID      string
	Body           map[string]interface{}
	IfMatch        string
	IdempotencyKey string
}

// Result is a successful append or idempotent replay.
type Result struct {
	// ResponseJSON is the canonical envelope encoding. On replay it is the
	// stored response verbatim, byte-identical to the first answer.
	ResponseJSON []byte
	// Envelope is set for fresh appends only.
	Envelope *envelope.Envelope
	Replayed bool
}

// Append runs the end-to-end append. Validation happens before any
// transaction opens; every error inside the transaction rolls back.
func (c *Coordinator) Append(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := c.append(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(errcode.CodeOf(err))
	} else if res.Replayed {
		outcome = "replay"
		metrics.ObserveReplay()
	}
	metrics.ObserveAppend(outcome, time.Since(start))
	return res, err
}

func (c *Coordinator) append(ctx context.Context, req Request) (*Result, error) {
	assetID, err := uuid.Parse(req.AssetID)
	if err != nil {
		return nil, errcode.New(errcode.BadRequest, "asset_id")
	}
	if req.IdempotencyKey == "" {
		return nil, errcode.New(errcode.BadRequest, "Idempotency-Key")
	}
	ifMatchVersion, err := validator.ParseIfMatch(req.IfMatch)
	if err != nil {
		return nil, err
	}

	sub, err := validator.Validate(c.registry, req.Role, req.Body)
	if err != nil {
		return nil, err
	}
	entry, err := c.registry.Get(sub.EventType)
	if err != nil {
		return nil, errcode.Wrap(errcode.UnknownEventType, sub.EventType, err)
	}

	// The fingerprint covers the client's submission as received, so a
	// retry with any change to the body is detectable.
	fingerprintBytes, err := canonical.Bytes(map[string]interface{}{
		"asset_id": assetID.String(),
		"event":    req.Body,
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.BadRequest, "body not encodable", err)
	}
	fingerprint := canonical.SHA256Hex(fingerprintBytes)

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.log.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	// 1. Idempotency short-circuit.
	existing, err := tx.ReadIdempotency(ctx, req.TenantID, req.IdempotencyKey)
	switch {
	case err == nil:
		if existing.RequestHash != fingerprint {
			return nil, errcode.New(errcode.IdempotencyMismatch, "Idempotency-Key")
		}
		if err := tx.Commit(); err != nil {
			return nil, storageError(err)
		}
		committed = true
		return &Result{ResponseJSON: existing.ResponseJSON, Replayed: true}, nil
	case errors.Is(err, storage.ErrIdempotencyNotFound):
		// first time for this key
	default:
		return nil, storageError(err)
	}

	// 2. Read the asset tip under the per-asset lock.
	currentVersion := int64(0)
	prevHash := canonical.GenesisHash
	tip, err := tx.ReadAssetTip(ctx, req.TenantID, assetID)
	switch {
	case err == nil:
		currentVersion = tip.AggregateVersion
		prevHash = tip.EventHash
	case errors.Is(err, storage.ErrTipNotFound):
		// fresh asset, genesis chain
	default:
		return nil, storageError(err)
	}

	// 3. Optimistic concurrency check, after the lock is held.
	if currentVersion != ifMatchVersion {
		return nil, errcode.New(errcode.PreconditionFailed, "If-Match")
	}

	// 4-5. Build the signed envelope at the next version.
	env, err := envelope.Build(envelope.Input{
		AssetID:          assetID.String(),
		EventType:        sub.EventType,
		Evidence:         sub.Evidence,
		Payload:          sub.Payload,
		EmitterClass:     string(sub.EmitterClass),
		EmitterID:        req.EmitterID,
		AggregateVersion: currentVersion + 1,
		PrevEventHash:    prevHash,
	}, c.signer)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "envelope", err)
	}
	responseJSON, err := env.CanonicalJSON()
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "envelope encoding", err)
	}

	row, err := rowFromEnvelope(env, req.TenantID, entry.EvidencePolicy, sub)
	if err != nil {
		return nil, err
	}

	// 6. Persist the event. A conflict here means a peer committed between
	// the tip read and now; the client-visible outcome matches a stale
	// If-Match.
	if err := tx.InsertEvent(ctx, row); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, errcode.Wrap(errcode.PreconditionFailed, "If-Match", err)
		}
		return nil, storageError(err)
	}

	// 7. Persist the idempotency record.
	if err := tx.InsertIdempotency(ctx, &storage.IdempotencyRecord{
		TenantID:       req.TenantID,
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    fingerprint,
		ResponseJSON:   responseJSON,
	}); err != nil {
		if errors.Is(err, storage.ErrIdempotencyConflict) {
			return nil, errcode.Wrap(errcode.IdempotencyMismatch, "Idempotency-Key", err)
		}
		return nil, storageError(err)
	}

	// 8. Persist the outbox row; topic is the event type verbatim.
	if err := tx.InsertOutbox(ctx, &storage.OutboxRow{
		OutboxID:    uuid.New(),
		TenantID:    req.TenantID,
		Topic:       env.EventType,
		PayloadJSON: responseJSON,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, storageError(err)
	}

	// 9. Commit.
	if err := tx.Commit(); err != nil {
		return nil, storageError(err)
	}
	committed = true
	metrics.ObserveOutboxWrite(env.EventType)

	c.log.WithFields(logrus.Fields{
		"tenant_id":         req.TenantID,
		"asset_id":          env.AssetID,
		"event_type":        env.EventType,
		"aggregate_version": env.AggregateVersion,
	}).Info("event appended")

	return &Result{ResponseJSON: responseJSON, Envelope: env}, nil
}

func rowFromEnvelope(env *envelope.Envelope, tenantID string, policy registry.EvidencePolicy, sub *validator.Submission) (*storage.EventRow, error) {
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "event_id", err)
	}
	assetID, err := uuid.Parse(env.AssetID)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "asset_id", err)
	}
	ts, err := time.Parse(envelope.TimestampLayout, env.Timestamp)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "timestamp", err)
	}
	payloadJSON, err := canonical.Bytes(env.Payload)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "payload encoding", err)
	}
	evidenceJSON, err := canonical.Bytes(env.Evidence)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, "evidence encoding", err)
	}

	row := &storage.EventRow{
		EventID:          eventID,
		AssetID:          assetID,
		TenantID:         tenantID,
		AggregateVersion: env.AggregateVersion,
		EventType:        env.EventType,
		EmitterClass:     env.EmitterClass,
		EmitterID:        env.EmitterID,
		TSUTC:            ts,
		EvidencePolicy:   string(policy),
		PayloadJSON:      payloadJSON,
		EvidenceJSON:     evidenceJSON,
		PrevEventHash:    env.PrevEventHash,
		EventHash:        env.EventHash,
		Signature:        env.Signature,
	}
	if h, ok := sub.EvidenceHash(); ok {
		row.EvidenceHash = &h
	}
	if r, ok := sub.WaiverReason(); ok {
		row.WaiverReason = &r
	}
	return row, nil
}

// storageError classifies backend failures: deadline and cancellation map to
// the retryable Timeout code, everything else to StorageUnavailable.
func storageError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errcode.Wrap(errcode.Timeout, "storage", err)
	}
	return errcode.Wrap(errcode.StorageUnavailable, "storage", err)
}
