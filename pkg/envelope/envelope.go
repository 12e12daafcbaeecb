// Copyright 2026 PROVENIQ
//
// Envelope Builder - assembles, hashes, and signs ledger events.
// The envelope is the unit of persistence and the unit of downstream
// delivery: canonical core fields, the chain link (prev_event_hash),
// the content address (event_hash), and the server signature.

package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/canonical"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
)

// TimestampLayout renders UTC instants with microsecond precision and a
// literal Z suffix. The string enters the canonical hash input, so the
// exact form is part of the wire contract.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// ErrInput is returned when builder input constraints are violated.
var ErrInput = errors.New("envelope: invalid input")

// Envelope is a fully built, signed ledger event.
type Envelope struct {
	EventID          string                 `json:"event_id"`
	EventType        string                 `json:"event_type"`
	AssetID          string                 `json:"asset_id"`
	AggregateVersion int64                  `json:"aggregate_version"`
	EmitterClass     string                 `json:"emitter_class"`
	EmitterID        string                 `json:"emitter_id"`
	Timestamp        string                 `json:"timestamp"`
	Evidence         map[string]interface{} `json:"evidence"`
	Payload          map[string]interface{} `json:"payload"`
	PrevEventHash    string                 `json:"prev_event_hash"`
	EventHash        string                 `json:"event_hash"`
	Signature        string                 `json:"signature"`
}

// Input carries everything the builder needs for one envelope.
type Input struct {
	AssetID          string
	EventType        string
	Evidence         map[string]interface{}
	Payload          map[string]interface{}
	EmitterClass     string
	EmitterID        string
	AggregateVersion int64
	PrevEventHash    string

	// EventID and Timestamp, when set, replace the server-minted values.
	// The append path leaves them empty.
	EventID   string
	Timestamp string
}

// Build mints volatiles, computes the event hash over the canonical core
// object chained to PrevEventHash and the evidence hash, and signs the hash
// string. The signed input is the UTF-8 bytes of the event_hash string
// itself, prefix included.
func Build(in Input, s *signer.Signer) (*Envelope, error) {
	if in.AggregateVersion < 1 {
		return nil, fmt.Errorf("%w: aggregate_version must be >= 1", ErrInput)
	}
	if in.EventType == "" {
		return nil, fmt.Errorf("%w: event_type required", ErrInput)
	}
	if in.PrevEventHash == "" {
		return nil, fmt.Errorf("%w: prev_event_hash required", ErrInput)
	}
	evidenceHash, ok := in.Evidence["evidence_hash"].(string)
	if !ok || evidenceHash == "" {
		return nil, fmt.Errorf("%w: evidence.evidence_hash required", ErrInput)
	}

	eventID := in.EventID
	if eventID == "" {
		eventID = uuid.New().String()
	}
	ts := in.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(TimestampLayout)
	}

	env := &Envelope{
		EventID:          eventID,
		EventType:        in.EventType,
		AssetID:          in.AssetID,
		AggregateVersion: in.AggregateVersion,
		EmitterClass:     in.EmitterClass,
		EmitterID:        in.EmitterID,
		Timestamp:        ts,
		Evidence:         in.Evidence,
		Payload:          in.Payload,
		PrevEventHash:    in.PrevEventHash,
	}

	hash, err := ComputeEventHash(env.coreObject(), in.PrevEventHash, evidenceHash)
	if err != nil {
		return nil, err
	}
	env.EventHash = hash
	env.Signature = s.Sign([]byte(hash))
	return env, nil
}

// ComputeEventHash returns "sha256:" + hex(SHA-256(canonical(core) ||
// utf8(prevHash) || utf8(evidenceHash))).
func ComputeEventHash(core map[string]interface{}, prevHash, evidenceHash string) (string, error) {
	coreBytes, err := canonical.Bytes(core)
	if err != nil {
		return "", err
	}
	combined := make([]byte, 0, len(coreBytes)+len(prevHash)+len(evidenceHash))
	combined = append(combined, coreBytes...)
	combined = append(combined, prevHash...)
	combined = append(combined, evidenceHash...)
	return canonical.SHA256Prefixed(combined), nil
}

// coreObject is the nine-field object that feeds the event hash. Hash and
// signature fields are excluded.
func (e *Envelope) coreObject() map[string]interface{} {
	return map[string]interface{}{
		"event_id":          e.EventID,
		"event_type":        e.EventType,
		"asset_id":          e.AssetID,
		"aggregate_version": e.AggregateVersion,
		"emitter_class":     e.EmitterClass,
		"emitter_id":        e.EmitterID,
		"timestamp":         e.Timestamp,
		"evidence":          e.Evidence,
		"payload":           e.Payload,
	}
}

// Object returns the full envelope as a map for canonical serialization.
func (e *Envelope) Object() map[string]interface{} {
	obj := e.coreObject()
	obj["prev_event_hash"] = e.PrevEventHash
	obj["event_hash"] = e.EventHash
	obj["signature"] = e.Signature
	return obj
}

// CanonicalJSON returns the envelope's canonical byte encoding. This is what
// gets stored as the idempotent response and as the outbox payload.
func (e *Envelope) CanonicalJSON() ([]byte, error) {
	return canonical.Bytes(e.Object())
}

// Recompute re-derives the event hash from the envelope's own fields.
// Verification paths compare the result against the stored EventHash.
func (e *Envelope) Recompute() (string, error) {
	evidenceHash, ok := e.Evidence["evidence_hash"].(string)
	if !ok || evidenceHash == "" {
		return "", fmt.Errorf("%w: evidence.evidence_hash required", ErrInput)
	}
	return ComputeEventHash(e.coreObject(), e.PrevEventHash, evidenceHash)
}
