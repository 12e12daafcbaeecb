// Copyright 2026 PROVENIQ
//
// Chain Verification - recomputes hashes and signatures over a stored event
// chain and reports the first broken link. Used by the lineage endpoint's
// verify mode and by operational audits.

package chainverify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/terryholliday/proveniq-ops/pkg/canonical"
	"github.com/terryholliday/proveniq-ops/pkg/envelope"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

// Result reports the outcome of verifying one asset chain.
type Result struct {
	OK     bool   `json:"ok"`
	Events int    `json:"events"`
	// BrokenAt is the aggregate_version of the first failing event, 0 when OK.
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifyChain checks version contiguity, hash chaining, hash correctness,
// and signatures over rows, which must be in ascending version order as
// returned by the lineage read.
func VerifyChain(rows []*storage.EventRow, publicKey ed25519.PublicKey) Result {
	prevHash := canonical.GenesisHash

	for i, row := range rows {
		wantVersion := int64(i + 1)
		if row.AggregateVersion != wantVersion {
			return broken(row.AggregateVersion, len(rows),
				fmt.Sprintf("version gap: got %d, want %d", row.AggregateVersion, wantVersion))
		}
		if row.PrevEventHash != prevHash {
			return broken(row.AggregateVersion, len(rows), "prev_event_hash does not match previous event")
		}

		recomputed, err := recomputeHash(row)
		if err != nil {
			return broken(row.AggregateVersion, len(rows), "hash recompute failed: "+err.Error())
		}
		if recomputed != row.EventHash {
			return broken(row.AggregateVersion, len(rows), "event_hash mismatch")
		}
		if !signer.Verify(publicKey, []byte(row.EventHash), row.Signature) {
			return broken(row.AggregateVersion, len(rows), "signature invalid")
		}
		prevHash = row.EventHash
	}

	return Result{OK: true, Events: len(rows)}
}

func broken(version int64, total int, reason string) Result {
	return Result{OK: false, Events: total, BrokenAt: version, Reason: reason}
}

// EnvelopeObject rebuilds the full signed envelope from stored columns.
// The lineage endpoint serves these; canonical re-encoding reproduces the
// bytes the append returned.
func EnvelopeObject(row *storage.EventRow) (map[string]interface{}, error) {
	core, _, err := coreObject(row)
	if err != nil {
		return nil, err
	}
	core["prev_event_hash"] = row.PrevEventHash
	core["event_hash"] = row.EventHash
	core["signature"] = row.Signature
	return core, nil
}

// recomputeHash rebuilds the canonical core object from stored columns and
// derives the event hash the same way the builder did.
func recomputeHash(row *storage.EventRow) (string, error) {
	core, evidenceHash, err := coreObject(row)
	if err != nil {
		return "", err
	}
	return envelope.ComputeEventHash(core, row.PrevEventHash, evidenceHash)
}

func coreObject(row *storage.EventRow) (map[string]interface{}, string, error) {
	evidence, err := decodeObject(row.EvidenceJSON)
	if err != nil {
		return nil, "", fmt.Errorf("evidence: %w", err)
	}
	payload, err := decodeObject(row.PayloadJSON)
	if err != nil {
		return nil, "", fmt.Errorf("payload: %w", err)
	}
	evidenceHash, ok := evidence["evidence_hash"].(string)
	if !ok || evidenceHash == "" {
		return nil, "", fmt.Errorf("stored evidence has no evidence_hash")
	}

	core := map[string]interface{}{
		"event_id":          row.EventID.String(),
		"event_type":        row.EventType,
		"asset_id":          row.AssetID.String(),
		"aggregate_version": row.AggregateVersion,
		"emitter_class":     row.EmitterClass,
		"emitter_id":        row.EmitterID,
		"timestamp":         row.TSUTC.UTC().Format(envelope.TimestampLayout),
		"evidence":          evidence,
		"payload":           payload,
	}
	return core, evidenceHash, nil
}

// decodeObject parses stored JSON preserving number tokens so re-encoding is
// byte-faithful.
func decodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
