// Copyright 2026 PROVENIQ
//
// Chain Verification Tests

package chainverify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	appendpkg "github.com/terryholliday/proveniq-ops/pkg/append"
	"github.com/terryholliday/proveniq-ops/pkg/registry"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
	"github.com/terryholliday/proveniq-ops/pkg/storage/memory"
)

const (
	testTenant  = "tenant-001"
	testAssetID = "33333333-3333-4333-8333-333333333333"
)

func buildChain(t *testing.T, n int) ([]*storage.EventRow, ed25519.PublicKey) {
	t.Helper()

	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 7)
	}
	s, err := signer.NewFromSeedB64(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.LoadDefault()
	if err != nil {
		t.Fatal(err)
	}
	store := memory.NewStore()
	coord := appendpkg.NewCoordinator(reg, store, s)
	ctx := context.Background()

	for v := 1; v <= n; v++ {
		req := appendpkg.Request{
			TenantID:  testTenant,
			AssetID:   testAssetID,
			Role:      "ADMIN",
			EmitterID: "user:1",
			Body: map[string]interface{}{
				"event_type": "ASSET_CREATED",
				"evidence": map[string]interface{}{
					"policy":        "REQUIRED",
					"evidence_hash": "sha256:" + strings.Repeat("ab", 32),
				},
				"payload": map[string]interface{}{"rev": fmt.Sprintf("%d", v), "unicode": "Bodø ✓"},
			},
			IfMatch:        fmt.Sprintf("%d", v-1),
			IdempotencyKey: fmt.Sprintf("cv-%d", v),
		}
		if _, err := coord.Append(ctx, req); err != nil {
			t.Fatalf("append %d: %v", v, err)
		}
	}

	rows, err := store.Lineage(ctx, testTenant, uuid.MustParse(testAssetID), 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	return rows, s.PublicKey()
}

func TestVerifyChain_Valid(t *testing.T) {
	rows, pub := buildChain(t, 4)
	res := VerifyChain(rows, pub)
	if !res.OK {
		t.Fatalf("valid chain failed verification: %+v", res)
	}
	if res.Events != 4 {
		t.Errorf("events: got %d, want 4", res.Events)
	}
}

func TestVerifyChain_Empty(t *testing.T) {
	res := VerifyChain(nil, nil)
	if !res.OK || res.Events != 0 {
		t.Errorf("empty chain should verify: %+v", res)
	}
}

func TestVerifyChain_TamperedPayload(t *testing.T) {
	rows, pub := buildChain(t, 3)
	rows[1].PayloadJSON = []byte(`{"rev":"2","unicode":"tampered"}`)

	res := VerifyChain(rows, pub)
	if res.OK {
		t.Fatal("tampered payload passed verification")
	}
	if res.BrokenAt != 2 {
		t.Errorf("broken at: got %d, want 2", res.BrokenAt)
	}
}

func TestVerifyChain_BrokenLink(t *testing.T) {
	rows, pub := buildChain(t, 3)
	rows[2].PrevEventHash = "sha256:" + strings.Repeat("9", 64)

	res := VerifyChain(rows, pub)
	if res.OK || res.BrokenAt != 3 {
		t.Errorf("expected break at version 3: %+v", res)
	}
}

func TestVerifyChain_VersionGap(t *testing.T) {
	rows, pub := buildChain(t, 3)
	res := VerifyChain([]*storage.EventRow{rows[0], rows[2]}, pub)
	if res.OK {
		t.Fatal("gapped chain passed verification")
	}
	if !strings.Contains(res.Reason, "version gap") {
		t.Errorf("reason: %s", res.Reason)
	}
}

func TestVerifyChain_WrongKey(t *testing.T) {
	rows, _ := buildChain(t, 2)

	otherSeed := make([]byte, ed25519.SeedSize)
	for i := range otherSeed {
		otherSeed[i] = byte(100 + i)
	}
	other, err := signer.NewFromSeedB64(base64.StdEncoding.EncodeToString(otherSeed))
	if err != nil {
		t.Fatal(err)
	}

	res := VerifyChain(rows, other.PublicKey())
	if res.OK {
		t.Fatal("chain verified under wrong key")
	}
	if res.Reason != "signature invalid" {
		t.Errorf("reason: %s", res.Reason)
	}
}

func TestVerifyChain_TamperedSignature(t *testing.T) {
	rows, pub := buildChain(t, 2)
	rows[0].Signature = strings.Replace(rows[0].Signature, "ed25519:", "ed25519:AA", 1)

	res := VerifyChain(rows, pub)
	if res.OK || res.BrokenAt != 1 {
		t.Errorf("expected signature break at version 1: %+v", res)
	}
}
