// Copyright 2026 PROVENIQ
//
// In-Memory Store Tests - lock scoping of the storage port.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

const testTenant = "tenant-001"

var (
	assetA = uuid.MustParse("11111111-1111-4111-8111-111111111111")
	assetB = uuid.MustParse("22222222-2222-4222-8222-222222222222")
)

func testRow(assetID uuid.UUID, version int64) *storage.EventRow {
	return &storage.EventRow{
		EventID:          uuid.New(),
		AssetID:          assetID,
		TenantID:         testTenant,
		AggregateVersion: version,
		EventType:        "ASSET_CREATED",
		EmitterClass:     "HUMAN",
		EmitterID:        "user:1",
		TSUTC:            time.Now().UTC(),
		EvidencePolicy:   "REQUIRED",
		PayloadJSON:      []byte(`{}`),
		EvidenceJSON:     []byte(`{"evidence_hash":"sha256:aa"}`),
		PrevEventHash:    "sha256:prev",
		EventHash:        "sha256:hash",
		Signature:        "ed25519:sig",
	}
}

// The tip read must serialize appenders to the same asset.
func TestTipLock_BlocksSameAsset(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx1.ReadAssetTip(ctx, testTenant, assetA); !errors.Is(err, storage.ErrTipNotFound) {
		t.Fatalf("expected ErrTipNotFound, got %v", err)
	}

	// A second transaction on the same asset must block on the tip read
	// until tx1 resolves.
	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := tx2.ReadAssetTip(shortCtx, testTenant, assetA); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second tip read should block until deadline, got %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatal(err)
	}

	// After tx1 commits, the lock is free again.
	if err := tx1.InsertEvent(ctx, testRow(assetA, 1)); err != nil {
		t.Fatal(err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}

	tx3, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	tip, err := tx3.ReadAssetTip(ctx, testTenant, assetA)
	if err != nil {
		t.Fatalf("tip read after commit: %v", err)
	}
	if tip.AggregateVersion != 1 {
		t.Errorf("tip version: got %d, want 1", tip.AggregateVersion)
	}
	if err := tx3.Rollback(); err != nil {
		t.Fatal(err)
	}
}

// Cross-asset operations are independent: holding asset A's tip lock must
// not block a full transaction against asset B.
func TestTipLock_IndependentAssets(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx1.ReadAssetTip(ctx, testTenant, assetA); !errors.Is(err, storage.ErrTipNotFound) {
		t.Fatalf("expected ErrTipNotFound, got %v", err)
	}

	// While tx1 holds asset A, a transaction on asset B runs to completion.
	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	otherCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := tx2.ReadAssetTip(otherCtx, testTenant, assetB); !errors.Is(err, storage.ErrTipNotFound) {
		t.Fatalf("asset B tip read must not block behind asset A: %v", err)
	}
	if err := tx2.InsertEvent(otherCtx, testRow(assetB, 1)); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := tx1.Rollback(); err != nil {
		t.Fatal(err)
	}
	if store.EventCount(testTenant, assetB) != 1 {
		t.Error("asset B append should have committed while asset A was locked")
	}
}

// The idempotency read must lock the key row against a concurrent retry.
func TestIdempotencyLock_BlocksSameKey(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx1.ReadIdempotency(ctx, testTenant, "k1"); !errors.Is(err, storage.ErrIdempotencyNotFound) {
		t.Fatalf("expected ErrIdempotencyNotFound, got %v", err)
	}

	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := tx2.ReadIdempotency(shortCtx, testTenant, "k1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("same-key read should block until deadline, got %v", err)
	}

	// A different key is independent.
	otherCtx, cancel2 := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel2()
	if _, err := tx2.ReadIdempotency(otherCtx, testTenant, "k2"); !errors.Is(err, storage.ErrIdempotencyNotFound) {
		t.Fatalf("different key must not block: %v", err)
	}

	if err := tx2.Rollback(); err != nil {
		t.Fatal(err)
	}
	if err := tx1.Rollback(); err != nil {
		t.Fatal(err)
	}
}

// Re-reading a held lock inside one transaction must not self-deadlock.
func TestLocks_ReentrantWithinTransaction(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := tx.ReadAssetTip(ctx, testTenant, assetA); !errors.Is(err, storage.ErrTipNotFound) {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}
