// Copyright 2026 PROVENIQ
//
// Envelope Builder Tests

package envelope

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/canonical"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
)

func testSigner(t *testing.T) *signer.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	s, err := signer.NewFromSeedB64(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	return s
}

func testInput() Input {
	return Input{
		AssetID:   "11111111-1111-4111-8111-111111111111",
		EventType: "ASSET_CREATED",
		Evidence: map[string]interface{}{
			"policy":        "REQUIRED",
			"evidence_hash": "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		},
		Payload:          map[string]interface{}{"name": "X"},
		EmitterClass:     "HUMAN",
		EmitterID:        "user:42",
		AggregateVersion: 1,
		PrevEventHash:    canonical.GenesisHash,
	}
}

func TestBuild_MintsVolatiles(t *testing.T) {
	env, err := Build(testInput(), testSigner(t))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if _, err := uuid.Parse(env.EventID); err != nil {
		t.Errorf("event_id is not a UUID: %s", env.EventID)
	}
	if !strings.HasSuffix(env.Timestamp, "Z") {
		t.Errorf("timestamp must end in Z: %s", env.Timestamp)
	}
	if strings.Contains(env.Timestamp, "+00:00") {
		t.Errorf("timestamp must not use +00:00: %s", env.Timestamp)
	}
	tsForm := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}Z$`)
	if !tsForm.MatchString(env.Timestamp) {
		t.Errorf("timestamp form: %s", env.Timestamp)
	}
}

func TestBuild_HashAndSignature(t *testing.T) {
	s := testSigner(t)
	env, err := Build(testInput(), s)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(env.EventHash, "sha256:") || len(env.EventHash) != len("sha256:")+64 {
		t.Errorf("event_hash form: %s", env.EventHash)
	}

	recomputed, err := env.Recompute()
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != env.EventHash {
		t.Errorf("hash not recomputable: stored %s, recomputed %s", env.EventHash, recomputed)
	}

	// The signed input is the hash string itself, prefix included.
	if !signer.Verify(s.PublicKey(), []byte(env.EventHash), env.Signature) {
		t.Error("signature over event_hash string did not verify")
	}
	rawHex := strings.TrimPrefix(env.EventHash, "sha256:")
	if signer.Verify(s.PublicKey(), []byte(rawHex), env.Signature) {
		t.Error("signature must cover the prefixed hash string, not the bare hex")
	}
}

func TestBuild_DeterministicForFixedVolatiles(t *testing.T) {
	s := testSigner(t)
	in := testInput()
	in.EventID = "22222222-2222-4222-8222-222222222222"
	in.Timestamp = "2026-08-01T10:00:00.000000Z"

	a, err := Build(in, s)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(in, s)
	if err != nil {
		t.Fatal(err)
	}
	if a.EventHash != b.EventHash || a.Signature != b.Signature {
		t.Error("identical inputs should produce identical envelopes")
	}

	ja, _ := a.CanonicalJSON()
	jb, _ := b.CanonicalJSON()
	if string(ja) != string(jb) {
		t.Error("canonical JSON should be byte-identical")
	}
}

func TestBuild_HashChangesWithPrevHash(t *testing.T) {
	s := testSigner(t)
	in := testInput()
	in.EventID = "22222222-2222-4222-8222-222222222222"
	in.Timestamp = "2026-08-01T10:00:00.000000Z"

	a, err := Build(in, s)
	if err != nil {
		t.Fatal(err)
	}

	in.PrevEventHash = "sha256:" + strings.Repeat("1", 64)
	in.AggregateVersion = 2
	b, err := Build(in, s)
	if err != nil {
		t.Fatal(err)
	}
	if a.EventHash == b.EventHash {
		t.Error("event hash must depend on prev_event_hash")
	}
}

func TestBuild_InputConstraints(t *testing.T) {
	s := testSigner(t)
	cases := []struct {
		name   string
		mutate func(*Input)
	}{
		{"version zero", func(in *Input) { in.AggregateVersion = 0 }},
		{"empty event type", func(in *Input) { in.EventType = "" }},
		{"empty prev hash", func(in *Input) { in.PrevEventHash = "" }},
		{"missing evidence hash", func(in *Input) { delete(in.Evidence, "evidence_hash") }},
		{"empty evidence hash", func(in *Input) { in.Evidence["evidence_hash"] = "" }},
		{"non-string evidence hash", func(in *Input) { in.Evidence["evidence_hash"] = 9 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := testInput()
			c.mutate(&in)
			if _, err := Build(in, s); !errors.Is(err, ErrInput) {
				t.Errorf("expected ErrInput, got %v", err)
			}
		})
	}
}

func TestCanonicalJSON_ContainsAllTwelveFields(t *testing.T) {
	env, err := Build(testInput(), testSigner(t))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := env.CanonicalJSON()
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{
		"event_id", "event_type", "asset_id", "aggregate_version",
		"emitter_class", "emitter_id", "timestamp", "evidence", "payload",
		"prev_event_hash", "event_hash", "signature",
	} {
		if !strings.Contains(string(raw), `"`+field+`"`) {
			t.Errorf("canonical JSON missing %s: %s", field, raw)
		}
	}
}
