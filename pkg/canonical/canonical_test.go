// Copyright 2026 PROVENIQ
//
// Canonical Encoding Tests

package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestBytes_SortsKeysAtEveryDepth(t *testing.T) {
	v := map[string]interface{}{
		"zeta": map[string]interface{}{
			"b": int64(2),
			"a": int64(1),
		},
		"alpha": []interface{}{
			map[string]interface{}{"y": "2", "x": "1"},
		},
	}

	got, err := Bytes(v)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	want := `{"alpha":[{"x":"1","y":"2"}],"zeta":{"a":1,"b":2}}`
	if string(got) != want {
		t.Errorf("canonical bytes mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestBytes_StableAcrossInsertionOrder(t *testing.T) {
	a := map[string]interface{}{}
	for _, k := range []string{"c", "a", "b"} {
		a[k] = k
	}
	b := map[string]interface{}{}
	for _, k := range []string{"b", "c", "a"} {
		b[k] = k
	}

	ba, err := Bytes(a)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := Bytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ba, bb) {
		t.Errorf("encoding depends on insertion order: %s vs %s", ba, bb)
	}
}

func TestBytes_NoWhitespace(t *testing.T) {
	got, err := Bytes(map[string]interface{}{"a": []interface{}{int64(1), int64(2)}, "b": "x"})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range got {
		if c == ' ' || c == '\n' || c == '\t' {
			t.Fatalf("whitespace in canonical output: %q", got)
		}
	}
}

func TestBytes_RawUTF8(t *testing.T) {
	got, err := Bytes(map[string]interface{}{"name": "Bodø lagerhall — søknad ✓"})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(got, []byte(`\u`)) {
		t.Errorf("non-ASCII was escaped: %s", got)
	}
	want := `{"name":"Bodø lagerhall — søknad ✓"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBytes_ControlCharsEscaped(t *testing.T) {
	got, err := Bytes("a\nb\tc\x01d")
	if err != nil {
		t.Fatal(err)
	}
	want := `"a\nb\tcd"`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBytes_ArrayOrderPreserved(t *testing.T) {
	got, err := Bytes([]interface{}{"c", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `["c","a","b"]` {
		t.Errorf("array elements reordered: %s", got)
	}
}

func TestBytes_Numbers(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{int64(42), "42"},
		{int64(-7), "-7"},
		{float64(3), "3"},
		{float64(2.5), "2.5"},
		{json.Number("9007199254740993"), "9007199254740993"},
		{json.Number("1.25"), "1.25"},
	}
	for _, c := range cases {
		got, err := Bytes(c.in)
		if err != nil {
			t.Fatalf("encode %v: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("encode %v: got %s, want %s", c.in, got, c.want)
		}
	}
}

func TestBytes_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Bytes(f); !errors.Is(err, ErrEncoding) {
			t.Errorf("expected ErrEncoding for %v, got %v", f, err)
		}
	}
}

func TestBytes_RejectsUnsupportedType(t *testing.T) {
	if _, err := Bytes(struct{}{}); !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}

func TestBytes_OutputIsValidJSON(t *testing.T) {
	v := map[string]interface{}{
		"s":    "quote \" backslash \\ done",
		"n":    nil,
		"list": []interface{}{true, false, json.Number("0")},
	}
	got, err := Bytes(v)
	if err != nil {
		t.Fatal(err)
	}
	var back interface{}
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v\n%s", err, got)
	}
}

func TestRecode_NormalizesKeyOrder(t *testing.T) {
	got, err := Recode([]byte(`{"b": 1, "a": {"d": 4, "c": 3}}`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"c":3,"d":4},"b":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRecode_PreservesNumberTokens(t *testing.T) {
	got, err := Recode([]byte(`{"big": 18446744073709551615, "f": 0.1}`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"big":18446744073709551615,"f":0.1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestSHA256Prefixed(t *testing.T) {
	got := SHA256Prefixed([]byte("abc"))
	want := "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestGenesisHash(t *testing.T) {
	if len(GenesisHash) != len(HashPrefix)+64 {
		t.Fatalf("genesis hash length %d", len(GenesisHash))
	}
	for _, c := range GenesisHash[len(HashPrefix):] {
		if c != '0' {
			t.Fatal("genesis hash digits must all be zero")
		}
	}
}

func TestBytes_Deterministic(t *testing.T) {
	v := map[string]interface{}{
		"payload": map[string]interface{}{"name": "X", "qty": int64(12), "tags": []interface{}{"ü", "a"}},
	}
	first, err := Bytes(v)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		again, err := Bytes(v)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("run %d produced different bytes", i)
		}
	}
}
