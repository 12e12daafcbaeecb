// Copyright 2026 PROVENIQ
//
// Canonical JSON encoding and hashing for the operational event ledger.
// Every hash in the system is computed over these bytes, so the encoding is
// the single source of truth for event identity: object keys sorted bytewise
// at every depth, compact separators, raw UTF-8 for non-ASCII.

package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// HashPrefix is prepended to every hex SHA-256 the ledger stores.
const HashPrefix = "sha256:"

// GenesisHash is the prev_event_hash sentinel for version 1 of every asset.
const GenesisHash = HashPrefix + "0000000000000000000000000000000000000000000000000000000000000000"

// ErrEncoding is returned when a value cannot be canonically encoded
// (unsupported leaf type, NaN, Infinity, non-string map key).
var ErrEncoding = errors.New("canonical: value not encodable")

// Bytes returns the canonical UTF-8 JSON encoding of value.
//
// Supported types: string, bool, nil, json.Number, int, int32, int64, uint64,
// float32, float64, []interface{}, and map[string]interface{}; any other type
// returns ErrEncoding. Structurally equal values always produce
// byte-identical output.
func Bytes(value interface{}) ([]byte, error) {
	buf := make([]byte, 0, 256)
	return appendValue(buf, value)
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256Prefixed returns "sha256:" + SHA256Hex(data).
func SHA256Prefixed(data []byte) string {
	return HashPrefix + SHA256Hex(data)
}

// HashValue canonically encodes value and returns its prefixed SHA-256.
func HashValue(value interface{}) (string, error) {
	b, err := Bytes(value)
	if err != nil {
		return "", err
	}
	return SHA256Prefixed(b), nil
}

// Recode parses raw JSON and re-emits it canonically. Numbers pass through
// verbatim so round-tripping never alters client-supplied tokens.
func Recode(raw []byte) ([]byte, error) {
	var v interface{}
	if err := unmarshalWithNumbers(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return Bytes(v)
}

func unmarshalWithNumbers(raw []byte, v *interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func appendValue(buf []byte, v interface{}) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if vv {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		return appendString(buf, vv), nil
	case json.Number:
		// Already a validated JSON token; emit as received.
		return append(buf, vv.String()...), nil
	case int:
		return strconv.AppendInt(buf, int64(vv), 10), nil
	case int32:
		return strconv.AppendInt(buf, int64(vv), 10), nil
	case int64:
		return strconv.AppendInt(buf, vv, 10), nil
	case uint64:
		return strconv.AppendUint(buf, vv, 10), nil
	case float64:
		return appendFloat(buf, vv)
	case float32:
		return appendFloat(buf, float64(vv))
	case []interface{}:
		buf = append(buf, '[')
		for i, e := range vv {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendValue(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, k)
			buf = append(buf, ':')
			var err error
			buf, err = appendValue(buf, vv[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrEncoding, v)
	}
}

func appendFloat(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite number", ErrEncoding)
	}
	// Integral doubles serialize without a fractional part, matching the
	// canonical form produced when the value arrives as a JSON integer.
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

// appendString writes a JSON string with the minimal escape set: backslash,
// double quote, and control characters. Non-ASCII runes are emitted as raw
// UTF-8, never as \uXXXX.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf = append(buf, '\\', '"')
		case c == '\\':
			buf = append(buf, '\\', '\\')
		case c == '\b':
			buf = append(buf, '\\', 'b')
		case c == '\t':
			buf = append(buf, '\\', 't')
		case c == '\n':
			buf = append(buf, '\\', 'n')
		case c == '\f':
			buf = append(buf, '\\', 'f')
		case c == '\r':
			buf = append(buf, '\\', 'r')
		case c < 0x20:
			buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, '"')
}

var hexDigits = "0123456789abcdef"
