// Copyright 2026 PROVENIQ
//
// Error Taxonomy Tests

package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPMapping(t *testing.T) {
	cases := map[Code]int{
		BadRequest:              http.StatusBadRequest,
		InvalidRole:             http.StatusBadRequest,
		UnknownEventType:        http.StatusNotFound,
		PermissionDenied:        http.StatusForbidden,
		EvidencePolicyViolation: http.StatusBadRequest,
		PreconditionFailed:      http.StatusConflict,
		IdempotencyMismatch:     http.StatusConflict,
		Timeout:                 http.StatusServiceUnavailable,
		Internal:                http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := MetaFor(code).HTTPStatus; got != want {
			t.Errorf("%s: got %d, want %d", code, got, want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	err := New(PreconditionFailed, "If-Match")
	if CodeOf(err) != PreconditionFailed {
		t.Errorf("CodeOf: got %s", CodeOf(err))
	}
	wrapped := fmt.Errorf("handler: %w", err)
	if CodeOf(wrapped) != PreconditionFailed {
		t.Error("CodeOf must see through wrapping")
	}
	if CodeOf(errors.New("plain")) != Internal {
		t.Error("uncoded errors map to Internal")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("row conflict")
	err := Wrap(PreconditionFailed, "If-Match", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause must be reachable via errors.Is")
	}
	if DetailOf(err) != "If-Match" {
		t.Errorf("detail: %s", DetailOf(err))
	}
}

func TestRetryableCodes(t *testing.T) {
	if !MetaFor(Timeout).Retryable {
		t.Error("Timeout must be retryable")
	}
	if MetaFor(PreconditionFailed).Retryable {
		t.Error("PreconditionFailed is not blind-retryable")
	}
	if MetaFor(Code("unknown")).HTTPStatus != http.StatusInternalServerError {
		t.Error("unknown codes map to 500")
	}
}
