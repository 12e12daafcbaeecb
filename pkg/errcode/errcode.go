// Copyright 2026 PROVENIQ
//
// Stable error taxonomy for the operational event ledger.
// Domain packages return sentinel errors; this package maps them to the
// transport edge. Once published, codes are API-stable.

package errcode

import (
	"errors"
	"net/http"
)

// Code is a stable error code returned to API clients.
type Code string

const (
	BadRequest              Code = "BadRequest"
	InvalidRole             Code = "InvalidRole"
	UnknownEventType        Code = "UnknownEventType"
	PermissionDenied        Code = "PermissionDenied"
	EvidencePolicyViolation Code = "EvidencePolicyViolation"
	PreconditionFailed      Code = "PreconditionFailed"
	IdempotencyMismatch     Code = "IdempotencyMismatch"
	Timeout                 Code = "Timeout"
	Internal                Code = "Internal"
	StorageUnavailable      Code = "StorageUnavailable"
)

// Meta carries transport mapping and retry semantics for a code.
type Meta struct {
	HTTPStatus int    `json:"http_status"`
	Retryable  bool   `json:"retryable"`
	Kind       string `json:"kind"` // client|security|conflict|server
}

var registry = map[Code]Meta{
	BadRequest:              {HTTPStatus: http.StatusBadRequest, Retryable: false, Kind: "client"},
	InvalidRole:             {HTTPStatus: http.StatusBadRequest, Retryable: false, Kind: "client"},
	UnknownEventType:        {HTTPStatus: http.StatusNotFound, Retryable: false, Kind: "client"},
	PermissionDenied:        {HTTPStatus: http.StatusForbidden, Retryable: false, Kind: "security"},
	EvidencePolicyViolation: {HTTPStatus: http.StatusBadRequest, Retryable: false, Kind: "client"},
	PreconditionFailed:      {HTTPStatus: http.StatusConflict, Retryable: false, Kind: "conflict"},
	IdempotencyMismatch:     {HTTPStatus: http.StatusConflict, Retryable: false, Kind: "conflict"},
	Timeout:                 {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Kind: "server"},
	Internal:                {HTTPStatus: http.StatusInternalServerError, Retryable: false, Kind: "server"},
	StorageUnavailable:      {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Kind: "server"},
}

// MetaFor returns the transport metadata for a code. Unknown codes map to
// Internal so a missing registry entry can never leak a 200.
func MetaFor(c Code) Meta {
	if m, ok := registry[c]; ok {
		return m
	}
	return registry[Internal]
}

// Error is a coded error carried across component boundaries. Detail is a
// short client-safe string; internal messages stay in the wrapped cause.
type Error struct {
	Code   Code
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error with a client-safe detail string.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap attaches a code and detail to an underlying cause.
func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

// CodeOf extracts the code from err, or Internal if err carries none.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// DetailOf extracts the client-safe detail from err, empty if none.
func DetailOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Detail
	}
	return ""
}

// HTTPStatusOf maps err to its HTTP status.
func HTTPStatusOf(err error) int {
	return MetaFor(CodeOf(err)).HTTPStatus
}
