// Copyright 2026 PROVENIQ
//
// Response helpers: success JSON and the small structured error object.
// Stack traces and internal messages never reach the client.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/terryholliday/proveniq-ops/pkg/errcode"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

// writeRawJSON writes pre-encoded bytes verbatim; used for the canonical
// envelope so replays are byte-identical.
func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(raw); err != nil {
		logrus.WithError(err).Warn("failed to write response")
	}
}

// writeError maps a coded error onto the transport.
func writeError(w http.ResponseWriter, err error) {
	code := errcode.CodeOf(err)
	meta := errcode.MetaFor(code)
	if meta.HTTPStatus >= 500 {
		logrus.WithError(err).Error("internal error")
	}
	writeErrorPayload(w, meta.HTTPStatus, string(code), errcode.DetailOf(err))
}

func writeErrorPayload(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}
