// Copyright 2026 PROVENIQ
//
// Event Append Handler - the only mutation endpoint.
// The server enforces scope, RBAC, evidence policy, optimistic concurrency,
// idempotency, and crypto; clients submit intent only.

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	appendpkg "github.com/terryholliday/proveniq-ops/pkg/append"
	"github.com/terryholliday/proveniq-ops/pkg/errcode"
)

// maxBodyBytes caps event submissions; canonical payloads are small.
const maxBodyBytes = 1 << 20

// handleAppendEvent handles POST /v1/ops/assets/{asset_id}/events.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, errcode.New(errcode.BadRequest, "body"))
		return
	}
	if len(raw) > maxBodyBytes {
		writeError(w, errcode.New(errcode.BadRequest, "body too large"))
		return
	}

	// UseNumber keeps client number tokens intact through the request
	// fingerprint.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		writeError(w, errcode.New(errcode.BadRequest, "body must be a JSON object"))
		return
	}

	res, err := s.coordinator.Append(ctx, appendpkg.Request{
		TenantID:       tenantFrom(ctx),
		AssetID:        chi.URLParam(r, "asset_id"),
		Role:           roleFrom(ctx),
		EmitterID:      emitterFrom(ctx),
		Body:           body,
		IfMatch:        r.Header.Get("If-Match"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Replayed {
		status = http.StatusOK
	}
	writeRawJSON(w, status, res.ResponseJSON)
}
