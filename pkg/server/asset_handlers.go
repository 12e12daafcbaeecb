// Copyright 2026 PROVENIQ
//
// Asset Read Handlers - tip and lineage queries over the persisted chain.

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terryholliday/proveniq-ops/pkg/canonical"
	"github.com/terryholliday/proveniq-ops/pkg/chainverify"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

const (
	defaultLineageLimit = 100
	maxLineageLimit     = 1000
)

// handleAssetTip handles GET /v1/ops/assets/{asset_id}/tip.
// An asset with no events reports version 0 and the genesis hash.
func (s *Server) handleAssetTip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assetID, err := uuid.Parse(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeErrorPayload(w, http.StatusBadRequest, "BadRequest", "asset_id")
		return
	}

	tip, err := s.reader.AssetTip(ctx, tenantFrom(ctx), assetID)
	if errors.Is(err, storage.ErrTipNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"asset_id":          assetID.String(),
			"aggregate_version": 0,
			"event_hash":        canonical.GenesisHash,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset_id":          assetID.String(),
		"aggregate_version": tip.AggregateVersion,
		"event_hash":        tip.EventHash,
	})
}

// handleLineage handles GET /v1/ops/assets/{asset_id}/lineage.
// Pages stored envelopes in version order. With verify=true and no cursor,
// the returned page is also checked for chain integrity.
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assetID, err := uuid.Parse(chi.URLParam(r, "asset_id"))
	if err != nil {
		writeErrorPayload(w, http.StatusBadRequest, "BadRequest", "asset_id")
		return
	}

	afterVersion := int64(0)
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		afterVersion, err = strconv.ParseInt(cursor, 10, 64)
		if err != nil || afterVersion < 0 {
			writeErrorPayload(w, http.StatusBadRequest, "BadRequest", "cursor")
			return
		}
	}

	limit := defaultLineageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeErrorPayload(w, http.StatusBadRequest, "BadRequest", "limit")
			return
		}
		if limit > maxLineageLimit {
			limit = maxLineageLimit
		}
	}

	rows, err := s.reader.Lineage(ctx, tenantFrom(ctx), assetID, afterVersion, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	events := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		obj, err := chainverify.EnvelopeObject(row)
		if err != nil {
			writeError(w, err)
			return
		}
		events = append(events, obj)
	}

	resp := map[string]interface{}{
		"asset_id": assetID.String(),
		"events":   events,
	}
	if len(rows) == limit {
		resp["next_cursor"] = strconv.FormatInt(rows[len(rows)-1].AggregateVersion, 10)
	}

	if r.URL.Query().Get("verify") == "true" && afterVersion == 0 {
		result := chainverify.VerifyChain(rows, s.publicKey)
		resp["verification"] = result
	}

	writeJSON(w, http.StatusOK, resp)
}
