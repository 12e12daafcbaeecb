// Copyright 2026 PROVENIQ
//
// HTTP surface for the operational event ledger.
// One mutation endpoint (append) plus read-side tip/lineage queries,
// health, and Prometheus metrics.

package server

import (
	"crypto/ed25519"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appendpkg "github.com/terryholliday/proveniq-ops/pkg/append"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
)

// AuthConfig controls how the authenticated context is derived.
type AuthConfig struct {
	// AllowDev fills missing auth headers with the Dev* values. Never
	// enable outside local development.
	AllowDev     bool
	DevTenantID  string
	DevRole      string
	DevEmitterID string
}

// Server wires handlers to the append coordinator and the read side.
type Server struct {
	coordinator *appendpkg.Coordinator
	reader      storage.Reader
	publicKey   ed25519.PublicKey
	auth        AuthConfig
}

// New builds a server.
func New(coordinator *appendpkg.Coordinator, reader storage.Reader, publicKey ed25519.PublicKey, auth AuthConfig) *Server {
	return &Server{
		coordinator: coordinator,
		reader:      reader,
		publicKey:   publicKey,
		auth:        auth,
	}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/ops", func(r chi.Router) {
		r.Use(s.authContext)

		r.Post("/assets", s.handleCreateAsset)
		r.Post("/assets/{asset_id}/events", s.handleAppendEvent)
		r.Get("/assets/{asset_id}/tip", s.handleAssetTip)
		r.Get("/assets/{asset_id}/lineage", s.handleLineage)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleCreateAsset preserves the original surface: assets exist implicitly
// through their event chains.
func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	writeErrorPayload(w, http.StatusNotImplemented, "NotImplemented", "assets are created by their first event")
}
