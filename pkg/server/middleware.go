// Copyright 2026 PROVENIQ
//
// HTTP middleware: request logging and authenticated-context extraction.
// Tenant, role, and emitter always come from the authenticated context
// (here: headers set by the auth proxy), never from the request body.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	ctxTenantID  contextKey = "tenant_id"
	ctxRole      contextKey = "role"
	ctxEmitterID contextKey = "emitter_id"
)

// Header names populated by the fronting auth proxy after token validation.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderRole      = "X-Role"
	HeaderEmitterID = "X-Emitter-ID"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"took":   time.Since(start).String(),
		}).Info("request")
	})
}

// authContext binds tenant, role, and emitter from the proxy headers into
// the request context. Dev mode fills in configured defaults when the
// headers are absent.
func (s *Server) authContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(HeaderTenantID)
		role := r.Header.Get(HeaderRole)
		emitterID := r.Header.Get(HeaderEmitterID)

		if s.auth.AllowDev {
			if tenantID == "" {
				tenantID = s.auth.DevTenantID
			}
			if role == "" {
				role = s.auth.DevRole
			}
			if emitterID == "" {
				emitterID = s.auth.DevEmitterID
			}
		}
		if tenantID == "" || role == "" {
			writeErrorPayload(w, http.StatusUnauthorized, "Unauthorized", "missing authenticated context")
			return
		}
		if emitterID == "" {
			emitterID = role
		}

		ctx := context.WithValue(r.Context(), ctxTenantID, tenantID)
		ctx = context.WithValue(ctx, ctxRole, role)
		ctx = context.WithValue(ctx, ctxEmitterID, emitterID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxTenantID).(string)
	return v
}

func roleFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxRole).(string)
	return v
}

func emitterFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxEmitterID).(string)
	return v
}
