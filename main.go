// Copyright 2026 PROVENIQ
//
// PROVENIQ Ops Ledger - service entrypoint.
// Wires config, signing key, registry, storage, the append coordinator,
// the outbox dispatcher, and the HTTP surface.

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	appendpkg "github.com/terryholliday/proveniq-ops/pkg/append"
	"github.com/terryholliday/proveniq-ops/pkg/config"
	"github.com/terryholliday/proveniq-ops/pkg/outbox"
	"github.com/terryholliday/proveniq-ops/pkg/registry"
	"github.com/terryholliday/proveniq-ops/pkg/server"
	"github.com/terryholliday/proveniq-ops/pkg/signer"
	"github.com/terryholliday/proveniq-ops/pkg/storage"
	"github.com/terryholliday/proveniq-ops/pkg/storage/memory"
	"github.com/terryholliday/proveniq-ops/pkg/storage/postgres"
	"github.com/terryholliday/proveniq-ops/pkg/storage/sqlite"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("configuration invalid")
	}

	sgn, err := signer.NewFromSeedB64(cfg.SigningKeyB64)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load signing key")
	}
	logrus.WithField("public_key", sgn.PublicKeyB64()).Info("signing key loaded")

	var reg *registry.Registry
	if cfg.RegistryPath != "" {
		reg, err = registry.LoadFile(cfg.RegistryPath)
	} else {
		reg, err = registry.LoadDefault()
	}
	if err != nil {
		logrus.WithError(err).Fatal("failed to load event registry")
	}
	logrus.WithField("event_types", len(reg.EventTypes())).Info("event registry loaded")

	store, reader, queue, cleanup, err := openStorage(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open storage")
	}
	defer cleanup()

	coordinator := appendpkg.NewCoordinator(reg, store, sgn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := outbox.NewDispatcher(queue, outbox.LogSink{}, cfg.OutboxInterval, cfg.OutboxBatchSize)
	go dispatcher.Run(ctx)

	srv := server.New(coordinator, reader, sgn.PublicKey(), server.AuthConfig{
		AllowDev:     cfg.AllowDevAuth,
		DevTenantID:  cfg.DevTenantID,
		DevRole:      cfg.DevRole,
		DevEmitterID: cfg.DevEmitterID,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("ops ledger listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("shutdown incomplete")
	}
}

// openStorage builds the configured backend and returns the append store,
// the read side, the outbox queue, and a cleanup func.
func openStorage(cfg *config.Config) (storage.Store, storage.Reader, storage.OutboxQueue, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		client, err := postgres.NewClient(postgres.Config{
			URL:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DatabaseMaxConns,
			MaxIdleConns:    cfg.DatabaseMinConns,
			ConnMaxIdleTime: time.Duration(cfg.DatabaseMaxIdleTime) * time.Second,
			ConnMaxLifetime: time.Duration(cfg.DatabaseMaxLifetime) * time.Second,
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.MigrateUp(migCtx); err != nil {
			client.Close()
			return nil, nil, nil, nil, err
		}
		st := postgres.NewStore(client)
		return st, st, st, func() { client.Close() }, nil

	case config.DriverSQLite:
		st, err := sqlite.NewStore(sqlite.Config{Path: cfg.SQLitePath, BusyTimeout: 5 * time.Second})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return st, st, st, func() { st.Close() }, nil

	case config.DriverMemory:
		logrus.Warn("memory storage driver: data does not survive restarts")
		st := memory.NewStore()
		return st, st, st, func() {}, nil
	}

	// Validate() rejects unknown drivers before we get here.
	st := memory.NewStore()
	return st, st, st, func() {}, nil
}
