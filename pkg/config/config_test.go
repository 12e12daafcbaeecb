package config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorageDriver != DriverPostgres {
		t.Errorf("default driver: got %s", cfg.StorageDriver)
	}
	if cfg.OutboxBatchSize != 100 {
		t.Errorf("default outbox batch: got %d", cfg.OutboxBatchSize)
	}
}

func TestValidate_RequiresSigningKey(t *testing.T) {
	cfg := &Config{StorageDriver: DriverMemory, OutboxBatchSize: 10}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "OPS_ED25519_PRIVATE_KEY_B64") {
		t.Errorf("expected signing key error, got %v", err)
	}
}

func TestValidate_DriverRequirements(t *testing.T) {
	base := Config{SigningKeyB64: "x", OutboxBatchSize: 10}

	pg := base
	pg.StorageDriver = DriverPostgres
	if err := pg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("postgres without URL should fail: %v", err)
	}

	lite := base
	lite.StorageDriver = DriverSQLite
	lite.SQLitePath = "ops.db"
	if err := lite.Validate(); err != nil {
		t.Errorf("sqlite config should validate: %v", err)
	}

	mem := base
	mem.StorageDriver = DriverMemory
	if err := mem.Validate(); err != nil {
		t.Errorf("memory config should validate: %v", err)
	}

	bad := base
	bad.StorageDriver = "oracle"
	if err := bad.Validate(); err == nil {
		t.Error("unknown driver should fail validation")
	}
}
