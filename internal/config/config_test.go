package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("expected default http address %s, got %s", defaultHTTPAddress, cfg.HTTPAddress)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", defaultLogLevel, cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("expected memory storage by default, got %s", cfg.Storage.Driver)
	}
	if cfg.Relay.HeartbeatInterval != defaultHeartbeatInterval {
		t.Fatalf("expected default heartbeat %s, got %s", defaultHeartbeatInterval, cfg.Relay.HeartbeatInterval)
	}
	if cfg.Admin.Address != "" {
		t.Fatalf("expected admin endpoint disabled by default, got %s", cfg.Admin.Address)
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
http_address: "127.0.0.1:7001"
log_level: "debug"
shutdown_grace_period: "5s"
admin:
  address: "127.0.0.1:9100"
storage:
  driver: "postgres"
  dsn: "postgres://relay@localhost/relay"
relay:
  heartbeat_interval: "15s"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GRIMWIRE_HTTP_ADDRESS", ":6000")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddress != ":6000" {
		t.Fatalf("expected env override for http address, got %s", cfg.HTTPAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.ShutdownGracePeriod != 5*time.Second {
		t.Fatalf("expected grace 5s, got %s", cfg.ShutdownGracePeriod)
	}
	if cfg.Admin.Address != "127.0.0.1:9100" {
		t.Fatalf("expected admin address from file, got %s", cfg.Admin.Address)
	}
	if cfg.Storage.Driver != StorageDriverPostgres || cfg.Storage.DSN == "" {
		t.Fatalf("expected postgres storage from file, got %+v", cfg.Storage)
	}
	if cfg.Relay.HeartbeatInterval != 15*time.Second {
		t.Fatalf("expected heartbeat 15s, got %s", cfg.Relay.HeartbeatInterval)
	}
}

func TestLoadRejectsBadStorage(t *testing.T) {
	t.Setenv("GRIMWIRE_STORAGE_DRIVER", "cassandra")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}

	t.Setenv("GRIMWIRE_STORAGE_DRIVER", "postgres")
	t.Setenv("GRIMWIRE_STORAGE_DSN", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for postgres driver without dsn")
	}
}
