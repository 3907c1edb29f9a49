package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "debug"},
		"database": {
			"postgres": {"dsn": "postgres://localhost/skillbridge"},
			"redis": {"url": "redis://localhost:6379"}
		},
		"bridge": {"backend_timeout_sec": 5},
		"delivery": {"timeout_sec": 5, "failure_threshold": 5, "workers": 10}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Bridge.BackendTimeoutSec != 5 {
		t.Errorf("backend timeout = %d, want 5", cfg.Bridge.BackendTimeoutSec)
	}
	if cfg.Delivery.FailureThreshold != 5 {
		t.Errorf("failure threshold = %d, want 5", cfg.Delivery.FailureThreshold)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://db.internal/bridge")
	os.Unsetenv("TEST_REDIS_URL")

	path := writeConfig(t, `{
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_REDIS_URL:redis://fallback:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Postgres.DSN != "postgres://db.internal/bridge" {
		t.Errorf("dsn = %q, env substitution failed", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://fallback:6379" {
		t.Errorf("redis url = %q, default substitution failed", cfg.Database.Redis.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
