package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MEASULOR_ADDR", "REDIS_ADDR", "JWT_SECRET", "JWT_AUDIENCE", "ESTIMATOR_ADDR",
		"MEASULOR_GRPC_ADDR", "MAX_UPLOAD_BYTES", "SESSION_TTL", "RESULT_TTL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "measulor.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadWithoutFileAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Server.MaxUploadBytes != 10<<20 {
		t.Fatalf("expected 10 MiB upload limit, got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Sessions.TTL != 15*time.Minute {
		t.Fatalf("expected session ttl 15m, got %s", cfg.Sessions.TTL)
	}
	if cfg.Results.TTL != 5*time.Minute {
		t.Fatalf("expected result ttl 5m, got %s", cfg.Results.TTL)
	}
	if cfg.Redis.Addr != "" || cfg.Auth.Secret != "" || cfg.Estimator.Addr != "" {
		t.Fatalf("optional collaborators should stay disabled: %+v", cfg)
	}
}

func TestLoadReadsFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: ":9090"
  max_upload_bytes: 2048
redis:
  addr: "localhost:6379"
estimator:
  addr: "estimator:50051"
  mock_seed: 42
sessions:
  ttl: 2m
debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.MaxUploadBytes != 2048 {
		t.Fatalf("server section not read: %+v", cfg.Server)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Estimator.Addr != "estimator:50051" || cfg.Estimator.MockSeed != 42 {
		t.Fatalf("estimator section not read: %+v", cfg.Estimator)
	}
	if cfg.Sessions.TTL != 2*time.Minute {
		t.Fatalf("expected session ttl 2m, got %s", cfg.Sessions.TTL)
	}
	if cfg.Sessions.SweepInterval != time.Minute {
		t.Fatalf("expected default sweep interval, got %s", cfg.Sessions.SweepInterval)
	}
	if !cfg.Debug {
		t.Fatal("expected debug to be enabled")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: ":9090"
auth:
  secret: "from-file"
`)
	t.Setenv("MEASULOR_ADDR", ":7070")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("MAX_UPLOAD_BYTES", "4096")
	t.Setenv("RESULT_TTL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("expected env addr, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("expected env secret, got %s", cfg.Auth.Secret)
	}
	if cfg.Server.MaxUploadBytes != 4096 {
		t.Fatalf("expected env upload limit, got %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Results.TTL != 30*time.Second {
		t.Fatalf("expected env result ttl, got %s", cfg.Results.TTL)
	}
}

func TestLoadRejectsInvalidInput(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
	if _, err := Load(writeConfig(t, "server:\n  max_upload_bytes: -1\n")); err == nil {
		t.Fatal("expected error for negative upload limit")
	}
	if _, err := Load(writeConfig(t, "estimator:\n  addr: \":50051\"\n  grpc_addr: \":50051\"\n")); err == nil {
		t.Fatal("expected error when serving and dialing the same estimator address")
	}

	t.Setenv("SESSION_TTL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unparsable SESSION_TTL")
	}
}
