package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Sandbox.Timeout != 30*time.Minute {
		t.Errorf("sandbox timeout = %s", cfg.Sandbox.Timeout)
	}
	if cfg.Planner.Mode != "agent" || len(cfg.Planner.DefaultTools) == 0 {
		t.Errorf("planner = %+v", cfg.Planner)
	}
	if cfg.Execution.Provider != "local" || cfg.Storage.Artifacts != "local" {
		t.Errorf("execution/storage = %q/%q", cfg.Execution.Provider, cfg.Storage.Artifacts)
	}
	if cfg.Sandbox.WorkingDir == "" {
		t.Error("working dir should default to cwd")
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 7000
auth:
  api_keys:
    - key: ns_test
      user_id: alice
platforms:
  slack:
    enabled: true
    signing_secret: shh
sandbox:
  timeout: 5m
  extra_mounts:
    - host_path: /data
      mode: rw
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NIGHTSHIFT_SERVER_PORT", "7100")
	t.Setenv("NIGHTSHIFT_PLANNER_MODE", "static")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("env should override file port, got %d", cfg.Server.Port)
	}
	if cfg.Planner.Mode != "static" {
		t.Errorf("planner mode = %q", cfg.Planner.Mode)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].UserID != "alice" {
		t.Errorf("api keys = %+v", cfg.Auth.APIKeys)
	}
	if cfg.Auth.PlatformSecrets["slack"] != "shh" {
		t.Errorf("slack secret not propagated: %v", cfg.Auth.PlatformSecrets)
	}
	if cfg.Sandbox.Timeout != 5*time.Minute {
		t.Errorf("timeout = %s", cfg.Sandbox.Timeout)
	}
	if len(cfg.Sandbox.ExtraMounts) != 1 || cfg.Sandbox.ExtraMounts[0].Mode != "rw" {
		t.Errorf("extra mounts = %+v", cfg.Sandbox.ExtraMounts)
	}
	if got := cfg.EnabledPlatforms(); len(got) != 1 || got[0] != "slack" {
		t.Errorf("enabled platforms = %v", got)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Server.Port = 6123
	cfg.Auth.APIKeys = []APIKeyConfig{{Key: "ns_saved", UserID: "bob"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Server.Port != 6123 || len(back.Auth.APIKeys) != 1 {
		t.Errorf("round trip lost data: port=%d keys=%v", back.Server.Port, back.Auth.APIKeys)
	}
}
