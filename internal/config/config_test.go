package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvSecret, "")
	t.Setenv(EnvOwnerID, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":4000" {
		t.Errorf("expected :4000, got %q", cfg.Addr)
	}
	if cfg.RateLimit.Window != 5*time.Second || cfg.RateLimit.Max != 30 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Blacklist.TTL != 5*time.Minute {
		t.Errorf("unexpected blacklist ttl %s", cfg.Blacklist.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if len(cfg.Warnings()) != 2 {
		t.Errorf("expected warnings for missing secret and owner, got %v", cfg.Warnings())
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("BRIDGE_TEST_SECRET", "from-env")
	t.Setenv(EnvOwnerID, "user_env")

	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
addr: "127.0.0.1:4100"
secret: "${BRIDGE_TEST_SECRET}"
audit_log: /var/log/bridge/audit.txt
rate_limit:
  window: 10s
  max: 50
blacklist:
  ttl: 1m
shell:
  path: /bin/zsh
log:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Secret != "from-env" {
		t.Errorf("expected substituted secret, got %q", cfg.Secret)
	}
	if cfg.OwnerID != "user_env" {
		t.Errorf("expected owner from env fallback, got %q", cfg.OwnerID)
	}
	if cfg.RateLimit.Window != 10*time.Second || cfg.RateLimit.Max != 50 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Blacklist.TTL != time.Minute {
		t.Errorf("unexpected ttl %s", cfg.Blacklist.TTL)
	}
	if cfg.Telemetry.Interval != 2*time.Second {
		t.Errorf("unset fields should keep defaults, got %s", cfg.Telemetry.Interval)
	}
	if cfg.Shell.Path != "/bin/zsh" || cfg.Shell.Cols != 80 {
		t.Errorf("unexpected shell %+v", cfg.Shell)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("rate_limit: [unterminated"), 0o600)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Max = 0
	cfg.Blacklist.TTL = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "rate_limit.max") || !strings.Contains(err.Error(), "blacklist.ttl") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}
