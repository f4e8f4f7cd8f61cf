package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsAllSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
redis:
  addr: localhost:6379
  ttl: 2h
postgres:
  url: postgres://u:p@localhost/db
sqlite:
  path: quizzes.db
quiz:
  cacheTTL: 30s
  autoProgressGrace: 3s
  file: quizzes.yaml
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "localhost:6379" || cfg.SQLite.Path != "quizzes.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Quiz.File != "quizzes.yaml" || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected quiz/log section: %+v", cfg)
	}
	if got := TTLDuration(cfg.Quiz.AutoProgressGrace, time.Second); got != 3*time.Second {
		t.Fatalf("expected 3s grace, got %s", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty: got %s", got)
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("invalid: got %s", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("valid: got %s", got)
	}
}
