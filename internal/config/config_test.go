package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.courier.example
storage:
  dsn: sqlite:///var/lib/courier/kv.db
navigation:
  debounce: 250ms
  pending_ttl: 10m
  land_on_unroutable_click: false
push:
  burst: 3
log:
  format: json
`)
	t.Setenv("COURIER_PENDING_TTL", "2m")
	t.Setenv("COURIER_DEV_MODE", "true")
	t.Setenv("COURIER_PUSH_BURST", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.API.BaseURL != "https://api.courier.example" {
		t.Fatalf("expected yaml base url, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Fatalf("expected default timeout to survive, got %s", cfg.API.Timeout)
	}
	if cfg.Navigation.Debounce != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %s", cfg.Navigation.Debounce)
	}
	if cfg.Navigation.PendingTTL != 2*time.Minute {
		t.Fatalf("expected env ttl override 2m, got %s", cfg.Navigation.PendingTTL)
	}
	if cfg.Navigation.LandOnUnroutableClick {
		t.Fatalf("expected yaml to disable landing fallback")
	}
	if !cfg.Debug.DevMode {
		t.Fatalf("expected env to enable dev mode")
	}
	if cfg.Push.Burst != 3 {
		t.Fatalf("expected invalid env to fall back to yaml burst 3, got %d", cfg.Push.Burst)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected json log format, got %s", cfg.Log.Format)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
navigation:
  debounce: 0s
log:
  level: loud
  format: xml
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"debounce", "log.level", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "api: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLogConfigNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
	logger.WithField("target_id", "x").Info("hello")
	if !strings.Contains(buf.String(), `"target_id":"x"`) {
		t.Fatalf("expected json output, got %s", buf.String())
	}
}
