package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:8090" || cfg.HTTP.HubHistory != 1000 {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if cfg.Push.URL != "ws://127.0.0.1:8080/api/v1/logs/ws" {
		t.Fatalf("expected derived push url, got %q", cfg.Push.URL)
	}
}

func TestLoadOverridesAndDerivesPushURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
state_backend: sqlite
backend:
  base_url: https://ci.example.com/api/v1/
  poll_interval_seconds: 10
terminal:
  latency_ms: 50
  ssh_credential: hunter2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://ci.example.com/api/v1" {
		t.Fatalf("expected trimmed base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Push.URL != "wss://ci.example.com/api/v1/logs/ws" {
		t.Fatalf("expected wss push url, got %q", cfg.Push.URL)
	}
	svc := cfg.ServiceConfig()
	if svc.StateBackend != "sqlite" || svc.SSHCredential != "hunter2" || svc.TerminalLatency.Milliseconds() != 50 {
		t.Fatalf("unexpected service config %+v", svc)
	}
	if cfg.Backend.TimeoutSeconds != 10 || cfg.Backend.RetryCount != 2 {
		t.Fatalf("expected untouched defaults, got %+v", cfg.Backend)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version required error, got %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"state_backend":    "config_version: 1\nstate_backend: redis\n",
		"backend.base_url": "config_version: 1\nbackend:\n  base_url: example.com\n",
		"push.url":         "config_version: 1\npush:\n  url: http://example.com/ws\n",
		"poll_interval":    "config_version: 1\nbackend:\n  poll_interval_seconds: 0\n",
		"http.base_path":   "config_version: 1\nhttp:\n  base_path: https://x/y\n",
	}
	for want, content := range cases {
		path := writeConfig(t, content)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s error, got %v", want, err)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
