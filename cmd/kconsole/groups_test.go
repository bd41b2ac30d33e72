package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
)

func seedLogs(t *testing.T, dir string, records []schema.LogRecord) {
	t.Helper()
	store, err := persist.NewFileStore(dir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if err := persist.SaveJSON(store, persist.KeyLogs, records, nil); err != nil {
		t.Fatalf("seed logs: %v", err)
	}
}

func writeTestConfig(t *testing.T, stateDir, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf("config_version: 1\nstate_dir: %s\nbackend:\n  base_url: %s\n  retry_count: 0\n", stateDir, baseURL)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestGroupsCommandReconcilesBackendTasks(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tasks" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"0123456789ab","type":"kernel-build","status":"running","payload":{"title":"KASAN splat"},"created_at":"2025-06-13T01:00:00Z"}]`))
	}))
	defer backend.Close()

	stateDir := t.TempDir()
	seedLogs(t, stateDir, []schema.LogRecord{
		{Time: time.Date(2025, 6, 13, 2, 0, 0, 0, time.UTC), Level: "INFO", Message: "make -j8", ContextID: "0123456789ab"},
		{Time: time.Date(2025, 6, 13, 2, 1, 0, 0, time.UTC), Level: "ERROR", Message: "gone", ContextID: "deadbeefcafe"},
	})
	path := writeTestConfig(t, stateDir, backend.URL+"/api/v1")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"groups", "--config", path, "--all"})
	if err := root.Execute(); err != nil {
		t.Fatalf("groups: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "- KASAN splat (1) [running]") {
		t.Fatalf("expected task group header:\n%s", text)
	}
	if !strings.Contains(text, "Logs of unknown/deleted task (deadbeef...)") {
		t.Fatalf("expected orphan group:\n%s", text)
	}
	if !strings.Contains(text, "make -j8") {
		t.Fatalf("expected records with --all:\n%s", text)
	}
}

func TestGroupsCommandOffline(t *testing.T) {
	stateDir := t.TempDir()
	seedLogs(t, stateDir, []schema.LogRecord{
		{Time: time.Date(2025, 6, 13, 2, 0, 0, 0, time.UTC), Level: "INFO", Message: "hello", ContextID: "abc"},
	})
	path := writeTestConfig(t, stateDir, "http://127.0.0.1:1/api/v1")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"groups", "--config", path, "--offline"})
	if err := root.Execute(); err != nil {
		t.Fatalf("groups: %v", err)
	}
	if !strings.HasPrefix(out.String(), "+ Logs of unknown/deleted task (abc...) (1)") {
		t.Fatalf("expected collapsed orphan group, got:\n%s", out.String())
	}
	if strings.Contains(out.String(), "hello") {
		t.Fatalf("collapsed group should hide records:\n%s", out.String())
	}
}

func TestRenderGroupsEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := renderGroups(&out, nil, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.String() != "no log groups\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}
