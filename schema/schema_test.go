package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseTaskType(t *testing.T) {
	cases := map[string]TaskType{
		"build":        TaskKernelBuild,
		"kernel-build": TaskKernelBuild,
		" Patch ":      TaskPatchApply,
		"patch-apply":  TaskPatchApply,
	}
	for input, want := range cases {
		got, err := ParseTaskType(input)
		if err != nil || got != want {
			t.Fatalf("ParseTaskType(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseTaskType("deploy"); !errors.Is(err, ErrInvalidTaskType) {
		t.Fatalf("expected invalid task type, got %v", err)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	for _, status := range []TaskStatus{TaskCompleted, TaskFailed} {
		if !status.IsTerminal() {
			t.Fatalf("%s should be terminal", status)
		}
	}
	for _, status := range []TaskStatus{TaskQueued, TaskRunning, TaskSuccess, "pending"} {
		if status.IsTerminal() {
			t.Fatalf("%s should not be terminal", status)
		}
	}
}

func TestTaskTitle(t *testing.T) {
	var task Task
	if err := json.Unmarshal([]byte(`{"id":"abc","type":"kernel-build","status":"queued","payload":{"title":" Build A ","arch":"x86"},"created_at":"2025-06-13T03:42:00Z"}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Title() != "Build A" {
		t.Fatalf("unexpected title %q", task.Title())
	}
	task.Payload = TaskPayload{"title": json.RawMessage(`42`)}
	if task.Title() != "" {
		t.Fatalf("non-string title should be ignored")
	}
}

func TestShortID(t *testing.T) {
	if ShortID("0123456789") != "01234567" || ShortID("abc") != "abc" {
		t.Fatalf("unexpected short ids")
	}
}

func TestLogRecordOwner(t *testing.T) {
	if (LogRecord{}).Owner() != SystemContext {
		t.Fatalf("empty context should map to system")
	}
	if (LogRecord{ContextID: "  "}).Owner() != SystemContext {
		t.Fatalf("blank context should map to system")
	}
	if (LogRecord{ContextID: "t1"}).Owner() != "t1" {
		t.Fatalf("task context should be kept")
	}
}

func TestNormalizeLevel(t *testing.T) {
	cases := map[string]string{"info": "INFO", "warn": "WARNING", "Error": "ERROR", "TRACE": "TRACE"}
	for input, want := range cases {
		if got := NormalizeLevel(input); got != want {
			t.Fatalf("NormalizeLevel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseChannel(t *testing.T) {
	if ch, err := ParseChannel(" Shell "); err != nil || ch != ChannelShell {
		t.Fatalf("unexpected parse result %q, %v", ch, err)
	}
	if _, err := ParseChannel("mcp"); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected invalid channel, got %v", err)
	}
}

func TestThemeToggle(t *testing.T) {
	if ThemeLight.Toggle() != ThemeDark || ThemeDark.Toggle() != ThemeLight {
		t.Fatalf("toggle should alternate")
	}
	if ThemeName("neon").Toggle() != ThemeDark {
		t.Fatalf("unknown theme should toggle from default")
	}
}

func TestNormalizeServiceConfig(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{StateBackend: "Memory"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.StateBackend != StateBackendMemory || cfg.StateDir != "" {
		t.Fatalf("memory backend should not need a state dir: %+v", cfg)
	}
	if cfg.TerminalLatency != DefaultTerminalLatency || cfg.SSHCredential != DefaultSSHCredential || cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.DefaultTheme != ThemeLight {
		t.Fatalf("expected default theme")
	}
	if _, err := NormalizeServiceConfig(ServiceConfig{StateBackend: "redis"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid backend error, got %v", err)
	}
}

func TestNormalizeContextID(t *testing.T) {
	if NormalizeContextID(" ") != SystemContext || NormalizeContextID(" t1 ") != "t1" {
		t.Fatalf("unexpected context normalization")
	}
	if !TerminalContext.IsSentinel() || ContextID("t1").IsSentinel() {
		t.Fatalf("unexpected sentinel detection")
	}
}
