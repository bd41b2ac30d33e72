package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithChannelAddsField(t *testing.T) {
	capture := &logCapture{}
	log := WithChannel(newCaptureLogger(capture), "shell")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["channel"] != "shell" {
		t.Fatalf("expected channel field, got %+v", entry)
	}
}

func TestWithTaskSkipsEmpty(t *testing.T) {
	capture := &logCapture{}
	log := WithTask(newCaptureLogger(capture), "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["task"]; ok {
		t.Fatalf("did not expect task field, got %+v", entry)
	}
}

func TestContextWithTaskLoggerAnnotatesOnce(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	ctx = ContextWithTaskLogger(ctx, "t1")
	TaskLogger(ctx, "t1").Info("hello")

	line := capture.buf.String()
	if count := bytes.Count([]byte(line), []byte(`"task"`)); count != 1 {
		t.Fatalf("expected a single task field, got %d in %s", count, line)
	}
}

func TestContextWithChannelLoggerAddsField(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	ctx = ContextWithChannelLogger(ctx, "status")
	Ctx(ctx).Info("hello")

	entry := capture.firstEntry(t)
	if entry["channel"] != "status" {
		t.Fatalf("expected channel field, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
