package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskID identifies a backend task.
type TaskID string

// ContextID identifies the owner of a log record: a task id or a sentinel.
type ContextID string

const (
	// SystemContext owns records not tied to a task or terminal.
	SystemContext ContextID = "system"
	// TerminalContext owns records emitted by terminal sessions.
	TerminalContext ContextID = "terminal"
)

// IsSentinel reports whether the context id is one of the reserved contexts.
func (c ContextID) IsSentinel() bool {
	return c == SystemContext || c == TerminalContext
}

// TaskStatus is the backend-reported task state.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSuccess   TaskStatus = "success"
)

// IsTerminal reports whether the task may be deleted.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskType is the backend task type.
type TaskType string

const (
	TaskKernelBuild TaskType = "kernel-build"
	TaskPatchApply  TaskType = "patch-apply"
)

// ParseTaskType accepts the backend names and the short aliases build/patch.
func ParseTaskType(value string) (TaskType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "build", string(TaskKernelBuild):
		return TaskKernelBuild, nil
	case "patch", string(TaskPatchApply):
		return TaskPatchApply, nil
	default:
		return "", ErrInvalidTaskType
	}
}

// TaskPayload is the opaque metadata object attached to a task.
type TaskPayload map[string]json.RawMessage

// Title returns the payload title when present.
func (p TaskPayload) Title() string {
	raw, ok := p["title"]
	if !ok {
		return ""
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return ""
	}
	return strings.TrimSpace(title)
}

// Task is one build or patch job tracked by the backend.
type Task struct {
	ID         TaskID      `json:"id"`
	Type       TaskType    `json:"type"`
	Status     TaskStatus  `json:"status"`
	Payload    TaskPayload `json:"payload,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Title returns the display title of the task.
func (t Task) Title() string {
	return t.Payload.Title()
}

// ShortID returns the first 8 characters of the id.
func (t Task) ShortID() string {
	return ShortID(string(t.ID))
}

// ShortID truncates an identifier to 8 characters.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// LogRecord is one timestamped, leveled, context-tagged log line.
type LogRecord struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
	ContextID ContextID `json:"taskId"`
}

// Owner returns the owning context, mapping an empty id to the system context.
func (r LogRecord) Owner() ContextID {
	if strings.TrimSpace(string(r.ContextID)) == "" {
		return SystemContext
	}
	return r.ContextID
}

// Log levels used for locally synthesized records.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// NormalizeLevel upper-cases known levels and leaves unknown text untouched.
func NormalizeLevel(level string) string {
	upper := strings.ToUpper(strings.TrimSpace(level))
	switch upper {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return upper
	case "WARN":
		return LevelWarning
	default:
		return level
	}
}
