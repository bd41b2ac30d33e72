package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTaskNotFound indicates the task id is not in the registry.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotTerminal indicates deletion of a task that is still queued or running.
	ErrTaskNotTerminal = errors.New("only completed or failed tasks can be deleted")
	// ErrEmptyTaskID indicates a missing task id.
	ErrEmptyTaskID = errors.New("task id is required")
	// ErrInvalidTaskType indicates an unknown task type.
	ErrInvalidTaskType = errors.New("invalid task type")
	// ErrMissingReport indicates a build submission without a report.
	ErrMissingReport = errors.New("report is required for kernel-build tasks")
	// ErrInvalidReport indicates a report that is not valid JSON.
	ErrInvalidReport = errors.New("report must be valid JSON")
	// ErrMissingPatch indicates a patch submission without a patch file.
	ErrMissingPatch = errors.New("patch is required for patch-apply tasks")
	// ErrMissingTarget indicates a patch submission without a target task.
	ErrMissingTarget = errors.New("target task id is required for patch-apply tasks")
	// ErrInvalidChannel indicates an unknown terminal channel.
	ErrInvalidChannel = errors.New("invalid terminal channel")
	// ErrReservedChannel indicates an action the reserved channel does not support.
	ErrReservedChannel = errors.New("reserved channel does not support this action")
	// ErrConsoleStopped indicates the console event loop is not running.
	ErrConsoleStopped = errors.New("console stopped")
	// ErrBackendUnavailable indicates no backend client is configured.
	ErrBackendUnavailable = errors.New("backend not configured")
)
