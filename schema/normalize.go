package schema

import "strings"

// NormalizeTaskID trims and validates a task id.
func NormalizeTaskID(id string) (TaskID, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrEmptyTaskID
	}
	return TaskID(trimmed), nil
}

// NormalizeContextID trims a context id, mapping empty to the system context.
func NormalizeContextID(id string) ContextID {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return SystemContext
	}
	return ContextID(trimmed)
}
