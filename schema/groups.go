package schema

// GroupKind classifies a display group.
type GroupKind string

const (
	GroupTask     GroupKind = "task"
	GroupOrphan   GroupKind = "orphan"
	GroupSystem   GroupKind = "system"
	GroupTerminal GroupKind = "terminal"
)

// DisplayGroup bundles all records for one owning context.
type DisplayGroup struct {
	ContextID ContextID   `json:"context_id"`
	Kind      GroupKind   `json:"kind"`
	Label     string      `json:"label"`
	Task      *Task       `json:"task,omitempty"`
	Records   []LogRecord `json:"records"`
	// RecencyKey is a unix millisecond timestamp.
	RecencyKey int64 `json:"recency_key"`
	Expanded   bool  `json:"expanded"`
}
