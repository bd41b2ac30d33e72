package schema

// GroupsEvent is emitted after the grouped view changes.
type GroupsEvent struct {
	Groups []DisplayGroup
}

// TerminalEvent is emitted after a terminal session changes.
type TerminalEvent struct {
	Session TerminalSnapshot
}

// StatusEvent is emitted after transport status changes.
type StatusEvent struct {
	Status ConsoleStatus
}
