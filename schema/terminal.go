package schema

import "strings"

// ChannelKind identifies one pseudo-terminal.
type ChannelKind string

const (
	ChannelStatus   ChannelKind = "status"
	ChannelShell    ChannelKind = "shell"
	ChannelReserved ChannelKind = "reserved"
)

// Channels lists every channel in display order.
func Channels() []ChannelKind {
	return []ChannelKind{ChannelStatus, ChannelShell, ChannelReserved}
}

// ParseChannel validates a channel name.
func ParseChannel(value string) (ChannelKind, error) {
	switch ChannelKind(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelStatus:
		return ChannelStatus, nil
	case ChannelShell:
		return ChannelShell, nil
	case ChannelReserved:
		return ChannelReserved, nil
	default:
		return "", ErrInvalidChannel
	}
}

// SessionState is the state of a terminal session.
type SessionState string

const (
	StateDisconnected       SessionState = "disconnected"
	StateAwaitingCredential SessionState = "awaiting_credential"
	StateConnected          SessionState = "connected"
)

// TerminalSnapshot is the persisted and exposed view of one session.
type TerminalSnapshot struct {
	Channel     ChannelKind  `json:"channel"`
	Output      string       `json:"output"`
	Input       string       `json:"input"`
	Connected   bool         `json:"connected"`
	State       SessionState `json:"state"`
	BoundTaskID TaskID       `json:"bound_task_id,omitempty"`
	Pending     int          `json:"pending,omitempty"`
}
