package terminal

import (
	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
)

// Initial transcripts of fresh sessions.
var initialOutput = map[schema.ChannelKind]string{
	schema.ChannelStatus:   "QEMU status terminal initializing...\n",
	schema.ChannelShell:    "Attempting SSH connection to QEMU VM...\n" + ShellPrompt,
	schema.ChannelReserved: "MCP terminal reserved for future features.\n",
}

type persistedSession struct {
	Output      string              `json:"output"`
	Input       string              `json:"input"`
	Connected   bool                `json:"connected"`
	State       schema.SessionState `json:"state,omitempty"`
	BoundTaskID schema.TaskID       `json:"connectedTaskId,omitempty"`
}

// restore loads persisted sessions. Missing or corrupt entries start from
// defaults; queued commands are not persisted.
func (m *Manager) restore() {
	stored := map[schema.ChannelKind]persistedSession{}
	if !persist.LoadJSON(m.store, persist.KeyTerminals, &stored, m.log) {
		stored = map[schema.ChannelKind]persistedSession{}
	}
	for _, channel := range schema.Channels() {
		sess := &session{channel: channel, state: schema.StateDisconnected}
		entry, ok := stored[channel]
		if !ok {
			sess.output.WriteString(initialOutput[channel])
			m.sessions[channel] = sess
			continue
		}
		sess.output.WriteString(entry.Output)
		sess.input = entry.Input
		sess.bound = entry.BoundTaskID
		sess.state = restoredState(channel, entry)
		m.sessions[channel] = sess
	}
	m.log.Debug("terminal sessions restored", "persisted", len(stored))
}

func restoredState(channel schema.ChannelKind, entry persistedSession) schema.SessionState {
	if channel == schema.ChannelReserved {
		return schema.StateDisconnected
	}
	switch entry.State {
	case schema.StateConnected, schema.StateDisconnected:
		return entry.State
	case schema.StateAwaitingCredential:
		if channel == schema.ChannelShell {
			return entry.State
		}
		return schema.StateDisconnected
	}
	if entry.Connected {
		return schema.StateConnected
	}
	return schema.StateDisconnected
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	out := make(map[schema.ChannelKind]persistedSession, len(m.sessions))
	for channel, sess := range m.sessions {
		out[channel] = persistedSession{
			Output:      sess.output.String(),
			Input:       sess.input,
			Connected:   sess.state == schema.StateConnected,
			State:       sess.state,
			BoundTaskID: sess.bound,
		}
	}
	_ = persist.SaveJSON(m.store, persist.KeyTerminals, out, m.log)
}
