// Package terminal emulates the console's pseudo-terminal channels: each one is
// a scripted state machine whose responses arrive after a simulated latency.
package terminal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/kconsole/internal/logx"
	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// Scheduler defers fn by d without blocking the caller.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// TimerScheduler schedules with time.AfterFunc.
type TimerScheduler struct{}

// AfterFunc implements Scheduler.
func (TimerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// RecordSink receives terminal log records.
type RecordSink interface {
	AppendTerminal(level, message string)
}

// TaskLookup resolves task ids for binding.
type TaskLookup interface {
	Get(id schema.TaskID) (schema.Task, bool)
}

// Config configures a Manager.
type Config struct {
	Latency    time.Duration
	Credential string
}

// Deps captures the collaborators of a Manager.
type Deps struct {
	Scheduler Scheduler
	Records   RecordSink
	Tasks     TaskLookup
	Store     persist.KV
	Logger    pslog.Logger
	Now       func() time.Time
	// OnChange is called with the new snapshot after every mutation, outside
	// the manager lock.
	OnChange func(schema.TerminalSnapshot)
}

type session struct {
	channel schema.ChannelKind
	output  strings.Builder
	input   string
	state   schema.SessionState
	bound   schema.TaskID
	queue   []string
}

func (s *session) snapshot() schema.TerminalSnapshot {
	return schema.TerminalSnapshot{
		Channel:     s.channel,
		Output:      s.output.String(),
		Input:       s.input,
		Connected:   s.state == schema.StateConnected,
		State:       s.state,
		BoundTaskID: s.bound,
		Pending:     len(s.queue),
	}
}

// Manager owns the terminal sessions, one per channel.
type Manager struct {
	mu       sync.Mutex
	sessions map[schema.ChannelKind]*session
	protocol Protocol
	latency  time.Duration
	sched    Scheduler
	records  RecordSink
	tasks    TaskLookup
	store    persist.KV
	log      pslog.Logger
	now      func() time.Time
	onChange func(schema.TerminalSnapshot)
}

// NewManager constructs the sessions from persisted state or defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.Latency <= 0 {
		cfg.Latency = schema.DefaultTerminalLatency
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TimerScheduler{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = pslog.Ctx(context.Background())
	}
	m := &Manager{
		sessions: make(map[schema.ChannelKind]*session),
		protocol: NewProtocol(cfg.Credential),
		latency:  cfg.Latency,
		sched:    deps.Scheduler,
		records:  deps.Records,
		tasks:    deps.Tasks,
		store:    deps.Store,
		log:      deps.Logger,
		now:      deps.Now,
		onChange: deps.OnChange,
	}
	m.restore()
	return m
}

// Snapshot returns the session of channel.
func (m *Manager) Snapshot(channel schema.ChannelKind) (schema.TerminalSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[channel]
	if !ok {
		return schema.TerminalSnapshot{}, schema.ErrInvalidChannel
	}
	return sess.snapshot(), nil
}

// Snapshots returns every session in channel order.
func (m *Manager) Snapshots() []schema.TerminalSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.TerminalSnapshot, 0, len(m.sessions))
	for _, channel := range schema.Channels() {
		out = append(out, m.sessions[channel].snapshot())
	}
	return out
}

// SetInput replaces the pending input line of channel.
func (m *Manager) SetInput(channel schema.ChannelKind, text string) error {
	return m.mutate(channel, func(sess *session) ([]string, error) {
		sess.input = text
		return nil, nil
	})
}

// Submit echoes line to the transcript, clears the pending input, and
// schedules the scripted response after the simulated latency.
func (m *Manager) Submit(channel schema.ChannelKind, line string) error {
	command := strings.TrimSpace(line)
	err := m.mutate(channel, func(sess *session) ([]string, error) {
		sess.output.WriteString(command + "\n")
		sess.input = ""
		sess.queue = append(sess.queue, command)
		return nil, nil
	})
	if err != nil {
		return err
	}
	logx.WithChannel(m.log, channel).Debug("terminal command queued", "command", command)
	m.sched.AfterFunc(m.latency, func() { m.complete(channel) })
	return nil
}

// SubmitPending submits the stored pending input of channel.
func (m *Manager) SubmitPending(channel schema.ChannelKind) error {
	m.mu.Lock()
	sess, ok := m.sessions[channel]
	var line string
	if ok {
		line = sess.input
	}
	m.mu.Unlock()
	if !ok {
		return schema.ErrInvalidChannel
	}
	return m.Submit(channel, line)
}

// complete applies the oldest queued command of channel. Popping the queue
// head keeps submission order even if timers fire out of order.
func (m *Manager) complete(channel schema.ChannelKind) {
	log := logx.WithChannel(m.log, channel)
	_ = m.mutate(channel, func(sess *session) ([]string, error) {
		if len(sess.queue) == 0 {
			return nil, nil
		}
		command := sess.queue[0]
		sess.queue = sess.queue[1:]
		from := sess.state
		outcome := m.protocol.Lookup(channel, sess.state, command)
		sess.output.WriteString(outcome.Text(command))
		if outcome.Next != "" && outcome.Next != sess.state {
			sess.state = outcome.Next
			if sess.state == schema.StateDisconnected {
				sess.bound = ""
			}
		}
		log.Info("terminal command applied", "command", command, "from", from, "to", sess.state)
		records := make([]string, 0, 2)
		if outcome.Record != "" {
			records = append(records, outcome.Record)
		}
		records = append(records, fmt.Sprintf("Terminal (%s) command: %q", channel, command))
		return records, nil
	})
}

// Connect runs the connect action of channel.
func (m *Manager) Connect(channel schema.ChannelKind) error {
	if channel == schema.ChannelReserved {
		return schema.ErrReservedChannel
	}
	return m.mutate(channel, func(sess *session) ([]string, error) {
		switch channel {
		case schema.ChannelStatus:
			if sess.state == schema.StateConnected {
				return nil, nil
			}
			sess.output.WriteString(fmt.Sprintf("\n[%s] Attempting to connect to QEMU status...\n", m.clock()))
			sess.state = schema.StateConnected
			return []string{fmt.Sprintf("Terminal (%s) connected.", channel)}, nil
		case schema.ChannelShell:
			if sess.state != schema.StateDisconnected {
				return nil, nil
			}
			sess.output.WriteString(fmt.Sprintf("\n[%s] Type '%s' to connect.\n", m.clock(), SSHCommand))
		}
		return nil, nil
	})
}

// Disconnect runs the disconnect action of channel. It clears the bound task.
func (m *Manager) Disconnect(channel schema.ChannelKind) error {
	return m.mutate(channel, func(sess *session) ([]string, error) {
		if sess.state == schema.StateDisconnected {
			return nil, nil
		}
		sess.output.WriteString(fmt.Sprintf("\n[%s] Connection closed.\n", m.clock()))
		sess.state = schema.StateDisconnected
		sess.bound = ""
		return []string{fmt.Sprintf("Terminal (%s) disconnected.", channel)}, nil
	})
}

// BindToTask attaches channel to an existing task for correlation only.
func (m *Manager) BindToTask(channel schema.ChannelKind, id schema.TaskID) error {
	id, err := schema.NormalizeTaskID(string(id))
	if err != nil {
		return err
	}
	if m.tasks == nil {
		return schema.ErrTaskNotFound
	}
	task, ok := m.tasks.Get(id)
	if !ok {
		logx.WithChannel(m.log, channel).Warn("terminal bind rejected", "task", id, "reason", "not found")
		return schema.ErrTaskNotFound
	}
	title := task.Title()
	if title == "" {
		title = string(task.Type)
	}
	return m.mutate(channel, func(sess *session) ([]string, error) {
		sess.bound = id
		sess.output.WriteString(fmt.Sprintf("\n[%s] Bound to task %s (%s) on the %s terminal.\n", m.clock(), id, title, channel))
		if channel == schema.ChannelShell {
			sess.output.WriteString(ShellPrompt)
		}
		return []string{fmt.Sprintf("Connected terminal (%s) to Task %s.", channel, id)}, nil
	})
}

// mutate runs fn on the session of channel under the lock, then persists all
// sessions, emits the returned terminal records, and notifies OnChange.
func (m *Manager) mutate(channel schema.ChannelKind, fn func(*session) ([]string, error)) error {
	m.mu.Lock()
	sess, ok := m.sessions[channel]
	if !ok {
		m.mu.Unlock()
		return schema.ErrInvalidChannel
	}
	records, err := fn(sess)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := sess.snapshot()
	m.persistLocked()
	m.mu.Unlock()

	if m.records != nil {
		for _, message := range records {
			m.records.AppendTerminal(schema.LevelInfo, message)
		}
	}
	if m.onChange != nil {
		m.onChange(snapshot)
	}
	return nil
}

func (m *Manager) clock() string {
	return m.now().Format("15:04:05")
}
