package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pkt.systems/kconsole/internal/backend"
	"pkt.systems/kconsole/internal/logstream"
	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/internal/prefs"
	"pkt.systems/kconsole/internal/reconcile"
	"pkt.systems/kconsole/internal/registry"
	"pkt.systems/kconsole/internal/terminal"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

const queueSize = 256

// service implements the core service behavior.
type service struct {
	cfg      schema.ServiceConfig
	backend  backend.Client
	sink     EventSink
	log      pslog.Logger
	now      func() time.Time
	store    persist.KV
	ownStore bool

	tasks *registry.Registry
	logs  *logstream.Buffer
	terms *terminal.Manager
	prefs *prefs.Prefs

	queue   chan func()
	done    chan struct{}
	running atomic.Bool

	// Owned by the loop goroutine.
	cache       reconcile.Cache
	emitted     viewMark
	prefsDirty  bool
	status      schema.ConsoleStatus
	statusDirty bool
	pollSeq     uint64
}

type viewMark struct {
	valid bool
	tasks uint64
	logs  uint64
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.EventSink == nil {
		deps.EventSink = nopSink{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = terminal.TimerScheduler{}
	}
	store := deps.Store
	ownStore := false
	if store == nil {
		store, err = persist.Open(cfg.StateBackend, cfg.StateDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		ownStore = true
	}

	s := &service{
		cfg:      cfg,
		backend:  deps.Backend,
		sink:     deps.EventSink,
		log:      logger,
		now:      deps.Now,
		store:    store,
		ownStore: ownStore,
		queue:    make(chan func(), queueSize),
		done:     make(chan struct{}),
	}
	s.status.Push = schema.PushDisconnected
	s.tasks = registry.New(logger)
	s.logs = logstream.New(store, logger, logstream.WithClock(deps.Now))
	s.prefs = prefs.New(store, cfg.DefaultTheme, logger)
	s.terms = terminal.NewManager(terminal.Config{
		Latency:    cfg.TerminalLatency,
		Credential: cfg.SSHCredential,
	}, terminal.Deps{
		Scheduler: loopScheduler{inner: deps.Scheduler, post: s.post},
		Records:   s.logs,
		Tasks:     s.tasks,
		Store:     store,
		Logger:    logger,
		Now:       deps.Now,
		OnChange: func(snapshot schema.TerminalSnapshot) {
			s.sink.OnTerminal(schema.TerminalEvent{Session: snapshot})
		},
	})
	return s, nil
}

// loopScheduler runs deferred terminal work back on the event loop.
type loopScheduler struct {
	inner terminal.Scheduler
	post  func(func())
}

func (l loopScheduler) AfterFunc(d time.Duration, fn func()) {
	l.inner.AfterFunc(d, func() { l.post(fn) })
}

func (s *service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("console loop already running")
	}
	defer close(s.done)
	s.log.Info("console loop started", "tasks", s.tasks.Len(), "records", s.logs.Len())
	s.afterMutation()
	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.log.Info("console loop stopped")
			return nil
		case fn := <-s.queue:
			fn()
			s.afterMutation()
			if len(s.queue) == 0 {
				s.flush()
			}
		}
	}
}

func (s *service) Close() error {
	if !s.ownStore {
		return nil
	}
	return persist.Close(s.store)
}

// post enqueues fn without waiting for it to run.
func (s *service) post(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

// call runs fn on the loop and waits for it.
func (s *service) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	task := func() {
		defer close(ran)
		fn()
	}
	select {
	case s.queue <- task:
	case <-s.done:
		return schema.ErrConsoleStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		select {
		case <-ran:
			return nil
		default:
			return schema.ErrConsoleStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the loop and returns its error.
func (s *service) do(ctx context.Context, fn func() error) error {
	var opErr error
	if err := s.call(ctx, func() { opErr = fn() }); err != nil {
		return err
	}
	return opErr
}

// afterMutation emits change events for whatever the last loop step touched.
func (s *service) afterMutation() {
	taskVersion, logVersion := s.tasks.Version(), s.logs.Version()
	if s.prefsDirty || !s.emitted.valid || s.emitted.tasks != taskVersion || s.emitted.logs != logVersion {
		s.prefsDirty = false
		s.emitted = viewMark{valid: true, tasks: taskVersion, logs: logVersion}
		s.sink.OnGroups(schema.GroupsEvent{Groups: s.groups()})
	}
	if s.statusDirty {
		s.statusDirty = false
		s.sink.OnStatus(schema.StatusEvent{Status: s.statusSnapshot()})
	}
}

func (s *service) flush() {
	if err := s.logs.Flush(); err != nil {
		s.log.Warn("logstream flush failed", "err", err)
	}
}

func (s *service) groups() []schema.DisplayGroup {
	groups, rebuilt := s.cache.Get(s.tasks.Version(), s.logs.Version(), func() []schema.DisplayGroup {
		return reconcile.Groups(s.tasks.Snapshot(), s.logs.Snapshot())
	})
	if rebuilt {
		s.log.Trace("groups recomputed", "groups", len(groups))
	}
	return reconcile.ApplyExpansion(groups, s.prefs.IsExpanded)
}

func (s *service) statusSnapshot() schema.ConsoleStatus {
	status := s.status
	status.Tasks = s.tasks.Len()
	status.Records = s.logs.Len()
	return status
}

func (s *service) Groups(ctx context.Context) ([]schema.DisplayGroup, error) {
	var out []schema.DisplayGroup
	err := s.call(ctx, func() { out = s.groups() })
	return out, err
}

func (s *service) ToggleGroupExpansion(ctx context.Context, id schema.ContextID) (bool, error) {
	id = schema.NormalizeContextID(string(id))
	var open bool
	err := s.call(ctx, func() {
		open = s.prefs.Toggle(id)
		s.prefsDirty = true
		s.log.Debug("group toggled", "context", id, "expanded", open)
	})
	return open, err
}

func (s *service) CollapseAll(ctx context.Context) error {
	return s.call(ctx, func() {
		s.prefs.CollapseAll()
		s.prefsDirty = true
	})
}

// ClearLogs empties the log stream and the expanded set in one loop step.
func (s *service) ClearLogs(ctx context.Context) error {
	return s.call(ctx, func() {
		if err := s.logs.Clear(); err != nil {
			s.log.Warn("logstream clear failed", "err", err)
		}
		s.prefs.Clear()
		s.cache.Invalidate()
		s.prefsDirty = true
	})
}

func (s *service) IngestPush(payload []byte) {
	data := append([]byte(nil), payload...)
	s.post(func() {
		if _, err := s.logs.AppendRaw(data); err != nil {
			s.log.Warn("push payload dropped", "err", err, "bytes", len(data))
		}
	})
}

func (s *service) SetPushStatus(status schema.PushStatus) {
	s.post(func() {
		if s.status.Push == status {
			return
		}
		s.log.Debug("push status changed", "from", s.status.Push, "to", status)
		s.status.Push = status
		s.statusDirty = true
	})
}

func (s *service) Terminals(ctx context.Context) ([]schema.TerminalSnapshot, error) {
	var out []schema.TerminalSnapshot
	err := s.call(ctx, func() { out = s.terms.Snapshots() })
	return out, err
}

func (s *service) Terminal(ctx context.Context, channel schema.ChannelKind) (schema.TerminalSnapshot, error) {
	var out schema.TerminalSnapshot
	err := s.do(ctx, func() error {
		var err error
		out, err = s.terms.Snapshot(channel)
		return err
	})
	return out, err
}

func (s *service) SetInput(ctx context.Context, channel schema.ChannelKind, text string) error {
	return s.do(ctx, func() error { return s.terms.SetInput(channel, text) })
}

// SubmitInput submits line, or the stored pending input when line is blank.
func (s *service) SubmitInput(ctx context.Context, channel schema.ChannelKind, line string) error {
	return s.do(ctx, func() error {
		if strings.TrimSpace(line) == "" {
			return s.terms.SubmitPending(channel)
		}
		return s.terms.Submit(channel, line)
	})
}

func (s *service) Connect(ctx context.Context, channel schema.ChannelKind) error {
	return s.do(ctx, func() error { return s.terms.Connect(channel) })
}

func (s *service) Disconnect(ctx context.Context, channel schema.ChannelKind) error {
	return s.do(ctx, func() error { return s.terms.Disconnect(channel) })
}

func (s *service) BindToTask(ctx context.Context, channel schema.ChannelKind, id schema.TaskID) error {
	return s.do(ctx, func() error { return s.terms.BindToTask(channel, id) })
}

func (s *service) Status(ctx context.Context) (schema.ConsoleStatus, error) {
	var out schema.ConsoleStatus
	err := s.call(ctx, func() { out = s.statusSnapshot() })
	return out, err
}

func (s *service) Preferences(ctx context.Context) (schema.Preferences, error) {
	var out schema.Preferences
	err := s.call(ctx, func() { out = s.prefs.Snapshot() })
	return out, err
}

func (s *service) ToggleTheme(ctx context.Context) (schema.ThemeName, error) {
	var out schema.ThemeName
	err := s.call(ctx, func() {
		out = s.prefs.ToggleTheme()
		s.log.Info("theme changed", "theme", out)
	})
	return out, err
}
