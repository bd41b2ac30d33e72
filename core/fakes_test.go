package core

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
)

var testNow = time.Date(2025, 6, 13, 3, 42, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	tasks     []schema.Task
	listErr   error
	calls     int
	gates     map[int]chan struct{}
	responses map[int][]schema.Task
	errs      map[int]error
	submitted []schema.SubmitTaskRequest
	deleted   []schema.TaskID
}

func (b *fakeBackend) ListTasks(ctx context.Context) ([]schema.Task, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	gate := b.gates[n]
	tasks, ok := b.responses[n]
	if !ok {
		tasks = append([]schema.Task(nil), b.tasks...)
	}
	err := b.listErr
	if callErr, ok := b.errs[n]; ok {
		err = callErr
	}
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return tasks, err
}

func (b *fakeBackend) SubmitTask(ctx context.Context, req schema.SubmitTaskRequest) (schema.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, req)
	task := schema.Task{ID: "new", Type: schema.TaskType(req.Type), Status: schema.TaskQueued, CreatedAt: testNow}
	b.tasks = append(b.tasks, task)
	return task, nil
}

func (b *fakeBackend) DeleteTask(ctx context.Context, id schema.TaskID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	kept := b.tasks[:0]
	for _, task := range b.tasks {
		if task.ID != id {
			kept = append(kept, task)
		}
	}
	b.tasks = kept
	return nil
}

func (b *fakeBackend) FetchArtifact(ctx context.Context, id schema.TaskID) (schema.Artifact, error) {
	return schema.Artifact{
		TaskID:   id,
		Filename: "bzImage-" + string(id),
		Body:     io.NopCloser(strings.NewReader("artifact")),
	}, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeScheduler struct {
	mu      sync.Mutex
	pending []func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type recordingSink struct {
	mu        sync.Mutex
	groups    []schema.GroupsEvent
	terminals []schema.TerminalEvent
	statuses  []schema.StatusEvent
}

func (s *recordingSink) OnGroups(event schema.GroupsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, event)
}

func (s *recordingSink) OnTerminal(event schema.TerminalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals = append(s.terminals, event)
}

func (s *recordingSink) OnStatus(event schema.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, event)
}

func (s *recordingSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups), len(s.terminals), len(s.statuses)
}

type harness struct {
	svc   *service
	be    *fakeBackend
	sched *fakeScheduler
	sink  *recordingSink
	store *persist.MemoryStore
	stop  func()
}

func startService(t *testing.T, be *fakeBackend, store *persist.MemoryStore) harness {
	t.Helper()
	if store == nil {
		store = persist.NewMemoryStore()
	}
	h := harness{be: be, sched: &fakeScheduler{}, sink: &recordingSink{}, store: store}
	deps := ServiceDeps{
		Store:     store,
		EventSink: h.sink,
		Scheduler: h.sched,
		Now:       func() time.Time { return testNow },
	}
	if be != nil {
		deps.Backend = be
	}
	svc, err := NewService(schema.ServiceConfig{StateBackend: schema.StateBackendMemory}, deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc.(*service)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("run: %v", err)
			}
		})
	}
	t.Cleanup(h.stop)
	return h
}

func findGroup(groups []schema.DisplayGroup, id schema.ContextID) (schema.DisplayGroup, bool) {
	for _, group := range groups {
		if group.ContextID == id {
			return group, true
		}
	}
	return schema.DisplayGroup{}, false
}
