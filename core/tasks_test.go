package core

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"pkt.systems/kconsole/schema"
)

func TestStaleRefreshIsDiscarded(t *testing.T) {
	older := []schema.Task{{ID: "old", Status: schema.TaskRunning, CreatedAt: testNow}}
	newer := []schema.Task{{ID: "new", Status: schema.TaskRunning, CreatedAt: testNow}}
	gate := make(chan struct{})
	be := &fakeBackend{
		gates:     map[int]chan struct{}{1: gate},
		responses: map[int][]schema.Task{1: older, 2: newer},
	}
	h := startService(t, be, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.svc.RefreshTasks(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for be.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first refresh never reached the backend")
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.svc.RefreshTasks(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	tasks, _ := h.svc.Tasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != "new" {
		t.Fatalf("late completion of an older refresh must not win, got %+v", tasks)
	}
}

func TestStaleRefreshFailureKeepsNewerStatus(t *testing.T) {
	gate := make(chan struct{})
	be := &fakeBackend{
		gates:     map[int]chan struct{}{1: gate},
		errs:      map[int]error{1: errors.New("old request timed out")},
		responses: map[int][]schema.Task{2: {{ID: "new", Status: schema.TaskRunning, CreatedAt: testNow}}},
	}
	h := startService(t, be, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.svc.RefreshTasks(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for be.callCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first refresh never reached the backend")
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.svc.RefreshTasks(ctx); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	close(gate)
	if err := <-first; err == nil {
		t.Fatalf("expected the first refresh to report its error")
	}

	status, _ := h.svc.Status(ctx)
	if status.LastPollError != "" {
		t.Fatalf("older failure overwrote newer poll status: %q", status.LastPollError)
	}
	if status.Tasks != 1 {
		t.Fatalf("expected newer snapshot, got %+v", status)
	}
}

func TestRefreshFailureOnlyUpdatesStatus(t *testing.T) {
	be := &fakeBackend{tasks: []schema.Task{{ID: "t1", Status: schema.TaskRunning, CreatedAt: testNow}}}
	h := startService(t, be, nil)
	ctx := context.Background()
	if err := h.svc.RefreshTasks(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	be.mu.Lock()
	be.listErr = errors.New("connection refused")
	be.mu.Unlock()

	if err := h.svc.RefreshTasks(ctx); err == nil {
		t.Fatalf("expected refresh error")
	}
	tasks, _ := h.svc.Tasks(ctx)
	if len(tasks) != 1 {
		t.Fatalf("failed refresh must keep the registry, got %+v", tasks)
	}
	status, _ := h.svc.Status(ctx)
	if status.LastPollError == "" || !status.LastPoll.Equal(testNow) || status.Tasks != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDeleteGuard(t *testing.T) {
	be := &fakeBackend{tasks: []schema.Task{
		{ID: "queued", Status: schema.TaskQueued, CreatedAt: testNow},
		{ID: "running", Status: schema.TaskRunning, CreatedAt: testNow.Add(-time.Minute)},
		{ID: "done", Status: schema.TaskCompleted, CreatedAt: testNow.Add(-2 * time.Minute)},
	}}
	h := startService(t, be, nil)
	ctx := context.Background()
	if err := h.svc.RefreshTasks(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before, _ := h.svc.Tasks(ctx)

	for _, id := range []schema.TaskID{"queued", "running"} {
		if err := h.svc.DeleteTask(ctx, id); !errors.Is(err, schema.ErrTaskNotTerminal) {
			t.Fatalf("delete %s: expected not terminal, got %v", id, err)
		}
	}
	if err := h.svc.DeleteTask(ctx, "missing"); !errors.Is(err, schema.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	after, _ := h.svc.Tasks(ctx)
	if !reflect.DeepEqual(before, after) || len(be.deleted) != 0 {
		t.Fatalf("rejected deletes must not touch registry or backend")
	}

	if err := h.svc.DeleteTask(ctx, "done"); err != nil {
		t.Fatalf("delete done: %v", err)
	}
	tasks, _ := h.svc.Tasks(ctx)
	if len(tasks) != 2 {
		t.Fatalf("expected refresh after delete, got %+v", tasks)
	}
}

func TestSubmitValidation(t *testing.T) {
	be := &fakeBackend{tasks: []schema.Task{{ID: "base", Status: schema.TaskCompleted, CreatedAt: testNow}}}
	h := startService(t, be, nil)
	ctx := context.Background()
	if err := h.svc.RefreshTasks(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cases := []struct {
		name string
		req  schema.SubmitTaskRequest
		want error
	}{
		{"unknown type", schema.SubmitTaskRequest{Type: "deploy"}, schema.ErrInvalidTaskType},
		{"build without report", schema.SubmitTaskRequest{Type: "build"}, schema.ErrMissingReport},
		{"build with bad report", schema.SubmitTaskRequest{Type: "build", Report: []byte("{")}, schema.ErrInvalidReport},
		{"patch without patch", schema.SubmitTaskRequest{Type: "patch", TargetTaskID: "base"}, schema.ErrMissingPatch},
		{"patch without target", schema.SubmitTaskRequest{Type: "patch", Patch: []byte("diff")}, schema.ErrMissingTarget},
		{"patch unknown target", schema.SubmitTaskRequest{Type: "patch", Patch: []byte("diff"), TargetTaskID: "nope"}, schema.ErrTaskNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.SubmitTask(ctx, tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(be.submitted) != 0 {
		t.Fatalf("invalid submissions must not reach the backend")
	}

	task, err := h.svc.SubmitTask(ctx, schema.SubmitTaskRequest{Type: "patch", Patch: []byte("diff"), TargetTaskID: "base"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if be.submitted[0].Type != string(schema.TaskPatchApply) || task.ID != "new" {
		t.Fatalf("unexpected submission %+v", be.submitted[0])
	}
	tasks, _ := h.svc.Tasks(ctx)
	if len(tasks) != 2 {
		t.Fatalf("expected refresh after submit, got %+v", tasks)
	}
	groups, _ := h.svc.Groups(ctx)
	system, ok := findGroup(groups, schema.SystemContext)
	if !ok || system.Records[0].Message != "Task new submitted (patch-apply)." {
		t.Fatalf("expected submission record, got %+v", system)
	}
}

func TestFetchArtifactRecordsDownload(t *testing.T) {
	be := &fakeBackend{tasks: []schema.Task{{ID: "t1", Status: schema.TaskCompleted, CreatedAt: testNow}}}
	h := startService(t, be, nil)
	ctx := context.Background()
	artifact, err := h.svc.FetchArtifact(ctx, "t1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer artifact.Body.Close()
	data, _ := io.ReadAll(artifact.Body)
	if string(data) != "artifact" || artifact.Filename != "bzImage-t1" {
		t.Fatalf("unexpected artifact %q %q", artifact.Filename, data)
	}
	groups, _ := h.svc.Groups(ctx)
	group, ok := findGroup(groups, "t1")
	if !ok || len(group.Records) != 1 || group.Records[0].Message != "Starting artifact download for task t1." {
		t.Fatalf("expected download record, got %+v", groups)
	}
}

func TestBackendOpsWithoutBackend(t *testing.T) {
	h := startService(t, nil, nil)
	ctx := context.Background()
	if err := h.svc.RefreshTasks(ctx); !errors.Is(err, schema.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
	if err := h.svc.Poll(ctx); !errors.Is(err, schema.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
	if _, err := h.svc.FetchArtifact(ctx, "t1"); !errors.Is(err, schema.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestPollRefreshesUntilCanceled(t *testing.T) {
	be := &fakeBackend{tasks: []schema.Task{{ID: "t1", Status: schema.TaskRunning, CreatedAt: testNow}}}
	h := startService(t, be, nil)
	h.svc.cfg.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Poll(ctx) }()
	deadline := time.Now().Add(5 * time.Second)
	for be.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated polls, got %d", be.callCount())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("poll returned %v", err)
	}
	tasks, _ := h.svc.Tasks(context.Background())
	if len(tasks) != 1 {
		t.Fatalf("expected polled tasks, got %+v", tasks)
	}
}
