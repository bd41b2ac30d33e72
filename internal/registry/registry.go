// Package registry caches the last task inventory fetched from the backend.
package registry

import (
	"sort"
	"sync"

	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// Registry holds the last applied task snapshot, newest first.
// Refreshes are tagged with a sequence number from Begin; a completion older
// than the one already applied is discarded.
type Registry struct {
	mu      sync.Mutex
	tasks   []schema.Task
	index   map[schema.TaskID]int
	issued  uint64
	applied uint64
	version uint64
	log     pslog.Logger
}

// New constructs an empty registry.
func New(logger pslog.Logger) *Registry {
	return &Registry{index: make(map[schema.TaskID]int), log: logger}
}

// Begin reserves the sequence number for a refresh about to be issued.
func (r *Registry) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return r.issued
}

// Apply replaces the snapshot with tasks fetched under seq, keeping the first
// occurrence of a duplicated id. It reports false when seq is not newer than
// the applied snapshot.
func (r *Registry) Apply(seq uint64, tasks []schema.Task) bool {
	sorted := make([]schema.Task, 0, len(tasks))
	seen := make(map[schema.TaskID]struct{}, len(tasks))
	for _, task := range tasks {
		if _, dup := seen[task.ID]; dup {
			if r.log != nil {
				r.log.Warn("registry duplicate task ignored", "task", task.ID)
			}
			continue
		}
		seen[task.ID] = struct{}{}
		sorted = append(sorted, task)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq <= r.applied {
		if r.log != nil {
			r.log.Debug("registry refresh stale", "seq", seq, "applied", r.applied)
		}
		return false
	}
	r.applied = seq
	if seq > r.issued {
		r.issued = seq
	}
	r.tasks = sorted
	r.index = make(map[schema.TaskID]int, len(sorted))
	for i, task := range sorted {
		r.index[task.ID] = i
	}
	r.version++
	if r.log != nil {
		r.log.Debug("registry refresh applied", "seq", seq, "tasks", len(sorted))
	}
	return true
}

// Snapshot returns a copy of the tasks, newest first.
func (r *Registry) Snapshot() []schema.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// Get returns the task with the given id.
func (r *Registry) Get(id schema.TaskID) (schema.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return schema.Task{}, false
	}
	return r.tasks[i], true
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Version increments on every applied refresh.
func (r *Registry) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Applied returns the sequence number of the current snapshot.
func (r *Registry) Applied() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}
