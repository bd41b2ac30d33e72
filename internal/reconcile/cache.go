package reconcile

import (
	"sync"

	"pkt.systems/kconsole/schema"
)

// Cache memoizes Groups on the versions of its two inputs.
type Cache struct {
	mu          sync.Mutex
	valid       bool
	taskVersion uint64
	logVersion  uint64
	groups      []schema.DisplayGroup
}

// Get returns the cached groups when both versions match, else recomputes them
// with build. The returned slice must be treated as read-only.
func (c *Cache) Get(taskVersion, logVersion uint64, build func() []schema.DisplayGroup) ([]schema.DisplayGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.taskVersion == taskVersion && c.logVersion == logVersion {
		return c.groups, false
	}
	c.groups = build()
	c.taskVersion = taskVersion
	c.logVersion = logVersion
	c.valid = true
	return c.groups, true
}

// Invalidate forces the next Get to recompute.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.groups = nil
	c.mu.Unlock()
}
