// Package reconcile merges the task registry and the log stream into the
// ordered list of display groups.
package reconcile

import (
	"fmt"
	"sort"

	"pkt.systems/kconsole/schema"
)

// Fixed labels of the sentinel groups.
const (
	SystemLabel   = "System messages"
	TerminalLabel = "Terminal logs"
)

// TaskLabel returns the label of a task group.
func TaskLabel(task schema.Task) string {
	if title := task.Title(); title != "" {
		return title
	}
	return fmt.Sprintf("Unnamed Task (%s)", task.ShortID())
}

// OrphanLabel returns the label of a group whose context matches no task.
func OrphanLabel(id schema.ContextID) string {
	return fmt.Sprintf("Logs of unknown/deleted task (%s...)", schema.ShortID(string(id)))
}

// Groups computes the display groups for tasks (newest first) and records
// (newest first). It is pure: equal inputs yield equal outputs.
//
// Every task yields exactly one group and every record lands in exactly one
// group. A task whose id equals a sentinel claims that sentinel's records.
func Groups(tasks []schema.Task, records []schema.LogRecord) []schema.DisplayGroup {
	partition, order := partitionRecords(records)

	groups := make([]schema.DisplayGroup, 0, len(tasks)+len(order))
	seen := make(map[schema.ContextID]struct{}, len(tasks))
	for i := range tasks {
		task := tasks[i]
		id := schema.ContextID(task.ID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		owned := partition[id]
		delete(partition, id)
		key := task.CreatedAt.UnixMilli()
		if task.CreatedAt.IsZero() {
			key = 0
		}
		if len(owned) > 0 {
			key = latest(owned)
		}
		groups = append(groups, schema.DisplayGroup{
			ContextID:  id,
			Kind:       schema.GroupTask,
			Label:      TaskLabel(task),
			Task:       &task,
			Records:    nonNil(owned),
			RecencyKey: key,
		})
	}

	for _, id := range order {
		if id.IsSentinel() {
			continue
		}
		owned, ok := partition[id]
		if !ok {
			continue
		}
		groups = append(groups, schema.DisplayGroup{
			ContextID:  id,
			Kind:       schema.GroupOrphan,
			Label:      OrphanLabel(id),
			Records:    owned,
			RecencyKey: latest(owned),
		})
	}

	for _, sentinel := range []struct {
		id    schema.ContextID
		kind  schema.GroupKind
		label string
	}{
		{schema.SystemContext, schema.GroupSystem, SystemLabel},
		{schema.TerminalContext, schema.GroupTerminal, TerminalLabel},
	} {
		owned, ok := partition[sentinel.id]
		if !ok {
			continue
		}
		groups = append(groups, schema.DisplayGroup{
			ContextID:  sentinel.id,
			Kind:       sentinel.kind,
			Label:      sentinel.label,
			Records:    owned,
			RecencyKey: latest(owned),
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].RecencyKey > groups[j].RecencyKey
	})
	return groups
}

// partitionRecords splits records by owner, preserving order within each
// owner, and returns owners in order of first appearance.
func partitionRecords(records []schema.LogRecord) (map[schema.ContextID][]schema.LogRecord, []schema.ContextID) {
	partition := make(map[schema.ContextID][]schema.LogRecord)
	order := make([]schema.ContextID, 0)
	for _, record := range records {
		owner := record.Owner()
		if _, seen := partition[owner]; !seen {
			order = append(order, owner)
		}
		partition[owner] = append(partition[owner], record)
	}
	return partition, order
}

// latest returns the newest record timestamp in unix milliseconds.
func latest(records []schema.LogRecord) int64 {
	var key int64
	for i, record := range records {
		if record.Time.IsZero() {
			continue
		}
		ms := record.Time.UnixMilli()
		if i == 0 || ms > key {
			key = ms
		}
	}
	return key
}

func nonNil(records []schema.LogRecord) []schema.LogRecord {
	if records == nil {
		return []schema.LogRecord{}
	}
	return records
}

// ApplyExpansion returns a copy of groups with the expanded flag set from
// isExpanded.
func ApplyExpansion(groups []schema.DisplayGroup, isExpanded func(schema.ContextID) bool) []schema.DisplayGroup {
	out := make([]schema.DisplayGroup, len(groups))
	for i, group := range groups {
		group.Expanded = isExpanded != nil && isExpanded(group.ContextID)
		out[i] = group
	}
	return out
}
