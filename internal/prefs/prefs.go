// Package prefs holds the operator's view preferences: which groups are
// expanded and which theme is active.
package prefs

import (
	"context"
	"sort"
	"sync"

	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// Prefs is safe for concurrent use. Every mutation is persisted immediately;
// a failed write is logged and the in-memory state is kept.
type Prefs struct {
	mu       sync.Mutex
	expanded map[schema.ContextID]struct{}
	theme    schema.ThemeName
	store    persist.KV
	log      pslog.Logger
}

// New restores preferences from store, falling back to defaultTheme and an
// empty expanded set.
func New(store persist.KV, defaultTheme schema.ThemeName, logger pslog.Logger) *Prefs {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	p := &Prefs{
		expanded: make(map[schema.ContextID]struct{}),
		theme:    schema.NormalizeTheme(defaultTheme),
		store:    store,
		log:      logger,
	}
	var ids []schema.ContextID
	if persist.LoadJSON(store, persist.KeyExpanded, &ids, logger) {
		for _, id := range ids {
			p.expanded[id] = struct{}{}
		}
	}
	var theme schema.ThemeName
	if persist.LoadJSON(store, persist.KeyTheme, &theme, logger) {
		p.theme = schema.NormalizeTheme(theme)
	}
	return p
}

// IsExpanded reports whether the group of id is expanded.
func (p *Prefs) IsExpanded(id schema.ContextID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.expanded[id]
	return ok
}

// Toggle flips the expansion of id and returns the new state.
func (p *Prefs) Toggle(id schema.ContextID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, open := p.expanded[id]
	if open {
		delete(p.expanded, id)
	} else {
		p.expanded[id] = struct{}{}
	}
	p.saveExpandedLocked()
	return !open
}

// CollapseAll empties the expanded set.
func (p *Prefs) CollapseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expanded = make(map[schema.ContextID]struct{})
	p.saveExpandedLocked()
}

// Clear empties the expanded set and removes its persisted copy.
func (p *Prefs) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expanded = make(map[schema.ContextID]struct{})
	if p.store == nil {
		return
	}
	if err := p.store.Clear(persist.KeyExpanded); err != nil {
		p.log.Warn("prefs clear failed", "key", persist.KeyExpanded, "err", err)
	}
}

// Expanded returns the expanded ids in sorted order.
func (p *Prefs) Expanded() []schema.ContextID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked()
}

// Theme returns the active theme.
func (p *Prefs) Theme() schema.ThemeName {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.theme
}

// ToggleTheme switches between light and dark and returns the new theme.
func (p *Prefs) ToggleTheme() schema.ThemeName {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.theme = p.theme.Toggle()
	if err := persist.SaveJSON(p.store, persist.KeyTheme, p.theme, p.log); err != nil {
		p.log.Warn("prefs save failed", "key", persist.KeyTheme, "err", err)
	}
	return p.theme
}

// Snapshot returns the preferences as exposed to clients.
func (p *Prefs) Snapshot() schema.Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return schema.Preferences{Theme: p.theme, Expanded: p.listLocked()}
}

func (p *Prefs) listLocked() []schema.ContextID {
	out := make([]schema.ContextID, 0, len(p.expanded))
	for id := range p.expanded {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Prefs) saveExpandedLocked() {
	if err := persist.SaveJSON(p.store, persist.KeyExpanded, p.listLocked(), p.log); err != nil {
		p.log.Warn("prefs save failed", "key", persist.KeyExpanded, "err", err)
	}
}
