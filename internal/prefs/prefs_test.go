package prefs

import (
	"errors"
	"reflect"
	"testing"

	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
)

type failingStore struct {
	*persist.MemoryStore
}

func (failingStore) Save(string, []byte) error {
	return errors.New("disk full")
}

func TestToggleAndRestore(t *testing.T) {
	store := persist.NewMemoryStore()
	p := New(store, "", nil)
	if p.IsExpanded("t1") {
		t.Fatalf("expected collapsed by default")
	}
	if !p.Toggle("t1") {
		t.Fatalf("first toggle should expand")
	}
	p.Toggle(schema.SystemContext)

	restored := New(store, "", nil)
	want := []schema.ContextID{schema.SystemContext, "t1"}
	if got := restored.Expanded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("restored expanded = %v, want %v", got, want)
	}

	if restored.Toggle("t1") || restored.IsExpanded("t1") {
		t.Fatalf("second toggle should collapse")
	}
}

func TestCollapseAllPersists(t *testing.T) {
	store := persist.NewMemoryStore()
	p := New(store, "", nil)
	p.Toggle("t1")
	p.Toggle("t2")
	p.CollapseAll()
	if len(New(store, "", nil).Expanded()) != 0 {
		t.Fatalf("expected collapse to persist")
	}
}

func TestClearRemovesPersistedCopy(t *testing.T) {
	store := persist.NewMemoryStore()
	p := New(store, "", nil)
	p.Toggle("t1")
	p.Clear()
	if _, ok, _ := store.Load(persist.KeyExpanded); ok {
		t.Fatalf("expected persisted expanded set removed")
	}
	if p.IsExpanded("t1") {
		t.Fatalf("expected in-memory set cleared")
	}
}

func TestSaveFailureKeepsInMemoryState(t *testing.T) {
	p := New(failingStore{persist.NewMemoryStore()}, "", nil)
	if !p.Toggle("t1") || !p.IsExpanded("t1") {
		t.Fatalf("failed save must not roll back the toggle")
	}
	if p.ToggleTheme() != schema.ThemeDark || p.Theme() != schema.ThemeDark {
		t.Fatalf("failed save must not roll back the theme")
	}
}

func TestThemeToggleAndRestore(t *testing.T) {
	store := persist.NewMemoryStore()
	p := New(store, schema.ThemeLight, nil)
	if p.Theme() != schema.ThemeLight {
		t.Fatalf("expected default light theme")
	}
	if next := p.ToggleTheme(); next != schema.ThemeDark {
		t.Fatalf("toggle theme = %s", next)
	}
	if New(store, schema.ThemeLight, nil).Theme() != schema.ThemeDark {
		t.Fatalf("expected theme to persist")
	}
}

func TestCorruptStateFallsBack(t *testing.T) {
	store := persist.NewMemoryStore()
	_ = store.Save(persist.KeyExpanded, []byte("{"))
	_ = store.Save(persist.KeyTheme, []byte(`"neon"`))
	p := New(store, schema.ThemeDark, nil)
	if len(p.Expanded()) != 0 {
		t.Fatalf("expected empty expanded set")
	}
	if p.Theme() != schema.ThemeLight {
		t.Fatalf("unknown stored theme should normalize to default, got %s", p.Theme())
	}
	snap := p.Snapshot()
	if snap.Theme != schema.ThemeLight || snap.Expanded == nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
