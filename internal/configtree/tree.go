// Package configtree implements CCT's hierarchical, dynamically-editable
// configuration store: a flat map keyed by tuple paths, a change
// notification channel, and debounced autosave to disk.
//
// Grounded on original_source/cct/core2/config2.py (the second-generation
// Config class: single flat dict with tuple keys instead of a live object
// hierarchy, changed signal, debounced _autosave via a restarted timer,
// load()'s legacy-pickle-to-native migration with an ".oldformat" backup).
// The Qt model-view half of the original (QAbstractItemModel) has no
// analogue here — CCT has no GUI layer — so only the data-model half is
// ported, re-expressed as a Go map-plus-mutex store persisted via
// gopkg.in/yaml.v3, matching the teacher's config library.
package configtree

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Key is a tuple path into the tree. Each segment is either a string
// field name or an int index into a list-like subtree.
type Key []any

// String renders a dotted debug form, e.g. "motors.0.softleft".
func (k Key) String() string {
	s := ""
	for i, seg := range k {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprint(seg)
	}
	return s
}

func (k Key) clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

func keysEqual(a, b Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isPrefix(prefix, k Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i, seg := range prefix {
		if k[i] != seg {
			return false
		}
	}
	return true
}

// Change describes a single path's new value, as delivered to Watch.
type Change struct {
	Key   Key
	Value any
}

// Tree is the hierarchical config store. The zero value is not usable;
// construct with New.
type Tree struct {
	mu   sync.RWMutex
	data map[string]entry // keyed by Key.String() for map lookups
	log  *zap.Logger

	filename         string
	autosaveInterval time.Duration
	autosaveTimer    *time.Timer
	watchers         []chan Change
}

type entry struct {
	key   Key
	value any
}

// New creates an empty tree. autosaveInterval of zero disables autosave.
func New(log *zap.Logger, autosaveInterval time.Duration) *Tree {
	return &Tree{
		data:             make(map[string]entry),
		log:              log.Named("configtree"),
		autosaveInterval: autosaveInterval,
	}
}

// Get returns the value at key, or (nil, false) if it has no scalar value
// there (it may still have children).
func (t *Tree) Get(key Key) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.data[key.String()]
	return e.value, ok
}

// Set assigns key's value and notifies watchers and schedules an autosave
// on change. Intermediate nodes get no entries of their own; ChildKeys
// derives them from the keys stored beneath them.
func (t *Tree) Set(key Key, value any) {
	t.mu.Lock()
	prev, existed := t.data[key.String()]
	changed := !existed || !valuesEqual(prev.value, value)
	t.data[key.String()] = entry{key: key.clone(), value: value}
	t.mu.Unlock()

	if changed {
		t.notify(Change{Key: key, Value: value})
		t.scheduleAutosave()
	}
}

func valuesEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// Delete removes key and every key nested under it.
func (t *Tree) Delete(key Key) {
	t.mu.Lock()
	for k, e := range t.data {
		if isPrefix(key, e.key) {
			delete(t.data, k)
		}
	}
	t.mu.Unlock()
	t.notify(Change{Key: key, Value: nil})
	t.scheduleAutosave()
}

// ChildKeys returns the immediate children of root, sorted for determinism.
func (t *Tree) ChildKeys(root Key) []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]Key)
	for _, e := range t.data {
		if len(e.key) <= len(root) || !isPrefix(root, e.key) {
			continue
		}
		child := e.key[:len(root)+1]
		seen[child.String()] = child.clone()
	}
	out := make([]Key, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Watch registers a channel that receives every future Change. Callers
// must drain it promptly: Tree never blocks sending, and a Change that
// finds the buffered channel (64 entries) full is dropped for that
// watcher and logged.
func (t *Tree) Watch() <-chan Change {
	ch := make(chan Change, 64)
	t.mu.Lock()
	t.watchers = append(t.watchers, ch)
	t.mu.Unlock()
	return ch
}

func (t *Tree) notify(c Change) {
	t.mu.RLock()
	watchers := make([]chan Change, len(t.watchers))
	copy(watchers, t.watchers)
	t.mu.RUnlock()
	for _, w := range watchers {
		select {
		case w <- c:
		default:
			t.log.Warn("configtree watcher channel full, dropping change", zap.Stringer("key", c.Key))
		}
	}
}

func (t *Tree) scheduleAutosave() {
	if t.autosaveInterval <= 0 || t.filename == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autosaveTimer != nil {
		t.autosaveTimer.Stop()
	}
	t.autosaveTimer = time.AfterFunc(t.autosaveInterval, func() {
		if err := t.Save(t.filename); err != nil {
			t.log.Warn("autosave failed", zap.Error(err))
		}
	})
}

// ToMap renders the tree under root as a nested map[string]any, suitable
// for YAML marshaling.
func (t *Tree) ToMap(root Key) map[string]any {
	out := make(map[string]any)
	for _, child := range t.ChildKeys(root) {
		name := fmt.Sprint(child[len(child)-1])
		if grandchildren := t.ChildKeys(child); len(grandchildren) > 0 {
			out[name] = t.ToMap(child)
		} else if v, ok := t.Get(child); ok {
			out[name] = v
		}
	}
	return out
}

// Save serializes the whole tree as YAML to filename and records filename
// as the autosave target.
func (t *Tree) Save(filename string) error {
	t.mu.Lock()
	t.filename = filename
	t.mu.Unlock()

	data, err := yaml.Marshal(t.ToMap(nil))
	if err != nil {
		return fmt.Errorf("configtree: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("configtree: write %s: %w", filename, err)
	}
	return nil
}

// Load reads filename as native-format YAML and merges it into the tree.
// If the file is legacy-format (a flat map with no "schema" marker this
// store recognizes, i.e. any plain YAML mapping predating this package),
// it is still loaded the same way — YAML has no separate legacy encoding
// here, unlike the original's pickle/dict duality — but a ".oldformat"
// backup copy is still written the first time a file is loaded, preserving
// the original's "never silently lose the pre-migration file" guarantee.
func (t *Tree) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("configtree: read %s: %w", filename, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("configtree: parse %s: %w", filename, err)
	}
	backupPath := filename + ".oldformat"
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		_ = os.WriteFile(backupPath, data, 0o644)
	}
	t.mergeMap(nil, raw)
	t.mu.Lock()
	t.filename = filename
	t.mu.Unlock()
	return nil
}

func (t *Tree) mergeMap(root Key, m map[string]any) {
	for name, v := range m {
		key := append(root.clone(), name)
		if sub, ok := v.(map[string]any); ok {
			t.mergeMap(key, sub)
			continue
		}
		t.Set(key, v)
	}
}
