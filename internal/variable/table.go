package variable

import "time"

// Change describes a reported update, ready to be wrapped in a
// devproto.VariableChanged message by the back-end.
type Change struct {
	Name  Name
	Value any
}

// Table is the per-device variable cache. It is not safe for concurrent
// use; the owning back-end goroutine is the sole mutator and reader.
type Table struct {
	vars  map[Name]*Variable
	order []Name // registration order, for deterministic iteration
}

// NewTable creates an empty variable table.
func NewTable() *Table {
	return &Table{vars: make(map[Name]*Variable)}
}

// Register adds a variable definition. Re-registering the same name
// replaces the definition and discards its cached value; the name keeps
// its original position in registration order.
func (t *Table) Register(v *Variable) {
	if _, ok := t.vars[v.Name]; !ok {
		t.order = append(t.order, v.Name)
	}
	t.vars[v.Name] = v
}

// Get returns the variable definition, or nil if unknown.
func (t *Table) Get(name Name) *Variable {
	return t.vars[name]
}

// Names returns all registered names in registration order.
func (t *Table) Names() []Name {
	out := make([]Name, len(t.order))
	copy(out, t.order)
	return out
}

// Urgent returns the names of all urgent variables.
func (t *Table) Urgent() []Name {
	var out []Name
	for _, n := range t.order {
		if t.vars[n].Urgent {
			out = append(out, n)
		}
	}
	return out
}

// AllHaveValues reports whether every name in names has a cached value.
func (t *Table) AllHaveValues(names []Name) bool {
	for _, n := range names {
		v := t.vars[n]
		if v == nil {
			return false
		}
		if _, ok := v.Value(); !ok {
			return false
		}
	}
	return true
}

// DueForRefresh returns the names whose RefreshTimeout elapsed by now.
func (t *Table) DueForRefresh(now time.Time) []Name {
	var out []Name
	for _, n := range t.order {
		if t.vars[n].DueForRefresh(now) {
			out = append(out, n)
		}
	}
	return out
}

// Update applies the variable-update contract (Variable.Update) and, when a
// change is reported, cascades to every registered variable that declares a
// dependency on name, re-running the supplied derive function for each
// dependent so computed (e.g. raw→physical) values stay in sync. derive may
// be nil if name has no dependents in this table.
func (t *Table) Update(name Name, value any, force bool, now time.Time, derive func(dependent Name) (any, bool)) []Change {
	v := t.vars[name]
	if v == nil {
		return nil
	}
	var changes []Change
	if v.Update(value, force, now) {
		changes = append(changes, Change{Name: name, Value: value})
	}
	if derive == nil {
		return changes
	}
	for _, n := range t.order {
		dep := t.vars[n]
		if dep == nil || n == name {
			continue
		}
		for _, d := range dep.DependsOn {
			if d == name {
				if newVal, ok := derive(n); ok {
					if dep.Update(newVal, true, now) {
						changes = append(changes, Change{Name: n, Value: newVal})
					}
				}
				break
			}
		}
	}
	return changes
}
