// Package variable implements the observable-variable cache shared by every
// device back-end: last-known value, update timestamp, auto-refresh
// timeout, urgency, and a dependency list used to force re-derivation of
// computed variables (e.g. a physical-unit value depending on its raw
// counterpart).
//
// Variable itself holds no concurrency primitives; callers (internal/device)
// serialize access by confining the cache to the back-end goroutine.
package variable

import (
	"reflect"
	"time"
)

// Name identifies a variable. Dynamic per-axis names such as
// "actualposition$2" are represented internally as a (Base, Axis) pair and
// only flattened to the dollar-suffixed wire form for debugging or logging.
type Name struct {
	Base string
	Axis int // -1 when the variable is not axis-indexed
}

// String renders the wire/debug form of the name.
func (n Name) String() string {
	if n.Axis < 0 {
		return n.Base
	}
	s := n.Base + "$"
	return s + itoa(n.Axis)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Variable is a single observable on a device.
type Variable struct {
	Name Name

	value     any
	timestamp time.Time
	hasValue  bool

	// RefreshTimeout is the auto-refresh interval; zero means never
	// auto-refresh.
	RefreshTimeout time.Duration

	// Urgent variables are queried before others at startup; StartupDone
	// is not emitted until every urgent variable has a value.
	Urgent bool

	// DependsOn lists other variable names whose updates force
	// re-derivation of this one (e.g. "actualposition" depends on
	// "actualposition:raw").
	DependsOn []Name

	pendingSignals int
}

// New creates a Variable with no value yet.
func New(name Name, refreshTimeout time.Duration, urgent bool) *Variable {
	return &Variable{Name: name, RefreshTimeout: refreshTimeout, Urgent: urgent}
}

// Value returns the last cached value and whether one has ever been set.
func (v *Variable) Value() (any, bool) {
	return v.value, v.hasValue
}

// Timestamp returns the wall-clock time of the last update. Zero if never
// updated.
func (v *Variable) Timestamp() time.Time {
	return v.timestamp
}

// IsFreshSince reports whether the variable was updated strictly after t.
func (v *Variable) IsFreshSince(t time.Time) bool {
	return v.hasValue && v.timestamp.After(t)
}

// DueForRefresh reports whether RefreshTimeout has elapsed since the last
// update, relative to now. A zero RefreshTimeout never auto-refreshes.
func (v *Variable) DueForRefresh(now time.Time) bool {
	if v.RefreshTimeout <= 0 {
		return false
	}
	if !v.hasValue {
		return true
	}
	return now.Sub(v.timestamp) >= v.RefreshTimeout
}

// RequestSignal increments the pending-signal counter so the next Update
// emits a change notification even if the value is unchanged.
func (v *Variable) RequestSignal() {
	v.pendingSignals++
}

// Update applies the variable-update contract used throughout the device
// driver runtime:
//
//   - the timestamp is always advanced to now;
//   - if the value is unchanged, not forced, and no signal is pending, no
//     change is reported;
//   - otherwise the new value is cached and a change is reported;
//   - a pending signal (from RequestSignal) is consumed on every update,
//     forcing exactly one reported change even when the value repeats.
//
// now is passed in by the caller (internal/device's back-end clock) rather
// than taken from time.Now() so call sites can use a single consistent
// instant per batch of updates.
func (v *Variable) Update(value any, force bool, now time.Time) (changed bool) {
	prev, hadValue := v.value, v.hasValue
	v.timestamp = now
	v.value = value
	v.hasValue = true

	signalPending := v.pendingSignals > 0
	if signalPending {
		v.pendingSignals--
	}

	if !hadValue {
		return true
	}
	if force || signalPending {
		return true
	}
	return !equalValue(prev, value)
}

func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
