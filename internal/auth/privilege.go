// Package auth implements the privilege model: a totally-ordered set of
// named privilege levels and the gate that enforces them.
//
// Grounded on original_source/cct/core/instrument/privileges.py
// (PrivilegeLevel registered singleton list, normalized-name lookup,
// is_allowed/get_allowed ordering).
package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PrivilegeLevel is one rung of the privilege ladder; levels are
// comparable by Ordinal.
type PrivilegeLevel struct {
	Name           string
	NormalizedName string
	Ordinal        int
}

// IsAllowed reports whether a caller at level other may act at the
// privilege required by p, i.e. other's ordinal is at least p's.
func (p PrivilegeLevel) IsAllowed(other PrivilegeLevel) bool {
	return other.Ordinal >= p.Ordinal
}

var (
	registryMu sync.Mutex
	registry   []PrivilegeLevel
)

// NormalizeName renders name the way the registry keys it: upper-cased
// with spaces and hyphens folded to underscores.
func NormalizeName(name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// Register adds a new privilege level to the singleton registry, keeping
// it sorted by ordinal. It panics on a duplicate normalized name, mirroring
// the original's ValueError-at-import-time failure mode — privilege levels
// are meant to be fixed package-level declarations, not created at runtime.
func Register(name string, ordinal int) PrivilegeLevel {
	registryMu.Lock()
	defer registryMu.Unlock()
	norm := NormalizeName(name)
	for _, p := range registry {
		if p.NormalizedName == norm {
			panic(fmt.Sprintf("auth: privilege level %q already registered", norm))
		}
	}
	p := PrivilegeLevel{Name: name, NormalizedName: norm, Ordinal: ordinal}
	registry = append(registry, p)
	sort.Slice(registry, func(i, j int) bool { return registry[i].Ordinal < registry[j].Ordinal })
	return p
}

// ByName looks up a registered privilege level by its (case/space/hyphen
// insensitive) name.
func ByName(name string) (PrivilegeLevel, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	norm := NormalizeName(name)
	for _, p := range registry {
		if p.NormalizedName == norm {
			return p, nil
		}
	}
	return PrivilegeLevel{}, fmt.Errorf("auth: unknown privilege level %q", name)
}

// ByOrdinal looks up a registered privilege level by its exact ordinal.
func ByOrdinal(ordinal int) (PrivilegeLevel, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, p := range registry {
		if p.Ordinal == ordinal {
			return p, nil
		}
	}
	return PrivilegeLevel{}, fmt.Errorf("auth: no privilege level with ordinal %d", ordinal)
}

// All returns every registered level, ordinal-ascending.
func All() []PrivilegeLevel {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]PrivilegeLevel, len(registry))
	copy(out, registry)
	return out
}

// Allowed returns the levels that p.IsAllowed accepts.
func Allowed(p PrivilegeLevel) []PrivilegeLevel {
	var out []PrivilegeLevel
	for _, other := range All() {
		if p.IsAllowed(other) {
			out = append(out, other)
		}
	}
	return out
}

// The fixed privilege ladder from the original instrument's privilege
// model, ordinals included, so access checks stay comparable across
// releases.
var (
	Layman              = Register("Layman", 0)
	Beamstop            = Register("Beamstop", 10)
	ConnectDevices      = Register("(Dis)connect Devices", 15)
	Pinhole             = Register("Pinhole", 20)
	ManageProjects      = Register("Manage Projects", 30)
	CalibrateMotors     = Register("Calibrate Motors", 40)
	ConfigureMotors     = Register("Configure Motors", 50)
	ConfigureDevices    = Register("Configure Devices", 55)
	ManageUsers         = Register("Manage Users", 60)
	Superuser           = Register("Superuser", 100)
)

// PrivilegeError reports an action attempted below its required level.
type PrivilegeError struct {
	Required PrivilegeLevel
	Actual   PrivilegeLevel
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("auth: action requires %s, caller has %s", e.Required.Name, e.Actual.Name)
}

// Gate raises a *PrivilegeError if actual does not meet required.
func Gate(required, actual PrivilegeLevel) error {
	if !required.IsAllowed(actual) {
		return &PrivilegeError{Required: required, Actual: actual}
	}
	return nil
}
