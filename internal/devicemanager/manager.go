// Package devicemanager implements the name→front-end device registry:
// add/remove lifecycle, startup ordering, and fleet predicates.
//
// Grounded on original_source/cct/core2/instrument/instrument.py's device
// registry (add_device/remove_device, connect-then-wait-for-ready
// ordering, get_device_of_kind helpers), rendered in the teacher's
// internal/kernel map-plus-mutex registry shape.
package devicemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
)

// Kind classifies a registered device for the fleet predicates.
type Kind int

const (
	KindMotor Kind = iota
	KindDetector
	KindSource
	KindVacuum
	KindThermostat
	KindPump
)

// entry bundles a front-end with its kind and the cancel func of the
// context its Runtime runs under.
type entry struct {
	kind     Kind
	frontend *device.Frontend
	cancel   context.CancelFunc
}

// Manager is the registry of all configured devices.
type Manager struct {
	mu  sync.RWMutex
	log *zap.Logger

	devices map[string]*entry
	loop    *device.EventLoop
}

// New constructs an empty Manager driven by the given event loop.
func New(loop *device.EventLoop, log *zap.Logger) *Manager {
	return &Manager{devices: make(map[string]*entry), loop: loop, log: log.Named("devicemanager")}
}

// Add registers a device under name, starts its Runtime in the
// background, and registers its front-end with the event loop. It does
// not block for StartupDone; the front-end reports readiness on the
// device.Observer stream as StateChanged(name, device.Idle).
func (m *Manager) Add(ctx context.Context, name string, kind Kind, frontend *device.Frontend, params device.ConnectParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[name]; exists {
		return fmt.Errorf("devicemanager: %q already registered", name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	frontend.Connect(runCtx, params)
	m.devices[name] = &entry{kind: kind, frontend: frontend, cancel: cancel}
	m.loop.Register(frontend)
	return nil
}

// Remove stops and drops the named device.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.devices[name]
	if !ok {
		return fmt.Errorf("devicemanager: %q not registered", name)
	}
	m.loop.Unregister(name)
	e.frontend.Disconnect()
	e.cancel()
	delete(m.devices, name)
	return nil
}

// Get returns the named device's front-end.
func (m *Manager) Get(name string) (*device.Frontend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[name]
	if !ok {
		return nil, fmt.Errorf("devicemanager: %q not registered", name)
	}
	return e.frontend, nil
}

// ofKind returns the unique device of the given kind, failing if there is
// not exactly one.
func (m *Manager) ofKind(kind Kind, label string) (*device.Frontend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *device.Frontend
	for _, e := range m.devices {
		if e.kind != kind {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("devicemanager: more than one %s device registered", label)
		}
		found = e.frontend
	}
	if found == nil {
		return nil, fmt.Errorf("devicemanager: no %s device registered", label)
	}
	return found, nil
}

// Source returns the unique X-ray source device.
func (m *Manager) Source() (*device.Frontend, error) { return m.ofKind(KindSource, "source") }

// Temperature returns the unique thermostat device.
func (m *Manager) Temperature() (*device.Frontend, error) { return m.ofKind(KindThermostat, "thermostat") }

// Vacuum returns the unique vacuum-gauge device.
func (m *Manager) Vacuum() (*device.Frontend, error) { return m.ofKind(KindVacuum, "vacuum") }

// PeristalticPump returns the unique peristaltic-pump device.
func (m *Manager) PeristalticPump() (*device.Frontend, error) { return m.ofKind(KindPump, "peristaltic pump") }

// Names lists all registered device names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.devices))
	for n := range m.devices {
		out = append(out, n)
	}
	return out
}

// DisconnectAll stops every registered device, used for daemon shutdown
// and for the fleet-wide panic path.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.devices {
		m.loop.Unregister(name)
		e.frontend.Disconnect()
		e.cancel()
	}
	m.devices = make(map[string]*entry)
}

// Panic logs reason and calls DisconnectAll, which stops every device's
// Runtime (waiting for each to return) and empties the registry. It sends
// no motor-stop or shutter-close command, and no device stays connected.
func (m *Manager) Panic(reason string) {
	m.log.Error("fleet-wide panic triggered", zap.String("reason", reason), zap.Time("at", time.Now()))
	m.DisconnectAll()
}
