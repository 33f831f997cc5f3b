package device

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/variable"
)

// Observer receives events pushed synchronously by the event-dispatcher
// pump (EventLoop.PumpOnce, via Frontend.Pump). Implementations must not
// block.
type Observer interface {
	VariableChanged(device string, name variable.Name, value any)
	VariableError(device string, name variable.Name, err error)
	StateChanged(device string, state State)
	Log(device string, rec devproto.LogRecord)
	Died(device string, err error)
}

// State mirrors the DeviceState enum in the device data model.
type State int

const (
	Disconnected State = iota
	Initializing
	Idle
	Busy
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Initializing:
		return "Initializing"
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ConnectParams is replayed verbatim by Reconnect.
type ConnectParams struct {
	Address string
	Extra   map[string]any
}

// Frontend is the UI/orchestrator-facing half of a device: a read-only
// cache maintained by draining the to-frontend queue, never blocking, never
// doing I/O directly. All mutation requests are fire-and-forget messages;
// confirmations arrive later as VariableChanged events through the Pump.
type Frontend struct {
	name    string
	runtime *Runtime
	log     *zap.Logger

	mu        sync.RWMutex
	cache     map[variable.Name]any
	connected bool
	state     State

	params  ConnectParams
	newFunc func(ConnectParams) (Backend, Transport, error)
}

// NewFrontend wraps runtime with the cache and connection-lifecycle state.
// newFunc recreates the backend+transport pair on Reconnect, replaying the
// ConnectParams saved by Connect.
func NewFrontend(name string, runtime *Runtime, log *zap.Logger, newFunc func(ConnectParams) (Backend, Transport, error)) *Frontend {
	return &Frontend{
		name:    name,
		runtime: runtime,
		log:     log.Named("frontend." + name),
		cache:   make(map[variable.Name]any),
		newFunc: newFunc,
	}
}

// Name returns the device's registered name.
func (f *Frontend) Name() string { return f.name }

// Connected reports whether the device is currently connected.
func (f *Frontend) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// State returns the last known device state.
func (f *Frontend) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Get returns the last cached value for name. Never blocks, never does I/O.
func (f *Frontend) Get(name variable.Name) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.cache[name]
	return v, ok
}

// Keys returns every variable name currently cached.
func (f *Frontend) Keys() []variable.Name {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]variable.Name, 0, len(f.cache))
	for k := range f.cache {
		out = append(out, k)
	}
	return out
}

// Set enqueues a Set then a Query to confirm. Returns immediately; the
// confirmation arrives as a later VariableChanged.
func (f *Frontend) Set(name variable.Name, value any) {
	f.enqueue(devproto.Set{Name: name, Value: value})
	f.enqueue(devproto.Query{Name: name})
}

// Refresh enqueues a Query. If signalNeeded and the value turns out
// unchanged, the back-end still emits one VariableChanged (counter-based).
func (f *Frontend) Refresh(name variable.Name, signalNeeded bool) {
	f.enqueue(devproto.Query{Name: name, SignalNeeded: signalNeeded})
}

// IssueCommand enqueues an Execute; the back-end replies with a
// CommandResult, which Pump drains but does not pass to observers.
func (f *Frontend) IssueCommand(name string, args ...any) {
	f.enqueue(devproto.Execute{Command: name, Args: args})
}

func (f *Frontend) enqueue(msg devproto.ToBackend) {
	select {
	case f.runtime.ToBackend() <- msg:
	default:
		f.log.Warn("to-backend queue full, dropping message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Connect records params and starts the back-end goroutine.
func (f *Frontend) Connect(ctx context.Context, params ConnectParams) {
	f.mu.Lock()
	f.params = params
	f.state = Initializing
	f.mu.Unlock()
	go f.runtime.Run(ctx)
}

// Reconnect replays the last Connect params through newFunc, rebuilding the
// backend and transport, after clearing cached variable values.
func (f *Frontend) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	params := f.params
	f.cache = make(map[variable.Name]any)
	f.connected = false
	f.state = Disconnected
	f.mu.Unlock()

	if f.newFunc == nil {
		return fmt.Errorf("device %s: no reconnect factory configured", f.name)
	}
	backend, transport, err := f.newFunc(params)
	if err != nil {
		return fmt.Errorf("reconnect %s: %w", f.name, err)
	}
	opts := f.runtime.opts
	f.runtime = NewRuntime(f.name, backend, opts, f.log)
	if transport != nil {
		f.runtime.AttachTransport(transport)
	}
	f.Connect(ctx, params)
	return nil
}

// Disconnect stops the back-end, clears the cache, and marks the device
// disconnected.
func (f *Frontend) Disconnect() {
	f.runtime.Stop()
	f.mu.Lock()
	f.cache = make(map[variable.Name]any)
	f.connected = false
	f.state = Disconnected
	f.mu.Unlock()
}

// Pump drains exactly the messages currently queued (a single pass) and
// dispatches them to obs synchronously, updating the cache first. It is
// meant to be called repeatedly from the single event-dispatcher thread's
// periodic pump.
func (f *Frontend) Pump(obs Observer) {
	for {
		select {
		case msg, ok := <-f.runtime.ToFrontend():
			if !ok {
				return
			}
			f.dispatch(msg, obs)
		default:
			return
		}
	}
}

func (f *Frontend) dispatch(msg devproto.ToFrontend, obs Observer) {
	switch m := msg.(type) {
	case devproto.VariableChanged:
		f.mu.Lock()
		f.cache[m.Name] = m.Value
		if m.Name.Base == "__status__" {
			f.applyStatus(m.Value)
		}
		f.connected = true
		f.mu.Unlock()
		if obs != nil {
			obs.VariableChanged(f.name, m.Name, m.Value)
		}
	case devproto.VariableError:
		if obs != nil {
			obs.VariableError(f.name, m.Name, m.Err)
		}
	case devproto.StartupDone:
		f.mu.Lock()
		f.connected = true
		f.state = Idle
		f.mu.Unlock()
		if obs != nil {
			obs.StateChanged(f.name, Idle)
		}
	case devproto.WatchdogTimeout:
		f.mu.Lock()
		f.connected = false
		f.state = Disconnected
		f.cache = make(map[variable.Name]any)
		f.mu.Unlock()
		if obs != nil {
			obs.Died(f.name, m.Err)
		}
	case devproto.BackendDied:
		f.mu.Lock()
		f.connected = false
		f.state = Disconnected
		f.cache = make(map[variable.Name]any)
		f.mu.Unlock()
		if obs != nil {
			obs.Died(f.name, m.Err)
		}
	case devproto.LogRecord:
		if obs != nil {
			obs.Log(f.name, m)
		}
	case devproto.CommandResult:
		// Neither cached nor passed on: Observer has no method for it.
		// internal/command follows a command's effect through the cached
		// variables instead.
	case devproto.TelemetryReport:
		// Dropped: the frontend keeps no telemetry state and Observer has
		// no method for it.
	}
}

func (f *Frontend) applyStatus(value any) {
	s, ok := value.(string)
	if !ok {
		return
	}
	switch s {
	case "Idle":
		f.state = Idle
	case "Busy":
		f.state = Busy
	case "Error":
		f.state = Error
	case "Initializing":
		f.state = Initializing
	case "Disconnected":
		f.state = Disconnected
	}
}
