package device

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/variable"
)

// Transport is the minimal contract a communication worker needs: send a
// frame, and report closure. The concrete transports in internal/transport
// that satisfy it wrap TCP sockets or serial lines; its Modbus client has
// no Send method.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Options configures a Runtime.
type Options struct {
	PollingInterval time.Duration // back-end select timeout
	WatchdogTimeout time.Duration // silence before WatchdogTimeout fires
	QueueSize       int           // to-backend / to-frontend channel capacity
	LogFormat       bool          // whether LogLine is consulted each tick
}

func (o Options) withDefaults() Options {
	if o.PollingInterval <= 0 {
		o.PollingInterval = 200 * time.Millisecond
	}
	if o.WatchdogTimeout <= 0 {
		o.WatchdogTimeout = 10 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	return o
}

// Runtime drives one device's back-end goroutine: the bounded to-backend
// queue, the periodic polling/watchdog/auto-query tick, message pairing for
// protocols that need serialized request/reply, and telemetry collection.
//
// It is grounded on the device back-end loop in the original CCT's
// Device/Device_TCP base classes (_background_worker, _update_variable,
// watchdog suppress/release, soft one-in-flight serialization) and on the
// teacher's internal/kernel.Processor for the channel-with-backpressure
// shape.
type Runtime struct {
	name    string
	backend Backend
	opts    Options
	log     *zap.Logger

	toBackend  chan devproto.ToBackend
	toFrontend chan devproto.ToFrontend

	transport Transport
	paired    bool
	fifo      [][]byte // outstanding sent frames awaiting reply, paired protocol only

	suppressWatchdog bool
	lastMessageAt    time.Time
	startupDone      bool

	sentCount uint64
	recvCount uint64
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRuntime constructs a Runtime for backend, wiring its variable table's
// urgent set into the startup-done check.
func NewRuntime(name string, backend Backend, opts Options, log *zap.Logger) *Runtime {
	opts = opts.withDefaults()
	paired := false
	if p, ok := backend.(Pairing); ok {
		paired = p.RequiresPairing()
	}
	rt := &Runtime{
		name:       name,
		backend:    backend,
		opts:       opts,
		log:        log.Named("device." + name),
		toBackend:  make(chan devproto.ToBackend, opts.QueueSize),
		toFrontend: make(chan devproto.ToFrontend, opts.QueueSize),
		paired:     paired,
		done:       make(chan struct{}),
	}
	if ra, ok := backend.(RuntimeAware); ok {
		ra.AttachRuntime(rt)
	}
	return rt
}

// ToBackend returns the send side of the front-end→back-end queue.
func (r *Runtime) ToBackend() chan<- devproto.ToBackend { return r.toBackend }

// ToFrontend returns the receive side of the back-end→front-end queue.
func (r *Runtime) ToFrontend() <-chan devproto.ToFrontend { return r.toFrontend }

// AttachTransport wires the communication worker's transport for backends
// that send wire frames. Must be called before Run for TCP/serial backends.
func (r *Runtime) AttachTransport(t Transport) { r.transport = t }

// Send enqueues a wire frame to be sent, serializing through the FIFO when
// the backend requires one-in-flight-at-a-time pairing. Backends call this
// from Query/SetVar/Execute.
func (r *Runtime) Send(frame []byte) error {
	if r.transport == nil {
		return fmt.Errorf("device %s: no transport attached", r.name)
	}
	if !r.paired {
		r.sentCount++
		return r.transport.Send(frame)
	}
	r.fifo = append(r.fifo, frame)
	if len(r.fifo) == 1 {
		r.sentCount++
		return r.transport.Send(frame)
	}
	return nil
}

// Run drives the back-end main loop until ctx is cancelled or a fatal
// condition (watchdog timeout, panic) occurs. It recovers from panics in
// Backend methods and reports them as BackendDied, matching the original's
// process-isolation fault model within a single goroutine.
func (r *Runtime) Run(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	defer close(r.done)
	r.startedAt = time.Now()
	r.lastMessageAt = r.startedAt

	defer func() {
		if rec := recover(); rec != nil {
			r.emitFrontend(devproto.BackendDied{
				Err:   fmt.Errorf("panic: %v", rec),
				Trace: string(debug.Stack()),
			})
		}
	}()

	if err := r.backend.Connect(time.Now()); err != nil {
		r.emitFrontend(devproto.BackendDied{Err: fmt.Errorf("connect: %w", err)})
		return
	}
	defer r.backend.Disconnect()

	startNow := time.Now()
	table := r.backend.Variables()
	for _, name := range table.Urgent() {
		if v := table.Get(name); v != nil {
			if _, ok := v.Value(); ok {
				continue
			}
		}
		if err := r.backend.Query(name, startNow); err != nil {
			r.emitFrontend(devproto.VariableError{Name: name, Err: err})
		}
	}

	ticker := time.NewTicker(r.opts.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.toBackend:
			r.handleMessage(msg)
		case now := <-ticker.C:
			if !r.tick(now) {
				return
			}
		}
	}
}

// Stop cancels the runtime and waits for Run to return.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// SuppressWatchdog disables watchdog-timeout detection (e.g. during a long
// exposure the device is legitimately silent through).
func (r *Runtime) SuppressWatchdog() { r.suppressWatchdog = true }

// ReleaseWatchdog re-enables watchdog detection and resets the silence
// clock to now.
func (r *Runtime) ReleaseWatchdog() {
	r.suppressWatchdog = false
	r.lastMessageAt = time.Now()
}

func (r *Runtime) tick(now time.Time) bool {
	table := r.backend.Variables()

	if !r.startupDone && table.AllHaveValues(table.Urgent()) {
		r.startupDone = true
		r.emitFrontend(devproto.StartupDone{})
	}

	if !r.suppressWatchdog && now.Sub(r.lastMessageAt) > r.opts.WatchdogTimeout {
		err := fmt.Errorf("device %s: no message from device in %s", r.name, now.Sub(r.lastMessageAt))
		r.emitFrontend(devproto.WatchdogTimeout{Err: err})
		return false
	}

	for _, name := range table.DueForRefresh(now) {
		if err := r.backend.Query(name, now); err != nil {
			r.emitFrontend(devproto.VariableError{Name: name, Err: err})
		}
	}

	if r.opts.LogFormat {
		if line, ok := r.backend.LogLine(now); ok {
			r.emitFrontend(devproto.LogRecord{Line: line, At: now})
		}
	}
	return true
}

func (r *Runtime) handleMessage(msg devproto.ToBackend) {
	now := time.Now()
	switch m := msg.(type) {
	case devproto.Query:
		if m.Name.Base == "*" {
			table := r.backend.Variables()
			for _, n := range table.DueForRefresh(now) {
				if m.SignalNeeded {
					if v := table.Get(n); v != nil {
						v.RequestSignal()
					}
				}
				if err := r.backend.Query(n, now); err != nil {
					r.emitFrontend(devproto.VariableError{Name: n, Err: err})
				}
			}
			return
		}
		if m.SignalNeeded {
			if v := r.backend.Variables().Get(m.Name); v != nil {
				v.RequestSignal()
			}
		}
		if err := r.backend.Query(m.Name, now); err != nil {
			r.emitFrontend(devproto.VariableError{Name: m.Name, Err: err})
		}
	case devproto.Set:
		if err := r.backend.SetVar(m.Name, m.Value, now); err != nil {
			r.emitFrontend(devproto.VariableError{Name: m.Name, Err: err})
		}
	case devproto.Execute:
		val, err := r.backend.Execute(m.Command, m.Args, now)
		if err != nil {
			r.emitFrontend(devproto.CommandResult{Command: m.Command, Success: false, Message: err.Error()})
			return
		}
		r.emitFrontend(devproto.CommandResult{Command: m.Command, Success: true, Value: val})
	case devproto.Config:
		// Concrete backends that care about runtime config snapshots type-assert
		// themselves via a ConfigReceiver-style optional interface; the generic
		// runtime has nothing to do beyond bookkeeping.
		_ = m
	case devproto.TelemetryRequest:
		r.emitFrontend(devproto.TelemetryReport{Stats: r.stats()})
	case devproto.Exit:
		r.cancel()
	case devproto.Incoming:
		r.lastMessageAt = now
		r.recvCount++
		var sent []byte
		if r.paired && len(r.fifo) > 0 {
			sent = r.fifo[0]
		}
		if err := r.backend.Interpret(sent, m.Data, now); err != nil {
			r.emitFrontend(devproto.BackendDied{Err: fmt.Errorf("communication error: %w", err)})
			r.cancel()
			return
		}
		if r.paired && len(r.fifo) > 0 {
			r.fifo = r.fifo[1:]
			if len(r.fifo) > 0 {
				r.sentCount++
				if err := r.transport.Send(r.fifo[0]); err != nil {
					r.emitFrontend(devproto.BackendDied{Err: fmt.Errorf("transport send: %w", err)})
					r.cancel()
				}
			}
		}
	}
}

func (r *Runtime) stats() devproto.Stats {
	return devproto.Stats{
		QueueLength:      len(r.toBackend),
		MessagesSent:     r.sentCount,
		MessagesReceived: r.recvCount,
		Uptime:           time.Since(r.startedAt),
	}
}

func (r *Runtime) emitFrontend(msg devproto.ToFrontend) {
	select {
	case r.toFrontend <- msg:
	default:
		r.log.Warn("to-frontend queue full, dropping message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// EmitChanges pushes variable.Change values from the table's Update as
// VariableChanged messages. Backends call this after mutating variables
// through their table.
func (r *Runtime) EmitChanges(changes []variable.Change) {
	for _, c := range changes {
		r.emitFrontend(devproto.VariableChanged{Name: c.Name, Value: c.Value})
	}
}

// ReportError surfaces a per-variable device error without disconnecting
// the device.
func (r *Runtime) ReportError(name variable.Name, err error) {
	r.emitFrontend(devproto.VariableError{Name: name, Err: err})
}
