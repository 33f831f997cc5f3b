package command

import (
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/store"
)

// ScanRunner is the subset of the scan orchestrator that the scan/scanrel
// commands depend on. Defined here (rather than imported from
// internal/orchestrator) to avoid a command<->orchestrator import cycle;
// the orchestrator package implements it.
type ScanRunner interface {
	StartScan(motorName string, rangeMin, rangeMax float64, steps int, countingTime float64, comment string, relative bool) (int, error)
	StopScan()
	// ScanStatus reports whether the scan identified by id has finished,
	// and if so whether it completed successfully. Polled from Tick since
	// the orchestrator's own progress/finished signals are delivered to
	// its configured observer, not to the command that started it.
	ScanStatus(id int) (done bool, success bool, current, total int)
}

// BeamstopConfig names the two motors that carry the beamstop and their
// stored in/out positions: the `beamstop({in,out})` command drives both
// axes in sequence to the matching stored position.
type BeamstopConfig struct {
	MotorX, MotorY string
	InX, InY       float64
	OutX, OutY     float64
}

// Env is the shared context every command operates against: the device
// registry, named-motor resolution table, sample store, flags, and script
// namespace. It replaces the Python Instrument god-object referenced via
// self.instrument, per the "global singletons" design note — an explicit
// value passed to every Command.Initialize/Tick call instead.
type Env struct {
	Devices  *devicemanager.Manager
	Motors   map[string]store.MotorRef
	Samples  *store.SampleStore
	Flags    *FlagSet
	Vars     *Namespace
	Scan     ScanRunner
	Beamstop BeamstopConfig
	Log      *zap.Logger
}

// MotorRef resolves a script-level motor name to its device+axis pair.
func (e *Env) MotorRef(name string) (store.MotorRef, bool) {
	ref, ok := e.Motors[name]
	return ref, ok
}

// Terminator is the capability surface the interpreter exposes to a
// running Command: one of the three terminal actions (exactly one must be
// called to end a command's execution) plus the two progress-reporting
// events. It replaces the Python base class's
// finished/failed/goto/progress/message signals.
type Terminator interface {
	Finish(value any)
	Fail(message string)
	Jump(label string, gosub bool)
	Progress(message string, current, total int)
	Message(message string)
}

// Command is a reusable scripting building block. Initialize begins
// execution and may call exactly one of Terminator's terminal methods
// synchronously (for instantaneous commands); if it does not, the
// interpreter calls Tick every TimerInterval until one of them fires.
// TimerInterval of zero disables ticking — such a command must finish
// synchronously from Initialize.
type Command interface {
	Name() string
	Description() string
	Arguments() []Argument
	TimerInterval() time.Duration
	Initialize(env *Env, term Terminator, args []any) error
	Tick(env *Env, term Terminator, now time.Time)
	// Stop is called when the interpreter is asked to cancel a running
	// command; it should request whatever device-level stop applies and
	// may call term.Fail itself.
	Stop(env *Env, term Terminator)
}

// Base supplies no-op Tick/Stop so concrete commands only need to override
// what they actually use — mirroring how the Python Command base class
// gives every hook (timerEvent, stop, finalize) a default no-op.
type Base struct {
	ArgList  []Argument
	Interval time.Duration
}

func (b Base) Arguments() []Argument        { return b.ArgList }
func (b Base) TimerInterval() time.Duration { return b.Interval }
func (b Base) Tick(*Env, Terminator, time.Time) {}
func (b Base) Stop(*Env, Terminator)            {}
