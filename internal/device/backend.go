package device

import (
	"time"

	"github.com/awacha/cctd/internal/variable"
)

// Backend is implemented by every concrete device driver (TMCM motor
// controller, Pilatus detector, GeniX source, vacuum gauge, thermostat,
// pump). Runtime owns scheduling, queues, the watchdog, and message
// pairing; Backend owns only device semantics.
type Backend interface {
	// Variables returns the variable table this backend maintains. Called
	// once at construction time by Runtime.
	Variables() *variable.Table

	// Connect performs whatever handshake the device needs once the
	// transport is up (e.g. seeding soft limits from a position file). It
	// runs before any Query/Set/Execute call.
	Connect(now time.Time) error

	// Disconnect releases device-side resources. The variable table is
	// cleared by Runtime after this returns.
	Disconnect()

	// Query satisfies a Query(name) request. If name.Base == "*" the
	// backend should refresh whatever it judges due; Runtime itself also
	// tracks per-variable RefreshTimeout and calls Query per-name for
	// those, so backends may treat "*" as a cheap no-op when they have
	// nothing extra to batch.
	Query(name variable.Name, now time.Time) error

	// SetVar satisfies a Set(name, value) request.
	SetVar(name variable.Name, value any, now time.Time) error

	// Execute satisfies an Execute(cmd, args) request and returns the
	// value reported in the resulting CommandResult.
	Execute(cmd string, args []any, now time.Time) (any, error)

	// Interpret pairs an inbound frame with the outstanding request it
	// answers (nil sent if the backend does not use request/reply
	// pairing) and applies whatever variable updates result.
	Interpret(sent []byte, reply []byte, now time.Time) error

	// LogLine optionally formats a status line for the to-frontend Log
	// channel, called once per idle tick. ok is false to emit nothing.
	LogLine(now time.Time) (line string, ok bool)
}

// RuntimeHandle is the capability surface Runtime exposes back to a Backend:
// sending outbound wire frames through the pairing FIFO, and reporting
// variable changes or per-variable device errors (reported per-variable,
// does not necessarily disconnect) outside of Query/SetVar/Execute's own
// return value.
type RuntimeHandle interface {
	Send(frame []byte) error
	EmitChanges(changes []variable.Change)
	ReportError(name variable.Name, err error)
}

// RuntimeAware is implemented by every backend that talks to its device
// over a wire protocol (motor, detector, source, vacuum gauge). Runtime
// calls AttachRuntime once at construction.
type RuntimeAware interface {
	AttachRuntime(RuntimeHandle)
}

// Pairing is implemented by backends whose wire protocol requires
// serialized one-in-flight-at-a-time request/reply pairing (TMCL, Pilatus).
// Runtime holds the FIFO of outstanding sent frames; the backend calls
// Runtime.Send to enqueue and physically transmit when possible.
type Pairing interface {
	// RequiresPairing reports whether Runtime should serialize sends
	// through the FIFO at all (false for fire-and-forget protocols).
	RequiresPairing() bool
}
