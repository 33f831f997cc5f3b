// Package devproto defines the message types exchanged between a device
// front-end, its back-end, and (for TCP/serial devices) the communication
// worker that owns the raw socket.
//
// Messages are plain Go structs behind a closed set of concrete types,
// dispatched with a type switch rather than an enum-tagged union, which is
// the idiomatic Go rendering of the originating tagged-union design.
package devproto

import (
	"time"

	"github.com/awacha/cctd/internal/variable"
)

// ToBackend is implemented by every message a front-end (or comm worker) may
// enqueue to a back-end.
type ToBackend interface{ isToBackend() }

// Query requests a variable refresh. Name.Base == "*" queries every
// variable due for refresh.
type Query struct {
	Name         variable.Name
	SignalNeeded bool
}

// Set requests a variable be written on the device.
type Set struct {
	Name  variable.Name
	Value any
}

// Execute requests a back-end command be run.
type Execute struct {
	Command string
	Args    []any
}

// Config delivers a configuration snapshot to the back-end at connect time.
type Config struct {
	Values map[string]any
}

// TelemetryRequest asks the back-end to report its resource statistics.
type TelemetryRequest struct{}

// Exit asks the back-end to shut down cleanly.
type Exit struct{}

// Incoming carries raw bytes read by the communication worker. It holds
// only the reply; Runtime pairs it with the outstanding request for
// backends that require pairing.
type Incoming struct {
	Data []byte
}

func (Query) isToBackend()            {}
func (Set) isToBackend()              {}
func (Execute) isToBackend()          {}
func (Config) isToBackend()           {}
func (TelemetryRequest) isToBackend() {}
func (Exit) isToBackend()             {}
func (Incoming) isToBackend()         {}

// ToFrontend is implemented by every message a back-end may enqueue to its
// front-end.
type ToFrontend interface{ isToFrontend() }

// VariableChanged reports a new cached value for a variable.
type VariableChanged struct {
	Name  variable.Name
	Value any
}

// VariableError reports that a variable's query or set failed without
// necessarily disconnecting the device (a recoverable device error).
type VariableError struct {
	Name variable.Name
	Err  error
}

// TelemetryReport answers a TelemetryRequest.
type TelemetryReport struct {
	Stats Stats
}

// Stats is the resource-usage snapshot a back-end reports on request.
type Stats struct {
	QueueLength      int
	MessagesSent     uint64
	MessagesReceived uint64
	Uptime           time.Duration
}

// LogRecord carries a formatted log line produced by the back-end per its
// configured format string.
type LogRecord struct {
	Line string
	At   time.Time
}

// StartupDone is emitted once every urgent variable has a value.
type StartupDone struct{}

// WatchdogTimeout is emitted when the device has been silent longer than
// the configured watchdog timeout.
type WatchdogTimeout struct {
	Err error
}

// BackendDied is emitted when the back-end actor terminates unexpectedly.
type BackendDied struct {
	Err   error
	Trace string
}

// CommandResult answers an Execute message.
type CommandResult struct {
	Command string
	Success bool
	Message string
	Value   any
}

func (VariableChanged) isToFrontend() {}
func (VariableError) isToFrontend()   {}
func (TelemetryReport) isToFrontend() {}
func (LogRecord) isToFrontend()       {}
func (StartupDone) isToFrontend()     {}
func (WatchdogTimeout) isToFrontend() {}
func (BackendDied) isToFrontend()     {}
func (CommandResult) isToFrontend()   {}
