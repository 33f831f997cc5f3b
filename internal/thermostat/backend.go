// Package thermostat implements the recirculating-chiller back-end:
// setpoint, temperature, running, and circulator start/stop.
//
// Grounded on original_source/cct/core2/devices/thermostat/haake_phoenix/
// backend.py (variable set, line-oriented command/reply protocol).
package thermostat

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// Config configures the circulator connection.
type Config struct {
	NormalPollInterval time.Duration
}

// Backend drives a recirculating chiller/thermostat.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle

	pendingSetpoint bool
}

func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("thermostat"), table: variable.NewTable()}
	b.table.Register(variable.New(variable.Name{Base: "setpoint", Axis: -1}, cfg.NormalPollInterval, true))
	b.table.Register(variable.New(variable.Name{Base: "temperature", Axis: -1}, cfg.NormalPollInterval, true))
	b.table.Register(variable.New(variable.Name{Base: "running", Axis: -1}, cfg.NormalPollInterval, true))
	b.table.Register(variable.New(variable.Name{Base: "__status__", Axis: -1}, 0, true))
	return b
}

func (b *Backend) Variables() *variable.Table { return b.table }

func (b *Backend) AttachRuntime(h device.RuntimeHandle) { b.runtime = h }

func (b *Backend) RequiresPairing() bool { return true }

func (b *Backend) Connect(now time.Time) error { return nil }

func (b *Backend) Disconnect() {}

func (b *Backend) LogLine(now time.Time) (string, bool) { return "", false }

func (b *Backend) Query(name variable.Name, now time.Time) error {
	switch name.Base {
	case "setpoint":
		return b.runtime.Send([]byte("RS\r\n"))
	case "temperature":
		return b.runtime.Send([]byte("RT\r\n"))
	case "running":
		return b.runtime.Send([]byte("RM\r\n"))
	default:
		return nil
	}
}

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	switch name.Base {
	case "setpoint":
		t, ok := value.(float64)
		if !ok {
			return fmt.Errorf("thermostat: setpoint must be a number")
		}
		b.pendingSetpoint = true
		return b.runtime.Send([]byte(fmt.Sprintf("WS %0.2f\r\n", t)))
	default:
		return fmt.Errorf("thermostat: %s is not directly settable", name)
	}
}

func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	switch cmd {
	case "startCirculator":
		return nil, b.runtime.Send([]byte("GO\r\n"))
	case "stopCirculator":
		return nil, b.runtime.Send([]byte("ST\r\n"))
	case "setSetpoint":
		if len(args) < 1 {
			return nil, fmt.Errorf("thermostat: setSetpoint requires a temperature argument")
		}
		return nil, b.SetVar(variable.Name{Base: "setpoint", Axis: -1}, args[0], now)
	default:
		return nil, fmt.Errorf("thermostat: unknown command %q", cmd)
	}
}

// Interpret parses a one-line numeric or OK/error reply.
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	line := trimCRLF(reply)
	if len(line) == 0 {
		return fmt.Errorf("thermostat: empty reply")
	}
	isRunningQuery := len(sent) >= 2 && string(sent[:2]) == "RM"
	if f, err := strconv.ParseFloat(line, 64); err == nil && !isRunningQuery {
		// Ambiguous which variable this answers without request-type
		// context; the caller (Runtime) supplies `sent` only as raw
		// bytes, so infer from the originating command's first two
		// characters.
		base := "temperature"
		if len(sent) >= 2 {
			switch string(sent[:2]) {
			case "RS":
				base = "setpoint"
			case "RT":
				base = "temperature"
			}
		}
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: base, Axis: -1}, f, false, now, nil))
		return nil
	}
	switch line {
	case "1", "ON":
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "running", Axis: -1}, true, false, now, nil))
	case "0", "OFF":
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "running", Axis: -1}, false, false, now, nil))
	case "OK":
		b.pendingSetpoint = false
	default:
		return fmt.Errorf("thermostat: unrecognized reply %q", line)
	}
	return nil
}

func trimCRLF(b []byte) string {
	n := len(b)
	for n > 0 && (b[n-1] == '\r' || b[n-1] == '\n') {
		n--
	}
	return string(b[:n])
}
