// Package pump implements the peristaltic-pump back-end: control mode,
// direction, speed, and dispense operations.
//
// Grounded on original_source/cct/core2/devices/peristalticpump/backend.py
// (control-mode enum, direction/speed/dispense variable set).
package pump

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// ControlMode is the pump's input-source selection.
type ControlMode int

const (
	ControlInternal ControlMode = iota
	ControlExternal
	ControlFootSwitch
	ControlLogicLevel
	ControlLogicLevel2
)

func (c ControlMode) String() string {
	switch c {
	case ControlInternal:
		return "Internal"
	case ControlExternal:
		return "External"
	case ControlFootSwitch:
		return "Foot_Switch"
	case ControlLogicLevel:
		return "Logic_Level"
	case ControlLogicLevel2:
		return "Logic_Level_2"
	default:
		return "unknown"
	}
}

// Config configures the pump connection.
type Config struct {
	NormalPollInterval time.Duration
}

// Backend drives a peristaltic pump.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle
}

func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("pump"), table: variable.NewTable()}
	b.table.Register(variable.New(variable.Name{Base: "controlmode", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "direction", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "speed", Axis: -1}, cfg.NormalPollInterval, true))
	b.table.Register(variable.New(variable.Name{Base: "dispensetime", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "dispensevolume", Axis: -1}, 0, false))
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
	return b.runtime.Send([]byte(fmt.Sprintf("R%s\r", name.Base)))
}

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	switch name.Base {
	case "controlmode", "direction", "speed", "dispensetime", "dispensevolume":
		return b.runtime.Send([]byte(fmt.Sprintf("W%s=%v\r", name.Base, value)))
	default:
		return fmt.Errorf("pump: %s is not directly settable", name)
	}
}

func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	switch cmd {
	case "start":
		return nil, b.runtime.Send([]byte("GO\r"))
	case "stop":
		return nil, b.runtime.Send([]byte("ST\r"))
	case "dispenseStart":
		return nil, b.runtime.Send([]byte("DI\r"))
	case "dispenseWait":
		return nil, b.runtime.Send([]byte("DW\r"))
	default:
		return nil, fmt.Errorf("pump: unknown command %q", cmd)
	}
}

// Interpret resolves a reply against the read/write request that caused it
// (sent, "R<base>\r" or "W<base>=<value>\r"), since the controller's wire
// protocol carries no variable name in the reply itself. Plain command
// acknowledgements (GO/ST/DI/DW) carry no base and are not interpreted
// against the table.
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	line := strings.TrimRight(string(reply), "\r\n")
	if len(line) == 0 {
		return fmt.Errorf("pump: empty reply")
	}
	base := queryBase(sent)
	if base == "" {
		return nil
	}
	switch base {
	case "controlmode", "direction":
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: base, Axis: -1}, line, false, now, nil))
	case "speed", "dispensetime", "dispensevolume":
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return fmt.Errorf("pump: malformed %s reply %q: %w", base, line, err)
		}
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: base, Axis: -1}, f, false, now, nil))
	case "running":
		switch line {
		case "1", "ON":
			b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "running", Axis: -1}, true, false, now, nil))
		case "0", "OFF":
			b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "running", Axis: -1}, false, false, now, nil))
		default:
			return fmt.Errorf("pump: unrecognized running reply %q", line)
		}
	}
	return nil
}

// queryBase recovers the variable base name from a sent R/W request,
// returning "" for plain commands that carry no variable.
func queryBase(sent []byte) string {
	s := strings.TrimRight(string(sent), "\r\n")
	if len(s) < 2 {
		return ""
	}
	switch s[0] {
	case 'R':
		return s[1:]
	case 'W':
		if i := strings.IndexByte(s, '='); i > 1 {
			return s[1:i]
		}
	}
	return ""
}
