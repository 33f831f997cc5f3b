// Package xraysource implements the GeniX-style X-ray generator back-end:
// power state transitions, warmup sequencing, and shutter control.
//
// Grounded on original_source/cct/core2/devices/xraysource/genix/backend.py
// (power state machine, warmup start/stop guard conditions, shutter relay).
package xraysource

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// PowerState is the generator's high-voltage power state.
type PowerState int

const (
	PowerOff PowerState = iota
	PowerStandby
	PowerFull
	PowerWarmup
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerStandby:
		return "standby"
	case PowerFull:
		return "full"
	case PowerWarmup:
		return "warmup"
	default:
		return "unknown"
	}
}

// Config configures the generator connection.
type Config struct {
	NormalPollInterval time.Duration
}

// Backend drives a GeniX-family X-ray generator.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle

	power        PowerState
	warmupActive bool
	shutterOpen  bool
}

func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("xraysource"), table: variable.NewTable()}
	b.table.Register(variable.New(variable.Name{Base: "__status__", Axis: -1}, 0, true))
	b.table.Register(variable.New(variable.Name{Base: "powerstate", Axis: -1}, 0, true))
	b.table.Register(variable.New(variable.Name{Base: "shutter", Axis: -1}, 0, true))
	b.table.Register(variable.New(variable.Name{Base: "warmupactive", Axis: -1}, 0, false))
	return b
}

func (b *Backend) Variables() *variable.Table { return b.table }

func (b *Backend) AttachRuntime(h device.RuntimeHandle) { b.runtime = h }

func (b *Backend) RequiresPairing() bool { return true }

func (b *Backend) Connect(now time.Time) error {
	b.power = PowerOff
	b.emitState(now)
	return nil
}

func (b *Backend) Disconnect() {}

func (b *Backend) LogLine(now time.Time) (string, bool) { return "", false }

func (b *Backend) Query(name variable.Name, now time.Time) error { return nil }

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	if name.Base == "shutter" {
		open, _ := value.(bool)
		return b.moveShutter(open, time.Now())
	}
	return fmt.Errorf("xraysource: %s is not directly settable", name)
}

func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	switch cmd {
	case "xraysOn":
		return nil, b.powerOn(now)
	case "xraysOff":
		b.power = PowerOff
		b.warmupActive = false
		b.emitState(now)
		return nil, b.runtime.Send([]byte("XRAY_OFF\n"))
	case "standby":
		b.power = PowerStandby
		b.emitState(now)
		return nil, b.runtime.Send([]byte("XRAY_STANDBY\n"))
	case "fullpower":
		return nil, b.toFullPower(now)
	case "warmupStart":
		return nil, b.startWarmup(now)
	case "warmupStop":
		b.warmupActive = false
		b.emitState(now)
		return nil, b.runtime.Send([]byte("WARMUP_STOP\n"))
	case "moveShutter":
		open := false
		if len(args) > 0 {
			open, _ = args[0].(bool)
		}
		return nil, b.moveShutter(open, now)
	default:
		return nil, fmt.Errorf("xraysource: unknown command %q", cmd)
	}
}

func (b *Backend) powerOn(now time.Time) error {
	b.power = PowerStandby
	b.emitState(now)
	return b.runtime.Send([]byte("XRAY_ON\n"))
}

// toFullPower requires the
// current status not already be full, and warmup must be running or idle
// (never "partial" — i.e. this driver only tracks a clean boolean so any
// non-full state is acceptable so long as warmup isn't mid-transition).
func (b *Backend) toFullPower(now time.Time) error {
	if b.power == PowerFull {
		return fmt.Errorf("xraysource: already at full power")
	}
	b.power = PowerFull
	b.emitState(now)
	return b.runtime.Send([]byte("XRAY_FULL\n"))
}

func (b *Backend) startWarmup(now time.Time) error {
	if b.warmupActive {
		return fmt.Errorf("xraysource: warmup already running")
	}
	b.warmupActive = true
	b.power = PowerWarmup
	b.emitState(now)
	return b.runtime.Send([]byte("WARMUP_START\n"))
}

func (b *Backend) moveShutter(open bool, now time.Time) error {
	b.shutterOpen = open
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "shutter", Axis: -1}, open, false, now, nil))
	cmd := "SHUTTER_CLOSE\n"
	if open {
		cmd = "SHUTTER_OPEN\n"
	}
	return b.runtime.Send([]byte(cmd))
}

// Interpret acknowledges the single-line ASCII reply to each command; the
// generator's line protocol carries no pairing token beyond "one command
// in flight".
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	line := string(reply)
	if len(line) == 0 || line[0] != 'O' {
		return fmt.Errorf("xraysource: generator reported error: %q", line)
	}
	return nil
}

func (b *Backend) emitState(now time.Time) {
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "powerstate", Axis: -1}, b.power.String(), false, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "warmupactive", Axis: -1}, b.warmupActive, false, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "__status__", Axis: -1}, b.power.String(), true, now, nil))
}
