// Package vacuum implements the vacuum-gauge back-end: a single pressure
// reading over a framed-ASCII protocol with a modulo-64 checksum, and the
// {No vacuum, Medium vacuum, Vacuum OK} status reclassification.
//
// Grounded on original_source/cct/core2/devices/vacgauge/backend.py (frame
// layout, mantissa*10^(exponent-23) decoding, checksum).
package vacuum

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// Status classifies the pressure reading.
type Status int

const (
	StatusNoVacuum Status = iota
	StatusMediumVacuum
	StatusVacuumOK
)

func (s Status) String() string {
	switch s {
	case StatusNoVacuum:
		return "No vacuum"
	case StatusMediumVacuum:
		return "Medium vacuum"
	case StatusVacuumOK:
		return "Vacuum OK"
	default:
		return "unknown"
	}
}

func classify(pressureMbar float64) Status {
	switch {
	case pressureMbar <= 0.1:
		return StatusVacuumOK
	case pressureMbar <= 1:
		return StatusMediumVacuum
	default:
		return StatusNoVacuum
	}
}

// Config configures the gauge connection.
type Config struct {
	NormalPollInterval time.Duration
}

// Backend drives a vacuum gauge whose single observable is the pressure.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle
}

func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("vacuum"), table: variable.NewTable()}
	b.table.Register(variable.New(variable.Name{Base: "pressure", Axis: -1}, cfg.NormalPollInterval, true))
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
	if name.Base != "pressure" && name.Base != "*" {
		return nil
	}
	return b.runtime.Send(frameRequest())
}

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	return fmt.Errorf("vacuum: %s is not settable", name)
}

func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	return nil, fmt.Errorf("vacuum: unknown command %q", cmd)
}

// Interpret decodes an 11-byte gauge frame:
// [STX, addr, 'M', 'V', mantissa(4 ASCII digits), exponent(2 ASCII digits),
// checksum]; pressure = mantissa * 10^(exponent-23).
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	if len(reply) < 11 {
		return fmt.Errorf("vacuum: short frame (%d bytes)", len(reply))
	}
	if got, want := reply[10], frameChecksum(reply[:10]); got != want {
		return fmt.Errorf("vacuum: checksum mismatch (got %#x, want %#x)", got, want)
	}
	var mantissa int
	for _, c := range reply[4:8] {
		mantissa = mantissa*10 + int(c-'0')
	}
	var exponent int
	for _, c := range reply[8:10] {
		exponent = exponent*10 + int(c-'0')
	}
	pressure := float64(mantissa) * pow10(exponent-23)

	changes := b.table.Update(variable.Name{Base: "pressure", Axis: -1}, pressure, false, now, nil)
	b.runtime.EmitChanges(changes)
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "__status__", Axis: -1}, classify(pressure).String(), false, now, nil))
	return nil
}

func frameRequest() []byte {
	req := []byte{0x02, 1, 'M', 'V', 0}
	req = append(req, frameChecksum(req))
	return req
}

func frameChecksum(b []byte) byte {
	var sum int
	for _, c := range b {
		sum += int(c)
	}
	return byte(sum % 64)
}

func pow10(exp int) float64 {
	if exp >= 0 {
		r := 1.0
		for i := 0; i < exp; i++ {
			r *= 10
		}
		return r
	}
	r := 1.0
	for i := 0; i < -exp; i++ {
		r /= 10
	}
	return r
}
