// Package detector implements the Pilatus-style area-detector back-end:
// trim/expose/stopexposure, per-gain threshold validation, and the
// {Disconnected, Idle, Trimming, Exposing, Stopping} state machine.
//
// Grounded on original_source/cct/core2/devices/detector/pilatus/backend.py
// (camserver line protocol, gain-dependent threshold table, per-image
// "Image path" notifications) and the teacher's internal/escalation
// state-machine shape (fmt.Stringer state enum, state+timestamp struct).
package detector

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// State is the detector's operating state.
type State uint8

const (
	StateDisconnected State = iota
	StateIdle
	StateTrimming
	StateExposing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateIdle:
		return "Idle"
	case StateTrimming:
		return "Trimming"
	case StateExposing:
		return "Exposing"
	case StateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Gain is a Pilatus threshold gain setting, each with its own valid
// threshold range in eV.
type Gain int

const (
	GainLow Gain = iota
	GainMid
	GainHigh
)

func (g Gain) String() string {
	switch g {
	case GainLow:
		return "low"
	case GainMid:
		return "mid"
	case GainHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseGain maps a case-insensitive gain name to its Gain value, for
// callers (e.g. the trim command) that only have the wire/script string.
func ParseGain(s string) (Gain, bool) {
	switch strings.ToLower(s) {
	case "low":
		return GainLow, true
	case "mid":
		return GainMid, true
	case "high":
		return GainHigh, true
	default:
		return 0, false
	}
}

// thresholdRange returns the valid [min, max] threshold in eV for gain.
func thresholdRange(g Gain) (min, max int, ok bool) {
	switch g {
	case GainLow:
		return 6685, 20202, true
	case GainMid:
		return 4425, 14328, true
	case GainHigh:
		return 3814, 11614, true
	default:
		return 0, 0, false
	}
}

// ExposureRequest describes one submitted exposure.
type ExposureRequest struct {
	Filename string
	ExpTime  float64
	NImages  int
	Period   float64
}

// Config configures one camserver connection.
type Config struct {
	NormalPollInterval time.Duration
}

// Backend drives a Pilatus-family detector over the camserver line protocol.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle

	state        State
	pending      *ExposureRequest
	imagesLeft   int
	imagesTotal  int
}

// NewBackend constructs a detector back-end with its variable schema.
func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("detector"), table: variable.NewTable()}
	b.table.Register(variable.New(variable.Name{Base: "__status__", Axis: -1}, 0, true))
	b.table.Register(variable.New(variable.Name{Base: "gain", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "threshold", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "nimages", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "exptime", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "lastimage", Axis: -1}, 0, false))
	b.table.Register(variable.New(variable.Name{Base: "imagesreceived", Axis: -1}, 0, false))
	return b
}

func (b *Backend) Variables() *variable.Table { return b.table }

func (b *Backend) AttachRuntime(h device.RuntimeHandle) { b.runtime = h }

func (b *Backend) RequiresPairing() bool { return true }

func (b *Backend) Connect(now time.Time) error {
	b.state = StateIdle
	b.setStatus(now)
	return nil
}

func (b *Backend) Disconnect() { b.state = StateDisconnected }

func (b *Backend) LogLine(now time.Time) (string, bool) { return "", false }

func (b *Backend) Query(name variable.Name, now time.Time) error { return nil }

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	return fmt.Errorf("detector: %s is not directly settable, use trim/expose", name)
}

func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	switch cmd {
	case "trim":
		if b.state != StateIdle {
			return nil, fmt.Errorf("detector: trim refused, not Idle (state=%s)", b.state)
		}
		threshold, _ := args[0].(int)
		gain, _ := args[1].(Gain)
		min, max, ok := thresholdRange(gain)
		if !ok {
			return nil, fmt.Errorf("detector: unknown gain %v", gain)
		}
		if threshold < min || threshold > max {
			return nil, fmt.Errorf("detector: threshold %d eV out of range [%d, %d] for gain %s", threshold, min, max, gain)
		}
		b.state = StateTrimming
		b.setStatus(now)
		return nil, b.runtime.Send([]byte(fmt.Sprintf("SetThreshold %s %d\n", gain, threshold)))
	case "expose":
		return nil, b.startExpose(args, now)
	case "exposemulti":
		return nil, b.startExpose(args, now)
	case "stopexposure":
		if b.state != StateExposing {
			return nil, nil
		}
		b.state = StateStopping
		b.setStatus(now)
		return nil, b.runtime.Send([]byte("K\n"))
	default:
		return nil, fmt.Errorf("detector: unknown command %q", cmd)
	}
}

func (b *Backend) startExpose(args []any, now time.Time) error {
	if b.state != StateIdle {
		return fmt.Errorf("detector: expose refused, not Idle (state=%s)", b.state)
	}
	req := ExposureRequest{}
	if len(args) > 0 {
		req.Filename, _ = args[0].(string)
	}
	if len(args) > 1 {
		req.ExpTime, _ = args[1].(float64)
	}
	req.NImages = 1
	if len(args) > 2 {
		if n, ok := args[2].(int); ok {
			req.NImages = n
		}
	}
	if len(args) > 3 {
		req.Period, _ = args[3].(float64)
	} else {
		req.Period = req.ExpTime
	}
	b.pending = &req
	b.imagesLeft = req.NImages
	b.imagesTotal = req.NImages
	b.state = StateExposing
	b.setStatus(now)
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "nimages", Axis: -1}, req.NImages, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "exptime", Axis: -1}, req.ExpTime, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "imagesreceived", Axis: -1}, 0, true, now, nil))
	return b.runtime.Send([]byte(fmt.Sprintf("ExpMulti %s %g %g\n", req.Filename, req.ExpTime, req.Period)))
}

// Interpret handles one line of camserver reply text (forwarded from the
// line-delimited transport as the "reply" byte slice). Image-complete
// lines decrement the expected-image counter; the exposure finishes only
// when both the device reports done and every expected image arrived,
// matching the expose/exposemulti contract.
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	line := string(reply)
	switch {
	case b.state == StateTrimming && isCamserverOK(line):
		b.state = StateIdle
		b.setStatus(now)
	case b.state == StateExposing && isImagePath(line):
		b.imagesLeft--
		received := b.imagesTotal - b.imagesLeft
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "lastimage", Axis: -1}, line, true, now, nil))
		b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "imagesreceived", Axis: -1}, received, true, now, nil))
		if b.imagesLeft <= 0 {
			b.state = StateIdle
			b.pending = nil
			b.setStatus(now)
		}
	case (b.state == StateExposing || b.state == StateStopping) && isCamserverOK(line):
		if b.imagesLeft <= 0 {
			b.state = StateIdle
			b.pending = nil
			b.setStatus(now)
		}
	}
	return nil
}

func isCamserverOK(line string) bool {
	return len(line) > 0 && (line[0] == '1' || line[0] == '7')
}

func isImagePath(line string) bool {
	return len(line) > 0 && line[0] == '7' && len(line) > 20
}

func (b *Backend) setStatus(now time.Time) {
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "__status__", Axis: -1}, b.state.String(), true, now, nil))
}
