package motor

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

// convKind classifies how an axis parameter's raw value maps to its
// physical companion.
type convKind int

const (
	convNone convKind = iota
	convPosition
	convSpeed
	convAccel
	convCurrent
)

type paramInfo struct {
	param AxisParameter
	kind  convKind
}

var axisParams = map[string]paramInfo{
	"targetposition":        {APTargetPosition, convPosition},
	"actualposition":        {APActualPosition, convPosition},
	"targetspeed":           {APTargetSpeed, convSpeed},
	"actualspeed":           {APActualSpeed, convSpeed},
	"maxspeed":              {APMaximumPositioningSpeed, convSpeed},
	"maxacceleration":       {APMaximumAcceleration, convAccel},
	"actualacceleration":    {APActualAcceleration, convAccel},
	"maxcurrent":            {APAbsoluteMaxCurrent, convCurrent},
	"standbycurrent":        {APStandbyCurrent, convCurrent},
	"leftswitchstatus":      {APLeftLimitSwitchStatus, convNone},
	"rightswitchstatus":     {APRightLimitSwitchStatus, convNone},
	"leftswitchenable":      {APLeftLimitSwitchDisable, convNone}, // stored inverted
	"rightswitchenable":     {APRightLimitSwitchDisable, convNone},
	"load":                  {APLoad, convNone},
	"drivererror":           {APDriverError, convNone},
	"rampmode":              {APRampMode, convNone},
	"pulsedivisor":          {APPulseDivisor, convNone},
	"rampdivisor":           {APRampDivisor, convNone},
	"microstepresolution":   {APMicrostepResolution, convNone},
	"freewheelingdelay":     {APFreewheelingDelay, convNone},
	"targetpositionreached": {APTargetPositionReached, convNone},
}

// motionRelevant lists the base variable names whose query interval is
// boosted to MotionPollInterval while a MotionRecord exists.
var motionRelevant = []string{
	"actualposition", "actualspeed", "targetpositionreached",
	"leftswitchstatus", "rightswitchstatus", "load", "targetspeed",
	"rampmode", "actualacceleration",
}

// MotionRecord tracks one in-flight move. Only one axis per controller
// may have a MotionRecord at a time.
type MotionRecord struct {
	Axis           int
	Direction      string // "left" or "right"
	Target         float64
	CmdEnqueuedAt  time.Time
	CmdAckAt       time.Time
	StopEnqueuedAt time.Time
	StopAckAt      time.Time
}

// Config configures one TMCM controller instance.
type Config struct {
	Address            byte
	NumAxes            int
	Converters         []UnitConverter // len == NumAxes
	SoftLimitPath      string
	NormalPollInterval time.Duration
	MotionPollInterval time.Duration
}

// Backend drives a TMCM3110/TMCM6110-family stepper controller over TMCL.
type Backend struct {
	cfg Config
	log *zap.Logger

	table   *variable.Table
	runtime device.RuntimeHandle

	motion *MotionRecord

	// lastSoftLimits mirrors the on-disk file contents so a motion-end
	// persist can rewrite every axis, not just the one that moved.
	lastSoftLimits []AxisLimits
}

// NewBackend constructs a TMCM back-end and registers its full variable
// schema (every base variable × axis, plus :raw companions for unit-bearing
// ones).
func NewBackend(cfg Config, log *zap.Logger) *Backend {
	b := &Backend{cfg: cfg, log: log.Named("motor"), table: variable.NewTable()}
	for axis := 0; axis < cfg.NumAxes; axis++ {
		for base, info := range axisParams {
			phys := variable.New(variable.Name{Base: base, Axis: axis}, cfg.NormalPollInterval, base == "actualposition")
			if info.kind != convNone {
				raw := variable.New(variable.Name{Base: base + ":raw", Axis: axis}, 0, false)
				phys.DependsOn = []variable.Name{raw.Name}
				b.table.Register(raw)
			}
			b.table.Register(phys)
		}
		b.table.Register(variable.New(variable.Name{Base: "softleft", Axis: axis}, 0, false))
		b.table.Register(variable.New(variable.Name{Base: "softright", Axis: axis}, 0, false))
		b.table.Register(variable.New(variable.Name{Base: "moving", Axis: axis}, 0, false))
		b.table.Register(variable.New(variable.Name{Base: "movestartposition", Axis: axis}, 0, false))
		b.table.Register(variable.New(variable.Name{Base: "lastmovewassuccessful", Axis: axis}, 0, false))
	}
	b.table.Register(variable.New(variable.Name{Base: "__status__", Axis: -1}, 0, true))
	b.table.Register(variable.New(variable.Name{Base: "__auxstatus__", Axis: -1}, 0, false))
	return b
}

func (b *Backend) Variables() *variable.Table { return b.table }

func (b *Backend) AttachRuntime(h device.RuntimeHandle) { b.runtime = h }

func (b *Backend) RequiresPairing() bool { return true }

// Connect seeds soft limits and positions from the soft-limit file at
// connect time, informing the back-end of the last known position before
// any live query completes.
func (b *Backend) Connect(now time.Time) error {
	b.table.Get(variable.Name{Base: "__status__", Axis: -1}).Update("Initializing", true, now)
	if b.cfg.SoftLimitPath == "" {
		return nil
	}
	axes, err := LoadSoftLimits(b.cfg.SoftLimitPath)
	if err != nil {
		return nil // absent file is not fatal; limits stay unset until configured
	}
	b.lastSoftLimits = axes
	for _, a := range axes {
		if a.Index < 0 || a.Index >= b.cfg.NumAxes {
			continue
		}
		b.table.Get(variable.Name{Base: "softleft", Axis: a.Index}).Update(a.Left, true, now)
		b.table.Get(variable.Name{Base: "softright", Axis: a.Index}).Update(a.Right, true, now)
		b.table.Get(variable.Name{Base: "actualposition", Axis: a.Index}).Update(a.Position, true, now)
	}
	return nil
}

func (b *Backend) Disconnect() {}

func (b *Backend) LogLine(now time.Time) (string, bool) { return "", false }

func baseAndAxisSuffix(n variable.Name) (base string, isRaw bool) {
	base = n.Base
	if strings.HasSuffix(base, ":raw") {
		return strings.TrimSuffix(base, ":raw"), true
	}
	return base, false
}

func (b *Backend) Query(name variable.Name, now time.Time) error {
	if name.Base == "*" {
		return nil
	}
	base, _ := baseAndAxisSuffix(name)
	info, ok := axisParams[base]
	if !ok {
		return nil // softleft/softright/moving/etc. are not wire-backed
	}
	req := Request{Address: b.cfg.Address, Command: InstrGAP, Type: byte(info.param), Bank: byte(name.Axis)}
	return b.runtime.Send(Pack(req))
}

func (b *Backend) SetVar(name variable.Name, value any, now time.Time) error {
	base, _ := baseAndAxisSuffix(name)
	if base == "softleft" || base == "softright" {
		v := b.table.Get(name)
		if v == nil {
			return fmt.Errorf("unknown variable %s", name)
		}
		changes := b.table.Update(name, value, false, now, nil)
		b.runtime.EmitChanges(changes)
		return nil
	}
	info, ok := axisParams[base]
	if !ok {
		return fmt.Errorf("%s is not settable", name)
	}
	raw, err := b.physToRaw(name.Axis, base, info.kind, value)
	if err != nil {
		return err
	}
	req := Request{Address: b.cfg.Address, Command: InstrSAP, Type: byte(info.param), Bank: byte(name.Axis), Value: int32(raw)}
	return b.runtime.Send(Pack(req))
}

func (b *Backend) physToRaw(axis int, base string, kind convKind, value any) (int, error) {
	conv := b.cfg.Converters[axis]
	switch kind {
	case convPosition:
		return conv.PositionToRaw(toFloat(value)), nil
	case convSpeed:
		return conv.SpeedToRaw(toFloat(value))
	case convAccel:
		return conv.AccelToRaw(toFloat(value))
	case convCurrent:
		return conv.CurrentToRaw(toFloat(value))
	default:
		switch base {
		case "leftswitchenable", "rightswitchenable":
			if toBool(value) {
				return 0, nil // enable ⇒ disable-flag clear
			}
			return 1, nil
		}
		if bv, ok := value.(bool); ok {
			if bv {
				return 1, nil
			}
			return 0, nil
		}
		return toInt(value), nil
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	default:
		return 0
	}
}

func toInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case float64:
		return int(x)
	default:
		return 0
	}
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func decodeSentRequest(frame []byte) Request {
	return Request{
		Address: frame[0],
		Command: Instruction(frame[1]),
		Type:    frame[2],
		Bank:    frame[3],
	}
}

// Interpret pairs a reply with the request it answers and applies the
// resulting variable updates, running stop-detection after every
// motion-relevant update.
func (b *Backend) Interpret(sent []byte, reply []byte, now time.Time) error {
	if sent == nil {
		return fmt.Errorf("tmcl: reply with no outstanding request")
	}
	sentReq := decodeSentRequest(sent)
	r, err := UnpackMatching(reply, sentReq)
	if err != nil {
		return err // communication error: framing/command mismatch, fatal
	}

	axis := int(sentReq.Bank)
	if r.Status.IsError() {
		name := b.variableNameForRequest(sentReq)
		b.runtime.ReportError(name, fmt.Errorf("device error: %s", r.Status))
		return nil
	}

	switch sentReq.Command {
	case InstrGAP:
		b.applyGAPReply(sentReq, r, now)
	case InstrSAP:
		b.applySAPAck(sentReq, r, now)
	case InstrMVP:
		if b.motion != nil && b.motion.Axis == axis {
			b.motion.CmdAckAt = now
		}
	case InstrMST:
		if b.motion != nil && b.motion.Axis == axis {
			b.motion.StopAckAt = now
		}
	}

	if b.motion != nil && b.motion.Axis == axis {
		b.checkMotion(now)
	}
	return nil
}

func (b *Backend) variableNameForRequest(req Request) variable.Name {
	for base, info := range axisParams {
		if info.param == AxisParameter(req.Type) {
			return variable.Name{Base: base, Axis: int(req.Bank)}
		}
	}
	return variable.Name{Base: "unknown", Axis: int(req.Bank)}
}

func (b *Backend) applyGAPReply(req Request, r Reply, now time.Time) {
	axis := int(req.Bank)
	for base, info := range axisParams {
		if info.param != AxisParameter(req.Type) {
			continue
		}
		rawVal := int(r.Value)
		if info.kind == convNone {
			var v any = rawVal
			switch base {
			case "leftswitchstatus", "rightswitchstatus", "targetpositionreached":
				v = rawVal != 0
			case "leftswitchenable", "rightswitchenable":
				v = rawVal == 0 // disable-flag clear ⇒ enabled
			}
			changes := b.table.Update(variable.Name{Base: base, Axis: axis}, v, false, now, nil)
			b.runtime.EmitChanges(changes)
			return
		}
		rawName := variable.Name{Base: base + ":raw", Axis: axis}
		conv := b.cfg.Converters[axis]
		phys := convertRawToPhys(conv, info.kind, rawVal)
		derive := func(dependent variable.Name) (any, bool) {
			if dependent.Base == base && dependent.Axis == axis {
				return phys, true
			}
			return nil, false
		}
		changes := b.table.Update(rawName, rawVal, false, now, derive)
		b.runtime.EmitChanges(changes)
		return
	}
}

func (b *Backend) applySAPAck(req Request, r Reply, now time.Time) {
	// SAP replies echo status only; the set value is re-derived by a
	// subsequent GAP poll. Nothing to update here beyond the ack itself.
}

func convertRawToPhys(conv UnitConverter, kind convKind, raw int) float64 {
	switch kind {
	case convPosition:
		return conv.PositionToPhys(raw)
	case convSpeed:
		return conv.SpeedToPhys(raw)
	case convAccel:
		return conv.AccelToPhys(raw)
	case convCurrent:
		return conv.CurrentToPhys(raw)
	default:
		return float64(raw)
	}
}

func (b *Backend) boostMotionPolling(axis int) {
	for _, base := range motionRelevant {
		if v := b.table.Get(variable.Name{Base: base, Axis: axis}); v != nil {
			v.RefreshTimeout = b.cfg.MotionPollInterval
		}
	}
}

func (b *Backend) normalMotionPolling(axis int) {
	for _, base := range motionRelevant {
		if v := b.table.Get(variable.Name{Base: base, Axis: axis}); v != nil {
			v.RefreshTimeout = b.cfg.NormalPollInterval
		}
	}
}
