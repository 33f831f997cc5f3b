package motor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/variable"
)

// Execute dispatches the back-end's motor commands: moveto, moverel,
// stop, setposition, setlimits.
func (b *Backend) Execute(cmd string, args []any, now time.Time) (any, error) {
	switch cmd {
	case "moveto":
		return nil, b.moveTo(intArg(args, 0), floatArg(args, 1), now)
	case "moverel":
		return nil, b.moveRel(intArg(args, 0), floatArg(args, 1), now)
	case "stop":
		return nil, b.stop(intArg(args, 0), now)
	case "setposition":
		return nil, b.setPosition(intArg(args, 0), floatArg(args, 1), now)
	case "setlimits":
		return nil, b.setLimits(intArg(args, 0), floatArg(args, 1), floatArg(args, 2))
	default:
		return nil, fmt.Errorf("motor: unknown command %q", cmd)
	}
}

func intArg(args []any, i int) int {
	if i >= len(args) {
		return 0
	}
	return toInt(args[i])
}

func floatArg(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	return toFloat(args[i])
}

func (b *Backend) currentPosition(axis int) float64 {
	v := b.table.Get(variable.Name{Base: "actualposition", Axis: axis})
	if v == nil {
		return 0
	}
	val, _ := v.Value()
	f, _ := val.(float64)
	return f
}

func (b *Backend) softLimits(axis int) (left, right float64) {
	if v := b.table.Get(variable.Name{Base: "softleft", Axis: axis}); v != nil {
		if val, ok := v.Value(); ok {
			left, _ = val.(float64)
		}
	}
	if v := b.table.Get(variable.Name{Base: "softright", Axis: axis}); v != nil {
		if val, ok := v.Value(); ok {
			right, _ = val.(float64)
		}
	}
	return
}

func (b *Backend) moveTo(axis int, target float64, now time.Time) error {
	if b.motion != nil {
		return fmt.Errorf("motor: axis %d is already moving on this controller", b.motion.Axis)
	}
	left, right := b.softLimits(axis)
	current := b.currentPosition(axis)
	if current < left || current > right {
		return fmt.Errorf("motor: axis %d current position %g already outside soft limits [%g, %g]", axis, current, left, right)
	}
	if target < left || target > right {
		return fmt.Errorf("motor: target %g outside soft limits [%g, %g]", target, left, right)
	}

	if target == current {
		b.zeroMove(axis, now)
		return nil
	}

	direction := "right"
	if target < current {
		direction = "left"
	}
	return b.startMove(axis, direction, target, now)
}

func (b *Backend) moveRel(axis int, delta float64, now time.Time) error {
	if delta == 0 {
		if b.motion != nil {
			return fmt.Errorf("motor: axis %d is already moving on this controller", b.motion.Axis)
		}
		b.zeroMove(axis, now)
		return nil
	}
	current := b.currentPosition(axis)
	return b.moveTo(axis, current+delta, now)
}

// zeroMove implements the zero-move short-circuit: no wire traffic, a
// synthetic moving=true → lastmovewassuccessful=true → moving=false
// event trace.
func (b *Backend) zeroMove(axis int, now time.Time) {
	movingName := variable.Name{Base: "moving", Axis: axis}
	successName := variable.Name{Base: "lastmovewassuccessful", Axis: axis}
	b.runtime.EmitChanges(b.table.Update(movingName, true, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(successName, true, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(movingName, false, true, now, nil))
}

func (b *Backend) startMove(axis int, direction string, target float64, now time.Time) error {
	conv := b.cfg.Converters[axis]
	raw := conv.PositionToRaw(target)

	b.boostMotionPolling(axis)

	req := Request{
		Address: b.cfg.Address,
		Command: InstrMVP,
		Type:    byte(MVPAbsolute),
		Bank:    byte(axis),
		Value:   int32(raw),
	}
	b.motion = &MotionRecord{Axis: axis, Direction: direction, Target: target, CmdEnqueuedAt: now}
	if err := b.runtime.Send(Pack(req)); err != nil {
		b.motion = nil
		return err
	}

	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "moving", Axis: axis}, true, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "movestartposition", Axis: axis}, b.currentPosition(axis), true, now, nil))
	b.setStatus(now, "Busy", axis)
	return nil
}

func (b *Backend) stop(axis int, now time.Time) error {
	if b.motion == nil || b.motion.Axis != axis {
		return nil // idempotent: stopping an already-stopped axis is a no-op success
	}
	b.motion.StopEnqueuedAt = now
	req := Request{Address: b.cfg.Address, Command: InstrMST, Bank: byte(axis)}
	return b.runtime.Send(Pack(req))
}

func (b *Backend) setPosition(axis int, pos float64, now time.Time) error {
	conv := b.cfg.Converters[axis]
	raw := conv.PositionToRaw(pos)
	for _, param := range []AxisParameter{APActualPosition, APTargetPosition} {
		req := Request{Address: b.cfg.Address, Command: InstrSAP, Type: byte(param), Bank: byte(axis), Value: int32(raw)}
		if err := b.runtime.Send(Pack(req)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) setLimits(axis int, left, right float64) error {
	if left > right {
		return fmt.Errorf("motor: left limit %g exceeds right limit %g", left, right)
	}
	now := time.Now()
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "softleft", Axis: axis}, left, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "softright", Axis: axis}, right, true, now, nil))
	return nil
}

// checkMotion runs the three stop conditions in order, using only
// variable values whose timestamp is after the MoveTo acknowledgement
// (stale reads are ignored).
func (b *Backend) checkMotion(now time.Time) {
	m := b.motion
	if m == nil || m.CmdAckAt.IsZero() {
		return
	}
	axis := m.Axis

	actualPos := b.table.Get(variable.Name{Base: "actualposition", Axis: axis})
	targetPos := b.table.Get(variable.Name{Base: "targetposition", Axis: axis})
	reached := b.table.Get(variable.Name{Base: "targetpositionreached", Axis: axis})
	actualSpeed := b.table.Get(variable.Name{Base: "actualspeed", Axis: axis})

	// 1. target reached
	if actualPos != nil && targetPos != nil && reached != nil &&
		actualPos.IsFreshSince(m.CmdAckAt) && reached.IsFreshSince(m.CmdAckAt) {
		av, _ := actualPos.Value()
		tv, _ := targetPos.Value()
		rv, _ := reached.Value()
		if af, ok1 := av.(float64); ok1 {
			if tf, ok2 := tv.(float64); ok2 {
				if rb, ok3 := rv.(bool); ok3 && rb && af == tf {
					b.endMotion(now, true)
					return
				}
			}
		}
	}

	// 2. end switch hit
	var switchName string
	if m.Direction == "left" {
		switchName = "leftswitchstatus"
	} else {
		switchName = "rightswitchstatus"
	}
	var enableName string
	if m.Direction == "left" {
		enableName = "leftswitchenable"
	} else {
		enableName = "rightswitchenable"
	}
	sw := b.table.Get(variable.Name{Base: switchName, Axis: axis})
	en := b.table.Get(variable.Name{Base: enableName, Axis: axis})
	if sw != nil && en != nil && actualSpeed != nil && actualSpeed.IsFreshSince(m.CmdAckAt) {
		swv, _ := sw.Value()
		env, _ := en.Value()
		if swb, ok1 := swv.(bool); ok1 && swb {
			if enb, ok2 := env.(bool); ok2 && enb {
				b.endMotion(now, false)
				return
			}
		}
	}

	// 3. user stop
	if !m.StopAckAt.IsZero() && actualSpeed != nil && actualSpeed.IsFreshSince(m.StopAckAt) {
		asv, _ := actualSpeed.Value()
		if asf, ok := asv.(float64); ok && asf == 0 {
			b.endMotion(now, false)
			return
		}
	}
}

func (b *Backend) endMotion(now time.Time, success bool) {
	axis := b.motion.Axis
	b.normalMotionPolling(axis)
	b.motion = nil

	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "moving", Axis: axis}, false, true, now, nil))
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "lastmovewassuccessful", Axis: axis}, success, true, now, nil))
	b.setStatus(now, "Idle", -1)
	b.persistSoftLimits(axis, now)
}

func (b *Backend) setStatus(now time.Time, status string, movingAxis int) {
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "__status__", Axis: -1}, status, true, now, nil))
	aux := ""
	if movingAxis >= 0 {
		aux = fmt.Sprintf("%d", movingAxis)
	}
	b.runtime.EmitChanges(b.table.Update(variable.Name{Base: "__auxstatus__", Axis: -1}, aux, true, now, nil))
}

func (b *Backend) persistSoftLimits(axis int, now time.Time) {
	if b.cfg.SoftLimitPath == "" {
		return
	}
	out := make([]AxisLimits, 0, b.cfg.NumAxes)
	for i := 0; i < b.cfg.NumAxes; i++ {
		left, right := b.softLimits(i)
		out = append(out, AxisLimits{Index: i, Position: b.currentPosition(i), Left: left, Right: right})
	}
	b.lastSoftLimits = out
	if err := SaveSoftLimits(b.cfg.SoftLimitPath, out); err != nil {
		b.log.Warn("failed to persist soft-limit file", zap.Error(err))
	}
}
