package command

import (
	"fmt"
	"sort"
	"time"

	"github.com/awacha/cctd/internal/variable"
)

// motorMove drives one axis to an absolute or relative target, polling the
// `moving`/`lastmovewassuccessful` variables each tick instead of
// connecting to the Qt started/stopped/moving signals motor.py uses.
type motorMove struct {
	Base
	relative   bool
	motorName  string
	axis       int
	target     float64
	start      float64
	issued     bool
}

func newMoveTo() Command {
	return &motorMove{Base: Base{Interval: 100 * time.Millisecond, ArgList: []Argument{
		NewStringArg("motorname", "name of the motor to move"),
		NewFloatArg("position", "target position"),
	}}}
}

func newMoveRel() Command {
	m := newMoveTo().(*motorMove)
	m.relative = true
	return m
}

func (c *motorMove) Name() string {
	if c.relative {
		return "moverel"
	}
	return "moveto"
}
func (c *motorMove) Description() string { return "Move a motor, absolute or relative to its current position" }

func (c *motorMove) Initialize(env *Env, term Terminator, args []any) error {
	c.motorName = args[0].(string)
	c.target = args[1].(float64)
	ref, ok := env.MotorRef(c.motorName)
	if !ok {
		return fmt.Errorf("command: unknown motor %q", c.motorName)
	}
	c.axis = ref.Axis
	f, err := env.Devices.Get(ref.Device)
	if err != nil {
		return err
	}
	pos, _ := f.Get(variable.Name{Base: "actualposition", Axis: c.axis})
	c.start, _ = pos.(float64)
	if moving, _ := f.Get(variable.Name{Base: "moving", Axis: c.axis}); moving == true {
		return fmt.Errorf("command: motor %q is already moving", c.motorName)
	}
	cmd := "moveto"
	if c.relative {
		cmd = "moverel"
	}
	f.IssueCommand(cmd, c.axis, c.target)
	c.issued = true
	term.Message(fmt.Sprintf("Moving motor %s", c.motorName))
	return nil
}

func (c *motorMove) Tick(env *Env, term Terminator, now time.Time) {
	if !c.issued {
		return
	}
	ref, ok := env.MotorRef(c.motorName)
	if !ok {
		term.Fail("motor configuration disappeared")
		return
	}
	f, err := env.Devices.Get(ref.Device)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	pos, _ := f.Get(variable.Name{Base: "actualposition", Axis: c.axis})
	current, _ := pos.(float64)
	moving, _ := f.Get(variable.Name{Base: "moving", Axis: c.axis})
	if moving == true {
		span := current - c.start
		target := c.target
		if c.relative {
			target = c.start + c.target
		}
		total := target - c.start
		pct := 0
		if total != 0 {
			pct = int(1000 * span / total)
		}
		term.Progress(fmt.Sprintf("Moving motor %s, currently at %.4f", c.motorName, current), pct, 1000)
		return
	}
	success, _ := f.Get(variable.Name{Base: "lastmovewassuccessful", Axis: c.axis})
	if success == false {
		term.Fail(fmt.Sprintf("motor %s failed to reach target", c.motorName))
		return
	}
	term.Finish(current)
}

func (c *motorMove) Stop(env *Env, term Terminator) {
	if ref, ok := env.MotorRef(c.motorName); ok {
		if f, err := env.Devices.Get(ref.Device); err == nil {
			f.IssueCommand("stop", ref.Axis)
		}
	}
	term.Fail("stopped on user request")
}

// Where is an instantaneous read of one or all motor positions.
type Where struct{ Base }

func newWhere() Command {
	return &Where{Base{ArgList: []Argument{NewStringArg("motorname", `motor name, or "*" for all`, "*")}}}
}
func (c *Where) Name() string        { return "where" }
func (c *Where) Description() string { return "Report current motor position(s)" }

func (c *Where) Initialize(env *Env, term Terminator, args []any) error {
	name := args[0].(string)
	if name != "*" {
		ref, ok := env.MotorRef(name)
		if !ok {
			return fmt.Errorf("command: unknown motor %q", name)
		}
		f, err := env.Devices.Get(ref.Device)
		if err != nil {
			return err
		}
		pos, _ := f.Get(variable.Name{Base: "actualposition", Axis: ref.Axis})
		p, _ := pos.(float64)
		term.Message(fmt.Sprintf("%8.3f", p))
		term.Finish(p)
		return nil
	}
	names := make([]string, 0, len(env.Motors))
	for n := range env.Motors {
		names = append(names, n)
	}
	sort.Strings(names)
	positions := make(map[string]float64, len(names))
	for _, n := range names {
		ref := env.Motors[n]
		f, err := env.Devices.Get(ref.Device)
		if err != nil {
			continue
		}
		pos, _ := f.Get(variable.Name{Base: "actualposition", Axis: ref.Axis})
		p, _ := pos.(float64)
		positions[n] = p
	}
	msg := ""
	for _, n := range names {
		msg += fmt.Sprintf("%-20s %10.3f\n", n, positions[n])
	}
	term.Message(msg)
	term.Finish(positions)
	return nil
}

func registerMotorCommands(r *Registry) {
	r.Register("moveto", newMoveTo)
	r.Register("moverel", newMoveRel)
	r.Register("where", newWhere)
}
