package command

import (
	"fmt"
	"time"

	"github.com/awacha/cctd/internal/variable"
)

// Beamstop drives both beamstop axes in sequence to the stored in/out
// position, waiting for each to stop moving before issuing the next, per
// beamstop.py's two-motor sequencing.
type Beamstop struct {
	Base
	in     bool
	stage  int
	xAxis  int
	yAxis  int
	xDev   string
	yDev   string
}

func newBeamstop() Command {
	return &Beamstop{Base: Base{Interval: 100 * time.Millisecond, ArgList: []Argument{
		NewChoiceArg("state", "move the beamstop in or out of the beam", []string{"in", "out"}, "out"),
	}}}
}
func (c *Beamstop) Name() string        { return "beamstop" }
func (c *Beamstop) Description() string { return "Move the beamstop in or out of the beam" }

func (c *Beamstop) Initialize(env *Env, term Terminator, args []any) error {
	c.in = args[0].(string) == "in"
	xref, ok := env.MotorRef(env.Beamstop.MotorX)
	if !ok {
		return fmt.Errorf("command: beamstop X motor %q not configured", env.Beamstop.MotorX)
	}
	yref, ok := env.MotorRef(env.Beamstop.MotorY)
	if !ok {
		return fmt.Errorf("command: beamstop Y motor %q not configured", env.Beamstop.MotorY)
	}
	c.xDev, c.xAxis = xref.Device, xref.Axis
	c.yDev, c.yAxis = yref.Device, yref.Axis
	target := env.Beamstop.OutX
	if c.in {
		target = env.Beamstop.InX
	}
	f, err := env.Devices.Get(c.xDev)
	if err != nil {
		return err
	}
	f.IssueCommand("moveto", c.xAxis, target)
	c.stage = 0
	term.Message("Moving beamstop")
	return nil
}

func (c *Beamstop) Tick(env *Env, term Terminator, now time.Time) {
	switch c.stage {
	case 0:
		f, err := env.Devices.Get(c.xDev)
		if err != nil {
			term.Fail(err.Error())
			return
		}
		moving, _ := f.Get(variable.Name{Base: "moving", Axis: c.xAxis})
		if moving == true {
			return
		}
		target := env.Beamstop.OutY
		if c.in {
			target = env.Beamstop.InY
		}
		fy, err := env.Devices.Get(c.yDev)
		if err != nil {
			term.Fail(err.Error())
			return
		}
		fy.IssueCommand("moveto", c.yAxis, target)
		c.stage = 1
	case 1:
		fy, err := env.Devices.Get(c.yDev)
		if err != nil {
			term.Fail(err.Error())
			return
		}
		moving, _ := fy.Get(variable.Name{Base: "moving", Axis: c.yAxis})
		if moving == true {
			return
		}
		state := "out"
		if c.in {
			state = "in"
		}
		term.Finish(state)
	}
}

func (c *Beamstop) Stop(env *Env, term Terminator) {
	if f, err := env.Devices.Get(c.xDev); err == nil {
		f.IssueCommand("stop", c.xAxis)
	}
	if f, err := env.Devices.Get(c.yDev); err == nil {
		f.IssueCommand("stop", c.yAxis)
	}
	term.Fail("stopped on user request")
}

func registerBeamstopCommand(r *Registry) {
	r.Register("beamstop", newBeamstop)
}
