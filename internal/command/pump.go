package command

import (
	"time"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/pump"
	"github.com/awacha/cctd/internal/variable"
)

func pumpFrontend(env *Env) (*device.Frontend, error) {
	return env.Devices.PeristalticPump()
}

func ppDirectionArg() Argument {
	return NewChoiceArg("direction", "rotation direction", []string{"cw", "ccw"}, "cw")
}

func applyPumpDirection(f *device.Frontend, dir string) {
	v := "CW"
	if dir == "ccw" {
		v = "CCW"
	}
	f.Set(variable.Name{Base: "direction", Axis: -1}, v)
}

// ppStart runs the pump continuously under internal control, per
// peristalticpump.py's pp_start (wait_until_complete=false: it returns as
// soon as the device acknowledges running).
type ppStart struct {
	Base
}

func newPPStart() Command {
	return &ppStart{Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("speed", "pump speed"),
		ppDirectionArg(),
	}}}
}
func (c *ppStart) Name() string        { return "pp_start" }
func (c *ppStart) Description() string { return "Start the peristaltic pump running continuously" }

func (c *ppStart) Initialize(env *Env, term Terminator, args []any) error {
	f, err := pumpFrontend(env)
	if err != nil {
		return err
	}
	speed := args[0].(float64)
	direction := args[1].(string)
	f.Set(variable.Name{Base: "controlmode", Axis: -1}, pump.ControlInternal.String())
	applyPumpDirection(f, direction)
	f.Set(variable.Name{Base: "speed", Axis: -1}, speed)
	f.IssueCommand("start")
	return nil
}

func (c *ppStart) Tick(env *Env, term Terminator, now time.Time) {
	f, err := pumpFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	running, _ := f.Get(variable.Name{Base: "running", Axis: -1})
	if running == true {
		term.Finish(nil)
	}
}

// ppStop issues the stop command and waits for the running flag to clear,
// per peristalticpump.py's pp_stop.
type ppStop struct{ Base }

func newPPStop() Command {
	return &ppStop{Base{Interval: 200 * time.Millisecond}}
}
func (c *ppStop) Name() string        { return "pp_stop" }
func (c *ppStop) Description() string { return "Stop the peristaltic pump" }
func (c *ppStop) Initialize(env *Env, term Terminator, args []any) error {
	f, err := pumpFrontend(env)
	if err != nil {
		return err
	}
	f.IssueCommand("stop")
	return nil
}
func (c *ppStop) Tick(env *Env, term Terminator, now time.Time) {
	f, err := pumpFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	running, _ := f.Get(variable.Name{Base: "running", Axis: -1})
	if running == false {
		term.Finish(nil)
	}
}

// ppDispense is the shared state machine for pp_dispense_start (fire and
// forget, Internal control) and pp_dispense_wait (blocks until the
// dispense completes, Foot_Switch control), mirroring the single
// PeristalticPumpDispense class in peristalticpump.py that both Python
// commands specialize.
type ppDispense struct {
	Base
	waitForComplete bool
	issued          bool
}

func newPPDispenseStart() Command {
	return &ppDispense{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("dispensetime", "dispense duration in seconds"),
		NewFloatArg("speed", "pump speed"),
		ppDirectionArg(),
	}}}
}

func newPPDispenseWait() Command {
	c := newPPDispenseStart().(*ppDispense)
	c.waitForComplete = true
	return c
}

func (c *ppDispense) Name() string {
	if c.waitForComplete {
		return "pp_dispense_wait"
	}
	return "pp_dispense_start"
}
func (c *ppDispense) Description() string {
	return "Dispense a timed volume through the peristaltic pump"
}

func (c *ppDispense) Initialize(env *Env, term Terminator, args []any) error {
	f, err := pumpFrontend(env)
	if err != nil {
		return err
	}
	dispenseTime := args[0].(float64)
	speed := args[1].(float64)
	direction := args[2].(string)

	controlMode := pump.ControlInternal
	if c.waitForComplete {
		controlMode = pump.ControlFootSwitch
	}
	f.Set(variable.Name{Base: "dispensetime", Axis: -1}, dispenseTime)
	applyPumpDirection(f, direction)
	f.Set(variable.Name{Base: "speed", Axis: -1}, speed)
	f.Set(variable.Name{Base: "controlmode", Axis: -1}, controlMode.String())
	if c.waitForComplete {
		f.IssueCommand("dispenseWait")
	} else {
		f.IssueCommand("dispenseStart")
	}
	c.issued = true
	return nil
}

func (c *ppDispense) Tick(env *Env, term Terminator, now time.Time) {
	if !c.issued {
		return
	}
	f, err := pumpFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	running, _ := f.Get(variable.Name{Base: "running", Axis: -1})
	if !c.waitForComplete {
		if running == true {
			term.Finish(nil)
		}
		return
	}
	if running == false {
		term.Finish(nil)
	}
}

func registerPumpCommands(r *Registry) {
	r.Register("pp_start", newPPStart)
	r.Register("pp_stop", newPPStop)
	r.Register("pp_dispense_start", newPPDispenseStart)
	r.Register("pp_dispense_wait", newPPDispenseWait)
}
