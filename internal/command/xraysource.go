package command

import (
	"fmt"
	"time"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

func sourceFrontend(env *Env) (*device.Frontend, error) {
	return env.Devices.Source()
}

// Shutter opens or closes the generator's beam shutter and waits for the
// backend to report the matching state, grounded on xray_source.py's
// Shutter command (open-close with requested-state tracking).
type Shutter struct {
	Base
	open bool
}

func newShutter() Command {
	return &Shutter{Base: Base{Interval: 100 * time.Millisecond, ArgList: []Argument{
		NewChoiceArg("state", "open or close the shutter", []string{"open", "close"}, "close"),
	}}}
}
func (c *Shutter) Name() string        { return "shutter" }
func (c *Shutter) Description() string { return "Open or close the X-ray source's shutter" }

func (c *Shutter) Initialize(env *Env, term Terminator, args []any) error {
	c.open = args[0].(string) == "open"
	f, err := sourceFrontend(env)
	if err != nil {
		return err
	}
	f.IssueCommand("moveShutter", c.open)
	return nil
}

func (c *Shutter) Tick(env *Env, term Terminator, now time.Time) {
	f, err := sourceFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	state, _ := f.Get(variable.Name{Base: "shutter", Axis: -1})
	if open, _ := state.(bool); open == c.open {
		term.Finish(c.open)
	}
}

// Xrays turns the high-voltage X-ray output on (standby) or off.
type Xrays struct {
	Base
	on bool
}

func newXrays() Command {
	return &Xrays{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewChoiceArg("state", "turn X-rays on or off", []string{"on", "off"}, "off"),
	}}}
}
func (c *Xrays) Name() string        { return "xrays" }
func (c *Xrays) Description() string { return "Turn the X-ray source on or off" }

func (c *Xrays) Initialize(env *Env, term Terminator, args []any) error {
	c.on = args[0].(string) == "on"
	f, err := sourceFrontend(env)
	if err != nil {
		return err
	}
	if c.on {
		f.IssueCommand("xraysOn")
	} else {
		f.IssueCommand("xraysOff")
	}
	return nil
}

func (c *Xrays) Tick(env *Env, term Terminator, now time.Time) {
	f, err := sourceFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	state, _ := f.Get(variable.Name{Base: "powerstate", Axis: -1})
	s, _ := state.(string)
	if c.on && s == "standby" {
		term.Finish(s)
	} else if !c.on && s == "off" {
		term.Finish(s)
	}
}

// XRayPower drives the tri-state power level (off/standby/full), grounded
// on xray_source.py's XRayPower command.
type XRayPower struct {
	Base
	target string
}

func newXRayPower() Command {
	return &XRayPower{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewChoiceArg("level", "target power level", []string{"off", "standby", "full"}, "standby"),
	}}}
}
func (c *XRayPower) Name() string        { return "xray_power" }
func (c *XRayPower) Description() string { return "Set the X-ray source's power level" }

func (c *XRayPower) Initialize(env *Env, term Terminator, args []any) error {
	c.target = args[0].(string)
	f, err := sourceFrontend(env)
	if err != nil {
		return err
	}
	switch c.target {
	case "off":
		f.IssueCommand("xraysOff")
	case "standby":
		f.IssueCommand("standby")
	case "full":
		f.IssueCommand("fullpower")
	default:
		return fmt.Errorf("command: unknown power level %q", c.target)
	}
	return nil
}

func (c *XRayPower) Tick(env *Env, term Terminator, now time.Time) {
	f, err := sourceFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	state, _ := f.Get(variable.Name{Base: "powerstate", Axis: -1})
	if s, _ := state.(string); s == c.target {
		term.Finish(s)
	}
}

// WarmUp starts the generator's warmup cycle and waits for it to settle
// back to off or standby, per xray_source.py's WarmUp command.
type WarmUp struct{ Base }

func newWarmUp() Command {
	return &WarmUp{Base{Interval: time.Second}}
}
func (c *WarmUp) Name() string        { return "xray_warmup" }
func (c *WarmUp) Description() string { return "Run the X-ray source's warmup sequence" }

func (c *WarmUp) Initialize(env *Env, term Terminator, args []any) error {
	f, err := sourceFrontend(env)
	if err != nil {
		return err
	}
	f.IssueCommand("warmupStart")
	term.Message("Warmup started")
	return nil
}

func (c *WarmUp) Tick(env *Env, term Terminator, now time.Time) {
	f, err := sourceFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	active, _ := f.Get(variable.Name{Base: "warmupactive", Axis: -1})
	if active == false {
		state, _ := f.Get(variable.Name{Base: "powerstate", Axis: -1})
		term.Finish(state)
	}
}

func (c *WarmUp) Stop(env *Env, term Terminator) {
	if f, err := sourceFrontend(env); err == nil {
		f.IssueCommand("warmupStop")
	}
	term.Fail("stopped on user request")
}

func registerXraySourceCommands(r *Registry) {
	r.Register("shutter", newShutter)
	r.Register("xrays", newXrays)
	r.Register("xray_power", newXRayPower)
	r.Register("xray_warmup", newWarmUp)
}
