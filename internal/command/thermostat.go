package command

import (
	"time"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

func thermostatFrontend(env *Env) (*device.Frontend, error) {
	return env.Devices.Temperature()
}

// StartStop starts or stops the circulator, short-circuiting when it is
// already in the requested state, per temperature.py's StartStop command.
type StartStop struct {
	Base
	start bool
}

func newStartStop() Command {
	return &StartStop{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewChoiceArg("state", "start or stop the circulator", []string{"start", "stop"}, "start"),
	}}}
}
func (c *StartStop) Name() string        { return "circulator" }
func (c *StartStop) Description() string { return "Start or stop the thermostat's circulator" }

func (c *StartStop) Initialize(env *Env, term Terminator, args []any) error {
	c.start = args[0].(string) == "start"
	f, err := thermostatFrontend(env)
	if err != nil {
		return err
	}
	running, _ := f.Get(variable.Name{Base: "running", Axis: -1})
	alreadyThere, _ := running.(bool)
	if alreadyThere == c.start {
		term.Finish(c.start)
		return nil
	}
	if c.start {
		f.IssueCommand("startCirculator")
	} else {
		f.IssueCommand("stopCirculator")
	}
	return nil
}

func (c *StartStop) Tick(env *Env, term Terminator, now time.Time) {
	f, err := thermostatFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	running, _ := f.Get(variable.Name{Base: "running", Axis: -1})
	if r, _ := running.(bool); r == c.start {
		term.Finish(c.start)
	}
}

// Temperature is an instantaneous read of the thermostat's bath
// temperature, per temperature.py's InstantCommand Temperature.
type Temperature struct{ Base }

func newTemperature() Command { return &Temperature{} }
func (c *Temperature) Name() string        { return "temperature" }
func (c *Temperature) Description() string { return "Report the current bath temperature" }
func (c *Temperature) Initialize(env *Env, term Terminator, args []any) error {
	f, err := thermostatFrontend(env)
	if err != nil {
		return err
	}
	t, _ := f.Get(variable.Name{Base: "temperature", Axis: -1})
	term.Finish(t)
	return nil
}

// SetTemperature changes the setpoint, short-circuiting when already
// within 0.01 degrees, per temperature.py's SetTemperature command.
type SetTemperature struct {
	Base
	target float64
}

func newSetTemperature() Command {
	return &SetTemperature{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("temperature", "new setpoint, in degrees Celsius"),
	}}}
}
func (c *SetTemperature) Name() string        { return "settemp" }
func (c *SetTemperature) Description() string { return "Set the thermostat's target temperature" }

func (c *SetTemperature) Initialize(env *Env, term Terminator, args []any) error {
	c.target = args[0].(float64)
	f, err := thermostatFrontend(env)
	if err != nil {
		return err
	}
	setpoint, _ := f.Get(variable.Name{Base: "setpoint", Axis: -1})
	sp, _ := setpoint.(float64)
	if abs(sp-c.target) < 0.01 {
		term.Finish(c.target)
		return nil
	}
	f.IssueCommand("setSetpoint", c.target)
	return nil
}

func (c *SetTemperature) Tick(env *Env, term Terminator, now time.Time) {
	f, err := thermostatFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	setpoint, _ := f.Get(variable.Name{Base: "setpoint", Axis: -1})
	sp, _ := setpoint.(float64)
	if abs(sp-c.target) < 0.01 {
		term.Finish(c.target)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// WaitTemperature blocks until the bath temperature has stayed within
// tolerance of the setpoint for a continuous delay period, resetting its
// dwell timer whenever the setpoint changes or the reading leaves
// tolerance, per temperature.py's WaitTemperature command.
type WaitTemperature struct {
	Base
	tolerance       float64
	delay           time.Duration
	inTolSince      time.Time
	inTol           bool
	lastSetpoint    float64
	haveSetpoint    bool
}

func newWaitTemperature() Command {
	return &WaitTemperature{Base: Base{Interval: 500 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("tolerance", "allowed deviation from setpoint, in degrees"),
		NewFloatArg("delay", "required continuous dwell time, in seconds"),
	}}}
}
func (c *WaitTemperature) Name() string { return "wait_temp" }
func (c *WaitTemperature) Description() string {
	return "Wait until the bath temperature settles at the setpoint"
}

func (c *WaitTemperature) Initialize(env *Env, term Terminator, args []any) error {
	c.tolerance = args[0].(float64)
	c.delay = time.Duration(args[1].(float64) * float64(time.Second))
	return nil
}

func (c *WaitTemperature) Tick(env *Env, term Terminator, now time.Time) {
	f, err := thermostatFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	setpoint, _ := f.Get(variable.Name{Base: "setpoint", Axis: -1})
	temperature, _ := f.Get(variable.Name{Base: "temperature", Axis: -1})
	sp, _ := setpoint.(float64)
	t, _ := temperature.(float64)

	if !c.haveSetpoint || sp != c.lastSetpoint {
		c.lastSetpoint = sp
		c.haveSetpoint = true
		c.inTol = false
	}

	withinTol := abs(t-sp) <= c.tolerance
	if !withinTol {
		c.inTol = false
		term.Progress("Waiting for temperature to settle...", 0, 1000)
		return
	}
	if !c.inTol {
		c.inTol = true
		c.inTolSince = now
	}
	elapsed := now.Sub(c.inTolSince)
	if elapsed >= c.delay {
		term.Finish(t)
		return
	}
	pct := int(1000 * float64(elapsed) / float64(c.delay))
	term.Progress("Temperature within tolerance, waiting for dwell...", pct, 1000)
}

func registerThermostatCommands(r *Registry) {
	r.Register("circulator", newStartStop)
	r.Register("temperature", newTemperature)
	r.Register("settemp", newSetTemperature)
	r.Register("wait_temp", newWaitTemperature)
}
