package command

import (
	"time"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/variable"
)

func vacuumFrontend(env *Env) (*device.Frontend, error) {
	return env.Devices.Vacuum()
}

// Vacuum is an instantaneous read of the gauge's pressure, per
// vacuum.py's InstantCommand.
type Vacuum struct{ Base }

func newVacuum() Command        { return &Vacuum{} }
func (c *Vacuum) Name() string        { return "vacuum" }
func (c *Vacuum) Description() string { return "Report the current chamber pressure" }
func (c *Vacuum) Initialize(env *Env, term Terminator, args []any) error {
	f, err := vacuumFrontend(env)
	if err != nil {
		return err
	}
	p, _ := f.Get(variable.Name{Base: "pressure", Axis: -1})
	term.Finish(p)
	return nil
}

// WaitVacuum polls the pressure reading each tick until it falls below
// threshold, per vacuum.py's WaitVacuum command.
type WaitVacuum struct {
	Base
	threshold float64
}

func newWaitVacuum() Command {
	return &WaitVacuum{Base: Base{Interval: 500 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("threshold", "pressure threshold in mbar"),
	}}}
}
func (c *WaitVacuum) Name() string        { return "wait_vacuum" }
func (c *WaitVacuum) Description() string { return "Wait until the pressure drops below a threshold" }
func (c *WaitVacuum) Initialize(env *Env, term Terminator, args []any) error {
	c.threshold = args[0].(float64)
	return nil
}
func (c *WaitVacuum) Tick(env *Env, term Terminator, now time.Time) {
	f, err := vacuumFrontend(env)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	pressure, _ := f.Get(variable.Name{Base: "pressure", Axis: -1})
	p, _ := pressure.(float64)
	if p < c.threshold {
		term.Finish(p)
		return
	}
	term.Progress("Waiting for vacuum...", 0, 1000)
}

func registerVacuumCommands(r *Registry) {
	r.Register("vacuum", newVacuum)
	r.Register("wait_vacuum", newWaitVacuum)
}
