package command

import (
	"time"
)

// SetSample drives to a stored sample position via SampleStore.MoveToSample,
// then records it as the current sample on success, grounded on
// sample.py's SetSample command.
type SetSample struct {
	Base
	title     string
	done      bool
	succeeded bool
}

func newSetSample() Command {
	return &SetSample{Base: Base{Interval: 150 * time.Millisecond, ArgList: []Argument{
		NewStringArg("name", "sample name"),
	}}}
}
func (c *SetSample) Name() string        { return "sample" }
func (c *SetSample) Description() string { return "Move to a stored sample position" }

func (c *SetSample) Initialize(env *Env, term Terminator, args []any) error {
	c.title = args[0].(string)
	env.Samples.OnMovingFinished(func(success bool, sample string) {
		if sample != c.title {
			return
		}
		c.done = true
		c.succeeded = success
	})
	if err := env.Samples.MoveToSample(c.title, "both"); err != nil {
		return err
	}
	term.Message("Moving to sample " + c.title)
	return nil
}

func (c *SetSample) Tick(env *Env, term Terminator, now time.Time) {
	if !c.done {
		return
	}
	if !c.succeeded {
		term.Fail("failed to reach sample " + c.title)
		return
	}
	if err := env.Samples.SetCurrentSample(c.title); err != nil {
		term.Fail(err.Error())
		return
	}
	term.Finish(c.title)
}

func (c *SetSample) Stop(env *Env, term Terminator) {
	env.Samples.StopMotors()
	term.Fail("stopped on user request")
}

func registerSampleCommand(r *Registry) {
	r.Register("sample", newSetSample)
}
