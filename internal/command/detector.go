package command

import (
	"fmt"
	"time"

	"github.com/awacha/cctd/internal/detector"
	"github.com/awacha/cctd/internal/variable"
)

// expose drives a single (n=1) or repeated (n>1) exposure, polling
// __status__ until it returns to Idle. Grounded on expose.py's dual-finish
// condition (device idle AND every expected image received), here
// collapsed into watching __status__ since the backend itself already
// gates on imagesLeft before leaving Exposing.
type expose struct {
	Base
	multi    bool
	deviceID string
}

func newExpose() Command {
	return &expose{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("exptime", "exposure time in seconds"),
		NewStringArg("prefix", "output filename prefix", ""),
	}}}
}

func newExposeMulti() Command {
	e := &expose{Base: Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewFloatArg("exptime", "exposure time in seconds"),
		NewIntArg("n", "number of images"),
		NewStringArg("prefix", "output filename prefix", ""),
		NewFloatArg("delay", "inter-image delay in seconds", 0),
	}}}
	e.multi = true
	return e
}

func (c *expose) Name() string {
	if c.multi {
		return "exposemulti"
	}
	return "expose"
}
func (c *expose) Description() string { return "Acquire one or more detector exposures" }

func (c *expose) Initialize(env *Env, term Terminator, args []any) error {
	f, err := env.Devices.Get("detector")
	if err != nil {
		return err
	}
	c.deviceID = "detector"
	if c.multi {
		exptime := args[0].(float64)
		n := args[1].(int)
		prefix := args[2].(string)
		period := args[3].(float64) + exptime
		f.IssueCommand("exposemulti", prefix, exptime, n, period)
	} else {
		exptime := args[0].(float64)
		prefix := args[1].(string)
		f.IssueCommand("expose", prefix, exptime)
	}
	term.Message("Exposure started")
	return nil
}

func (c *expose) Tick(env *Env, term Terminator, now time.Time) {
	f, err := env.Devices.Get(c.deviceID)
	if err != nil {
		term.Fail(err.Error())
		return
	}
	status, _ := f.Get(variable.Name{Base: "__status__", Axis: -1})
	received, _ := f.Get(variable.Name{Base: "imagesreceived", Axis: -1})
	nimages, _ := f.Get(variable.Name{Base: "nimages", Axis: -1})
	r, _ := received.(int)
	n, _ := nimages.(int)
	if n > 0 {
		term.Progress("Exposing...", r, n)
	}
	if status == "Idle" {
		last, _ := f.Get(variable.Name{Base: "lastimage", Axis: -1})
		term.Finish(last)
	}
}

func (c *expose) Stop(env *Env, term Terminator) {
	if f, err := env.Devices.Get(c.deviceID); err == nil {
		f.IssueCommand("stopexposure")
	}
	term.Fail("stopped on user request")
}

// trim sets the detector's threshold/gain pair, requiring the detector be
// Idle first, matching pilatus.py's Trim command.
type trim struct {
	Base
}

func newTrim() Command {
	return &trim{Base{Interval: 200 * time.Millisecond, ArgList: []Argument{
		NewIntArg("threshold", "threshold energy in eV"),
		NewChoiceArg("gain", "threshold gain setting", []string{"low", "mid", "high"}, "mid"),
	}}}
}
func (c *trim) Name() string        { return "trim" }
func (c *trim) Description() string { return "Set the detector's energy threshold and gain" }

func (c *trim) Initialize(env *Env, term Terminator, args []any) error {
	threshold := args[0].(int)
	gainStr := args[1].(string)
	gain, ok := detector.ParseGain(gainStr)
	if !ok {
		return fmt.Errorf("command: unknown gain %q", gainStr)
	}
	f, err := env.Devices.Get("detector")
	if err != nil {
		return err
	}
	f.IssueCommand("trim", threshold, gain)
	term.Message("Trimming detector")
	return nil
}

func (c *trim) Tick(env *Env, term Terminator, now time.Time) {
	f, err := env.Devices.Get("detector")
	if err != nil {
		term.Fail(err.Error())
		return
	}
	status, _ := f.Get(variable.Name{Base: "__status__", Axis: -1})
	if status == "Idle" {
		term.Finish(nil)
	}
}

func registerDetectorCommands(r *Registry) {
	r.Register("expose", newExpose)
	r.Register("exposemulti", newExposeMulti)
	r.Register("trim", newTrim)
}
