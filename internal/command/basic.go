package command

import "time"

// Sleep waits for interval seconds, reporting progress each tick. Grounded
// on basic.py's Sleep (variable timer interval: finer-grained below one
// second, coarser above, to keep long sleeps cheap).
type Sleep struct {
	Base
	duration time.Duration
	deadline time.Time
}

func newSleep() Command { return &Sleep{Base: Base{ArgList: []Argument{NewFloatArg("interval", "seconds to wait")}}} }

func (c *Sleep) Name() string        { return "sleep" }
func (c *Sleep) Description() string { return "Wait for a given number of seconds" }

func (c *Sleep) Initialize(env *Env, term Terminator, args []any) error {
	secs := args[0].(float64)
	c.duration = time.Duration(secs * float64(time.Second))
	if secs < 1 {
		c.Interval = 100 * time.Millisecond
	} else {
		c.Interval = 500 * time.Millisecond
	}
	c.deadline = time.Now().Add(c.duration)
	return nil
}

func (c *Sleep) Tick(env *Env, term Terminator, now time.Time) {
	remaining := c.deadline.Sub(now)
	if remaining <= 0 {
		term.Finish(c.duration.Seconds())
		return
	}
	elapsed := c.duration - remaining
	term.Progress("Sleeping...", int(1000*float64(elapsed)/float64(c.duration)), 1000)
}

// Comment and Label are no-ops besides occupying a script line. End stops
// script execution; the interpreter recognizes it by name.
type Comment struct{ Base }

func newComment() Command                                          { return &Comment{} }
func (c *Comment) Name() string                                    { return "comment" }
func (c *Comment) Description() string                             { return "No-op; a blank or commented-out line" }
func (c *Comment) Initialize(env *Env, term Terminator, a []any) error { term.Finish(nil); return nil }

type Label struct {
	Base
	name string
}

func newLabel() Command { return &Label{Base: Base{ArgList: []Argument{NewStringArg("name", "label name")}}} }
func (c *Label) Name() string        { return "label" }
func (c *Label) Description() string { return "Jump target for goto/gosub" }
func (c *Label) Initialize(env *Env, term Terminator, args []any) error {
	c.name = args[0].(string)
	term.Finish(nil)
	return nil
}

type End struct{ Base }

func newEnd() Command                                               { return &End{} }
func (c *End) Name() string                                         { return "end" }
func (c *End) Description() string                                  { return "Stop script execution" }
func (c *End) Initialize(env *Env, term Terminator, args []any) error { term.Finish(nil); return nil }

// Goto and Gosub request an unconditional jump; Return pops the call
// stack via an empty-label goto.
type Goto struct {
	Base
}

func newGoto() Command {
	return &Goto{Base: Base{ArgList: []Argument{NewStringArg("label", "target label")}}}
}
func (c *Goto) Name() string        { return "goto" }
func (c *Goto) Description() string { return "Jump to a label" }
func (c *Goto) Initialize(env *Env, term Terminator, args []any) error {
	term.Jump(args[0].(string), false)
	return nil
}

type Gosub struct {
	Base
}

func newGosub() Command {
	return &Gosub{Base: Base{ArgList: []Argument{NewStringArg("label", "target label")}}}
}
func (c *Gosub) Name() string        { return "gosub" }
func (c *Gosub) Description() string { return "Push a return address and jump to a label" }
func (c *Gosub) Initialize(env *Env, term Terminator, args []any) error {
	term.Jump(args[0].(string), true)
	return nil
}

type Return struct{ Base }

func newReturn() Command                                               { return &Return{} }
func (c *Return) Name() string                                         { return "return" }
func (c *Return) Description() string                                  { return "Return from a gosub" }
func (c *Return) Initialize(env *Env, term Terminator, args []any) error { term.Jump("", false); return nil }

// Set assigns a namespace variable.
type Set struct{ Base }

func newSet() Command {
	return &Set{Base: Base{ArgList: []Argument{
		NewStringArg("name", "variable name"),
		NewAnyArg("value", "value to assign"),
	}}}
}
func (c *Set) Name() string        { return "set" }
func (c *Set) Description() string { return "Assign a namespace variable" }
func (c *Set) Initialize(env *Env, term Terminator, args []any) error {
	env.Vars.Set(args[0].(string), args[1])
	term.Finish(args[1])
	return nil
}

func registerBasicCommands(r *Registry) {
	r.Register("sleep", newSleep)
	r.Register("comment", newComment)
	r.Register("label", newLabel)
	r.Register("end", newEnd)
	r.Register("goto", newGoto)
	r.Register("gosub", newGosub)
	r.Register("return", newReturn)
	r.Register("set", newSet)
}
