package command

// newflag/setflag/clearflag manipulate the interpreter's shared FlagSet,
// visible to script conditionals. Grounded on flags.py's InstantCommand
// trio.
type NewFlag struct{ Base }

func newNewFlag() Command {
	return &NewFlag{Base{ArgList: []Argument{NewStringArg("flag", "name of the flag")}}}
}
func (c *NewFlag) Name() string        { return "newflag" }
func (c *NewFlag) Description() string { return "Create a new flag, initially false" }
func (c *NewFlag) Initialize(env *Env, term Terminator, args []any) error {
	name := args[0].(string)
	env.Flags.AddFlag(name, false)
	term.Message("Created flag " + name)
	term.Finish(nil)
	return nil
}

type SetFlag struct{ Base }

func newSetFlag() Command {
	return &SetFlag{Base{ArgList: []Argument{NewStringArg("flag", "name of the flag")}}}
}
func (c *SetFlag) Name() string        { return "setflag" }
func (c *SetFlag) Description() string { return "Set a flag to true" }
func (c *SetFlag) Initialize(env *Env, term Terminator, args []any) error {
	name := args[0].(string)
	env.Flags.SetFlag(name, true)
	term.Message("Set flag " + name)
	term.Finish(nil)
	return nil
}

type ClearFlag struct{ Base }

func newClearFlag() Command {
	return &ClearFlag{Base{ArgList: []Argument{NewStringArg("flag", "name of the flag")}}}
}
func (c *ClearFlag) Name() string        { return "clearflag" }
func (c *ClearFlag) Description() string { return "Clear a flag (set it to false)" }
func (c *ClearFlag) Initialize(env *Env, term Terminator, args []any) error {
	name := args[0].(string)
	env.Flags.SetFlag(name, false)
	term.Message("Cleared flag " + name)
	term.Finish(nil)
	return nil
}

func registerFlagCommands(r *Registry) {
	r.Register("newflag", newNewFlag)
	r.Register("setflag", newSetFlag)
	r.Register("clearflag", newClearFlag)
}
