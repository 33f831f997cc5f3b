package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/awacha/cctd/internal/variable"
)

// GetVar reads one variable off any named device, per device.py's
// InstantCommand GetVar.
type GetVar struct{ Base }

func newGetVar() Command {
	return &GetVar{Base{ArgList: []Argument{
		NewStringArg("device", "device name"),
		NewStringArg("variable", "variable name"),
	}}}
}
func (c *GetVar) Name() string        { return "getvar" }
func (c *GetVar) Description() string { return "Read a named variable off a device" }
func (c *GetVar) Initialize(env *Env, term Terminator, args []any) error {
	deviceName := args[0].(string)
	varName := args[1].(string)
	f, err := env.Devices.Get(deviceName)
	if err != nil {
		return err
	}
	name, axis := parseVarName(varName)
	v, ok := f.Get(variable.Name{Base: name, Axis: axis})
	if !ok {
		return fmt.Errorf("command: %s has no variable %q", deviceName, varName)
	}
	term.Finish(v)
	return nil
}

// ListVariables lists the variable names a device exposes, per device.py's
// InstantCommand ListVariables.
type ListVariables struct{ Base }

func newListVariables() Command {
	return &ListVariables{Base{ArgList: []Argument{NewStringArg("device", "device name")}}}
}
func (c *ListVariables) Name() string        { return "listvars" }
func (c *ListVariables) Description() string { return "List a device's variable names" }
func (c *ListVariables) Initialize(env *Env, term Terminator, args []any) error {
	deviceName := args[0].(string)
	f, err := env.Devices.Get(deviceName)
	if err != nil {
		return err
	}
	keys := f.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Axis < 0 {
			names = append(names, k.Base)
		} else {
			names = append(names, fmt.Sprintf("%s$%d", k.Base, k.Axis))
		}
	}
	sort.Strings(names)
	term.Message(strings.Join(names, "\n"))
	term.Finish(names)
	return nil
}

// DevCommand issues a low-level command against a device's backend, with
// a variadic trailing argument marker matching device.py's DevCommand
// ("..." may only be the last declared argument).
type DevCommand struct{ Base }

func newDevCommand() Command {
	return &DevCommand{Base{ArgList: []Argument{
		NewStringArg("device", "device name"),
		NewStringArg("command", "low-level command name"),
		NewAnyArg("args", "trailing command arguments"),
	}}}
}
func (c *DevCommand) Name() string        { return "devcommand" }
func (c *DevCommand) Description() string { return "Issue a low-level command directly to a device" }
func (c *DevCommand) Initialize(env *Env, term Terminator, args []any) error {
	deviceName := args[0].(string)
	cmdName := args[1].(string)
	f, err := env.Devices.Get(deviceName)
	if err != nil {
		return err
	}
	var trailing []any
	if len(args) > 2 {
		if tuple, ok := args[2].([]any); ok {
			trailing = tuple
		} else if args[2] != nil {
			trailing = []any{args[2]}
		}
	}
	f.IssueCommand(cmdName, trailing...)
	term.Finish(nil)
	return nil
}

// parseVarName splits a "$axis"-suffixed script variable name into its
// {basename, axis?} pair, the rendering used for dynamic per-axis
// variable names like actualposition$2. Names without a suffix are
// non-axis (Axis -1).
func parseVarName(s string) (base string, axis int) {
	if i := strings.IndexByte(s, '$'); i >= 0 {
		if n, err := strconv.Atoi(s[i+1:]); err == nil {
			return s[:i], n
		}
	}
	return s, -1
}

func registerDeviceCommands(r *Registry) {
	r.Register("getvar", newGetVar)
	r.Register("listvars", newListVariables)
	r.Register("devcommand", newDevCommand)
}
