package command

import (
	"strings"
	"testing"
)

func TestNewRegistersFullCatalog(t *testing.T) {
	r := New()
	want := []string{
		"sleep", "comment", "label", "end", "goto", "gosub", "return", "set",
		"newflag", "setflag", "clearflag",
		"moveto", "moverel", "where",
		"expose", "exposemulti", "trim",
		"shutter", "xrays", "xray_power", "xray_warmup",
		"beamstop", "sample",
		"circulator", "temperature", "settemp", "wait_temp",
		"vacuum", "wait_vacuum",
		"pp_start", "pp_stop", "pp_dispense_start", "pp_dispense_wait",
		"getvar", "listvars", "devcommand",
		"scan", "scanrel",
	}
	for _, name := range want {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("registry is missing command %q", name)
		}
	}
	if len(r.Names()) != len(want) {
		t.Errorf("Names() has %d entries, want %d", len(r.Names()), len(want))
	}
}

func TestLookupUnknownCommand(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("nosuchcommand"); ok {
		t.Error("Lookup should report false for an unregistered name")
	}
}

func TestFactoryProducesFreshInstances(t *testing.T) {
	r := New()
	f, _ := r.Lookup("sleep")
	a := f()
	b := f()
	if a == b {
		t.Error("Factory must construct a new Command instance on every call")
	}
}

func TestHelpTextIncludesArgumentNames(t *testing.T) {
	r := New()
	f, _ := r.Lookup("moveto")
	text := HelpText(f())
	if !strings.Contains(text, "motorname") || !strings.Contains(text, "position") {
		t.Errorf("HelpText should list declared argument names, got %q", text)
	}
}
