package pump

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/variable"
)

type fakeRuntime struct {
	sent    [][]byte
	changes []variable.Change
}

func (f *fakeRuntime) Send(b []byte) error {
	f.sent = append(f.sent, b)
	return nil
}
func (f *fakeRuntime) EmitChanges(c []variable.Change)  { f.changes = append(f.changes, c...) }
func (f *fakeRuntime) ReportError(variable.Name, error) {}

func newTestBackend() (*Backend, *fakeRuntime) {
	b := NewBackend(Config{NormalPollInterval: time.Second}, zap.NewNop())
	rt := &fakeRuntime{}
	b.AttachRuntime(rt)
	return b, rt
}

func TestControlModeString(t *testing.T) {
	cases := []struct {
		mode ControlMode
		want string
	}{
		{ControlInternal, "Internal"},
		{ControlExternal, "External"},
		{ControlFootSwitch, "Foot_Switch"},
		{ControlLogicLevel, "Logic_Level"},
		{ControlLogicLevel2, "Logic_Level_2"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.mode, got, c.want)
		}
	}
}

func TestQueryBuildsReadRequest(t *testing.T) {
	b, rt := newTestBackend()
	if err := b.Query(variable.Name{Base: "speed", Axis: -1}, time.Now()); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "Rspeed\r" {
		t.Fatalf("unexpected sent frame: %v", rt.sent)
	}
}

func TestSetVarBuildsWriteRequest(t *testing.T) {
	b, rt := newTestBackend()
	if err := b.SetVar(variable.Name{Base: "speed", Axis: -1}, 12.5, time.Now()); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "Wspeed=12.5\r" {
		t.Fatalf("unexpected sent frame: %v", rt.sent)
	}
}

func TestSetVarRejectsUnknownVariable(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.SetVar(variable.Name{Base: "running", Axis: -1}, true, time.Now()); err == nil {
		t.Fatal("expected error setting a read-only variable")
	}
}

func TestExecuteCommandsSendExpectedFrames(t *testing.T) {
	cases := []struct {
		cmd  string
		want string
	}{
		{"start", "GO\r"},
		{"stop", "ST\r"},
		{"dispenseStart", "DI\r"},
		{"dispenseWait", "DW\r"},
	}
	for _, c := range cases {
		b, rt := newTestBackend()
		if _, err := b.Execute(c.cmd, nil, time.Now()); err != nil {
			t.Fatalf("Execute(%s): %v", c.cmd, err)
		}
		if len(rt.sent) != 1 || string(rt.sent[0]) != c.want {
			t.Fatalf("Execute(%s) sent %v, want %q", c.cmd, rt.sent, c.want)
		}
	}
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	b, _ := newTestBackend()
	if _, err := b.Execute("bogus", nil, time.Now()); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestInterpretRejectsEmptyReply(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.Interpret(nil, []byte{}, time.Now()); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestInterpretUpdatesSpeedFromReadRequest(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.Interpret([]byte("Rspeed\r"), []byte("42.5\r"), time.Now()); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	v, ok := b.table.Get(variable.Name{Base: "speed", Axis: -1}).Value()
	if !ok || v.(float64) != 42.5 {
		t.Fatalf("speed = %v, ok=%v, want 42.5", v, ok)
	}
}

func TestInterpretUpdatesRunningFromReadRequest(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.Interpret([]byte("Rrunning\r"), []byte("ON\r"), time.Now()); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	v, ok := b.table.Get(variable.Name{Base: "running", Axis: -1}).Value()
	if !ok || v.(bool) != true {
		t.Fatalf("running = %v, ok=%v, want true", v, ok)
	}
}

func TestInterpretIgnoresPlainCommandAck(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.Interpret([]byte("GO\r"), []byte("OK\r"), time.Now()); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
}

func TestQueryBaseParsesReadAndWriteRequests(t *testing.T) {
	cases := []struct {
		sent string
		want string
	}{
		{"Rspeed\r", "speed"},
		{"Wspeed=12.5\r", "speed"},
		{"GO\r", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := queryBase([]byte(c.sent)); got != c.want {
			t.Errorf("queryBase(%q) = %q, want %q", c.sent, got, c.want)
		}
	}
}
