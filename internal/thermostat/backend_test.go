package thermostat

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

func TestQuerySendsCorrectRequest(t *testing.T) {
	b, rt := newTestBackend()
	now := time.Now()
	cases := []struct {
		base string
		want string
	}{
		{"setpoint", "RS\r\n"},
		{"temperature", "RT\r\n"},
		{"running", "RM\r\n"},
	}
	for _, c := range cases {
		rt.sent = nil
		if err := b.Query(variable.Name{Base: c.base, Axis: -1}, now); err != nil {
			t.Fatalf("Query(%s): %v", c.base, err)
		}
		if len(rt.sent) != 1 || string(rt.sent[0]) != c.want {
			t.Fatalf("Query(%s) sent %v, want %q", c.base, rt.sent, c.want)
		}
	}
}

func TestInterpretDisambiguatesSetpointFromTemperature(t *testing.T) {
	b, _ := newTestBackend()
	now := time.Now()

	if err := b.Interpret([]byte("RS\r\n"), []byte("25.50\r\n"), now); err != nil {
		t.Fatalf("Interpret setpoint reply: %v", err)
	}
	v, ok := b.table.Get(variable.Name{Base: "setpoint", Axis: -1}).Value()
	if !ok || v.(float64) != 25.5 {
		t.Fatalf("setpoint = %v, ok=%v, want 25.5", v, ok)
	}

	if err := b.Interpret([]byte("RT\r\n"), []byte("24.10\r\n"), now); err != nil {
		t.Fatalf("Interpret temperature reply: %v", err)
	}
	v, ok = b.table.Get(variable.Name{Base: "temperature", Axis: -1}).Value()
	if !ok || v.(float64) != 24.1 {
		t.Fatalf("temperature = %v, ok=%v, want 24.1", v, ok)
	}
}

func TestInterpretParsesRunningState(t *testing.T) {
	b, _ := newTestBackend()
	now := time.Now()

	if err := b.Interpret([]byte("RM\r\n"), []byte("1\r\n"), now); err != nil {
		t.Fatalf("Interpret running-on reply: %v", err)
	}
	v, ok := b.table.Get(variable.Name{Base: "running", Axis: -1}).Value()
	if !ok || v.(bool) != true {
		t.Fatalf("running = %v, ok=%v, want true", v, ok)
	}

	if err := b.Interpret([]byte("RM\r\n"), []byte("OFF\r\n"), now); err != nil {
		t.Fatalf("Interpret running-off reply: %v", err)
	}
	v, ok = b.table.Get(variable.Name{Base: "running", Axis: -1}).Value()
	if !ok || v.(bool) != false {
		t.Fatalf("running = %v, ok=%v, want false", v, ok)
	}
}

func TestSetSetpointClearsPendingOnOK(t *testing.T) {
	b, rt := newTestBackend()
	now := time.Now()

	if err := b.SetVar(variable.Name{Base: "setpoint", Axis: -1}, 30.0, now); err != nil {
		t.Fatalf("SetVar: %v", err)
	}
	if !b.pendingSetpoint {
		t.Fatal("pendingSetpoint should be true after SetVar")
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "WS 30.00\r\n" {
		t.Fatalf("unexpected sent frame: %v", rt.sent)
	}

	if err := b.Interpret([]byte("WS 30.00\r\n"), []byte("OK\r\n"), now); err != nil {
		t.Fatalf("Interpret OK reply: %v", err)
	}
	if b.pendingSetpoint {
		t.Fatal("pendingSetpoint should be cleared after OK reply")
	}
}

func TestSetVarRejectsNonSetpoint(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.SetVar(variable.Name{Base: "temperature", Axis: -1}, 1.0, time.Now()); err == nil {
		t.Fatal("expected error setting a read-only variable")
	}
}

func TestExecuteStartStopCirculator(t *testing.T) {
	b, rt := newTestBackend()
	now := time.Now()

	if _, err := b.Execute("startCirculator", nil, now); err != nil {
		t.Fatalf("startCirculator: %v", err)
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "GO\r\n" {
		t.Fatalf("unexpected sent frame: %v", rt.sent)
	}

	rt.sent = nil
	if _, err := b.Execute("stopCirculator", nil, now); err != nil {
		t.Fatalf("stopCirculator: %v", err)
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "ST\r\n" {
		t.Fatalf("unexpected sent frame: %v", rt.sent)
	}
}
