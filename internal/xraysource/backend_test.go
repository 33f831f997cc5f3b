package xraysource

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/variable"
)

type fakeRuntime struct {
	sent [][]byte
}

func (f *fakeRuntime) Send(b []byte) error {
	f.sent = append(f.sent, b)
	return nil
}
func (f *fakeRuntime) EmitChanges([]variable.Change)     {}
func (f *fakeRuntime) ReportError(variable.Name, error) {}

func newTestBackend() (*Backend, *fakeRuntime) {
	b := NewBackend(Config{NormalPollInterval: time.Second}, zap.NewNop())
	rt := &fakeRuntime{}
	b.AttachRuntime(rt)
	b.Connect(time.Now())
	return b, rt
}

func TestToFullPowerRejectedWhenAlreadyFull(t *testing.T) {
	b, _ := newTestBackend()
	now := time.Now()
	if err := b.toFullPower(now); err != nil {
		t.Fatalf("toFullPower: %v", err)
	}
	if err := b.toFullPower(now); err == nil {
		t.Fatal("expected rejection for already-full power state")
	}
}

func TestStartWarmupRejectsDoubleStart(t *testing.T) {
	b, _ := newTestBackend()
	now := time.Now()
	if err := b.startWarmup(now); err != nil {
		t.Fatalf("startWarmup: %v", err)
	}
	if err := b.startWarmup(now); err == nil {
		t.Fatal("expected rejection for double warmup start")
	}
}

func TestMoveShutterSendsCommand(t *testing.T) {
	b, rt := newTestBackend()
	if err := b.moveShutter(true, time.Now()); err != nil {
		t.Fatalf("moveShutter: %v", err)
	}
	if len(rt.sent) != 1 || string(rt.sent[0]) != "SHUTTER_OPEN\n" {
		t.Fatalf("unexpected sent frames: %v", rt.sent)
	}
}

func TestInterpretRejectsNonOKReply(t *testing.T) {
	b, _ := newTestBackend()
	if err := b.Interpret(nil, []byte("ERROR"), time.Now()); err == nil {
		t.Fatal("expected error for non-OK reply")
	}
	if err := b.Interpret(nil, []byte("OK"), time.Now()); err != nil {
		t.Fatalf("unexpected error for OK reply: %v", err)
	}
}
