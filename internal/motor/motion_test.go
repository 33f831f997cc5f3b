package motor

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/variable"
)

type fakeRuntimeHandle struct {
	sent    [][]byte
	changes []variable.Change
	errs    []variable.Name
}

func (f *fakeRuntimeHandle) Send(frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeRuntimeHandle) EmitChanges(changes []variable.Change) {
	f.changes = append(f.changes, changes...)
}

func (f *fakeRuntimeHandle) ReportError(name variable.Name, err error) {
	f.errs = append(f.errs, name)
}

func newTestBackend(t *testing.T) (*Backend, *fakeRuntimeHandle) {
	t.Helper()
	cfg := Config{
		Address: 1,
		NumAxes: 1,
		Converters: []UnitConverter{{
			TopRMSCurrent: 1500, FullStepSize: 1.0 / 200, ClockFrequency: 16e6,
			PulseDivisor: 3, RampDivisor: 7, MicrostepResolution: 6,
		}},
		NormalPollInterval: time.Second,
		MotionPollInterval: 10 * time.Millisecond,
	}
	b := NewBackend(cfg, zap.NewNop())
	rt := &fakeRuntimeHandle{}
	b.AttachRuntime(rt)
	return b, rt
}

func (b *Backend) setVarForTest(base string, axis int, value any, now time.Time) {
	b.table.Get(variable.Name{Base: base, Axis: axis}).Update(value, true, now)
}

func TestZeroMoveShortCircuit(t *testing.T) {
	b, rt := newTestBackend(t)
	now := time.Now()
	b.setVarForTest("actualposition", 0, 5.0, now)
	b.setVarForTest("softleft", 0, -10.0, now)
	b.setVarForTest("softright", 0, 10.0, now)

	if err := b.moveTo(0, 5.0, now); err != nil {
		t.Fatalf("moveTo (zero move): %v", err)
	}
	if len(rt.sent) != 0 {
		t.Errorf("zero move must not send wire traffic, sent %d frames", len(rt.sent))
	}
	if b.motion != nil {
		t.Error("zero move must not create a MotionRecord")
	}

	var movingTrue, successTrue, movingFalse bool
	for i, c := range rt.changes {
		if c.Name.Base == "moving" && c.Value == true {
			movingTrue = true
		}
		if c.Name.Base == "lastmovewassuccessful" && c.Value == true {
			successTrue = true
		}
		if c.Name.Base == "moving" && c.Value == false && i > 0 {
			movingFalse = true
		}
	}
	if !movingTrue || !successTrue || !movingFalse {
		t.Errorf("expected moving=true, lastmovewassuccessful=true, moving=false trace, got %+v", rt.changes)
	}
}

func TestMoveOutOfSoftLimitsRejected(t *testing.T) {
	b, rt := newTestBackend(t)
	now := time.Now()
	b.setVarForTest("actualposition", 0, 0.0, now)
	b.setVarForTest("softleft", 0, -10.0, now)
	b.setVarForTest("softright", 0, 10.0, now)

	if err := b.moveTo(0, 20.0, now); err == nil {
		t.Fatal("expected error moving beyond soft limit")
	}
	if b.motion != nil {
		t.Error("rejected move must not create a MotionRecord")
	}
	if len(rt.sent) != 0 {
		t.Error("rejected move must not send wire traffic")
	}
}

func TestMoveRejectedWhileAlreadyMoving(t *testing.T) {
	b, _ := newTestBackend(t)
	now := time.Now()
	b.setVarForTest("actualposition", 0, 0.0, now)
	b.setVarForTest("softleft", 0, -10.0, now)
	b.setVarForTest("softright", 0, 10.0, now)
	b.motion = &MotionRecord{Axis: 0, Direction: "right", Target: 5}

	if err := b.moveTo(0, 6.0, now); err == nil {
		t.Fatal("expected rejection: axis already moving")
	}
}

func TestStopByEndSwitch(t *testing.T) {
	b, rt := newTestBackend(t)
	now := time.Now()
	b.setVarForTest("actualposition", 0, 0.0, now)
	b.setVarForTest("softleft", 0, -10.0, now)
	b.setVarForTest("softright", 0, 10.0, now)

	if err := b.moveTo(0, 10.0, now); err != nil {
		t.Fatalf("moveTo: %v", err)
	}
	if b.motion == nil {
		t.Fatal("expected MotionRecord after accepted move")
	}
	if len(rt.sent) != 1 {
		t.Fatalf("expected one MVP frame sent, got %d", len(rt.sent))
	}

	ackTime := now.Add(10 * time.Millisecond)
	sentReq := decodeSentRequest(rt.sent[0])
	// Build the reply frame by hand: [replyAddress, targetAddress, status, command, value, checksum].
	replyFrame := Pack(Request{
		Address: 2,
		Command: Instruction(sentReq.Address),
		Type:    byte(StatusSuccess),
		Bank:    byte(InstrMVP),
	})
	// Use Interpret directly so MotionRecord.CmdAckAt is set realistically.
	if err := b.Interpret(rt.sent[0], replyFrame, ackTime); err != nil {
		t.Fatalf("Interpret(MVP ack): %v", err)
	}
	if b.motion.CmdAckAt.IsZero() {
		t.Fatal("expected CmdAckAt to be set after MVP ack")
	}

	switchTime := ackTime.Add(10 * time.Millisecond)
	b.setVarForTest("rightswitchstatus", 0, true, switchTime)
	b.setVarForTest("rightswitchenable", 0, true, switchTime)
	b.setVarForTest("actualspeed", 0, 0.0, switchTime)

	b.checkMotion(switchTime)

	if b.motion != nil {
		t.Error("expected MotionRecord to be cleared after end-switch stop")
	}
	var sawUnsuccessful bool
	for _, c := range rt.changes {
		if c.Name.Base == "lastmovewassuccessful" && c.Value == false {
			sawUnsuccessful = true
		}
	}
	if !sawUnsuccessful {
		t.Error("expected lastmovewassuccessful=false after end-switch stop")
	}
}

func TestStopIdempotentWhenNotMoving(t *testing.T) {
	b, rt := newTestBackend(t)
	if err := b.stop(0, time.Now()); err != nil {
		t.Errorf("stop on idle axis must be a no-op success, got %v", err)
	}
	if len(rt.sent) != 0 {
		t.Error("stop on idle axis must not send wire traffic")
	}
}

func TestSetLimitsRejectsInverted(t *testing.T) {
	b, _ := newTestBackend(t)
	if err := b.setLimits(0, 10, -10); err == nil {
		t.Fatal("expected error when left limit exceeds right limit")
	}
}
