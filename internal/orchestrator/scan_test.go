package orchestrator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/store"
	"github.com/awacha/cctd/internal/variable"
)

// nopObserver satisfies device.Observer for tests that never pump events.
type nopObserver struct{}

func (nopObserver) VariableChanged(string, variable.Name, any) {}
func (nopObserver) VariableError(string, variable.Name, error) {}
func (nopObserver) StateChanged(string, device.State)          {}
func (nopObserver) Log(string, devproto.LogRecord)             {}
func (nopObserver) Died(string, error)                         {}

func newTestScan(t *testing.T) *Scan {
	t.Helper()
	loop := device.NewEventLoop(nopObserver{}, time.Second)
	devices := devicemanager.New(loop, zap.NewNop())
	motors := map[string]store.MotorRef{
		"om": {Device: "motor1", Axis: 0},
	}
	s, err := NewScan(devices, motors, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScan: %v", err)
	}
	return s
}

func TestStartScanRejectsUnknownMotor(t *testing.T) {
	s := newTestScan(t)
	if _, err := s.StartScan("nosuch", 0, 1, 5, 1.0, "", false); err == nil {
		t.Fatal("expected error for an unresolved motor name")
	}
}

func TestStartScanRejectsTooFewSteps(t *testing.T) {
	s := newTestScan(t)
	if _, err := s.StartScan("om", 0, 1, 1, 1.0, "", false); err == nil {
		t.Fatal("expected error for fewer than 2 steps")
	}
}

func TestStartScanRejectsUnregisteredDevice(t *testing.T) {
	s := newTestScan(t)
	if _, err := s.StartScan("om", 0, 1, 5, 1.0, "", false); err == nil {
		t.Fatal("expected error: motor1 is not a registered device")
	}
}

func TestScanStatusUnknownIDReportsDone(t *testing.T) {
	s := newTestScan(t)
	done, success, cur, tot := s.ScanStatus(999)
	if !done || success || cur != 0 || tot != 0 {
		t.Errorf("ScanStatus(unknown) = %v,%v,%v,%v, want true,false,0,0", done, success, cur, tot)
	}
}

func TestStopScanIsNoOpWithoutARunningScan(t *testing.T) {
	s := newTestScan(t)
	s.StopScan() // must not panic
}

func TestTickIsNoOpWithoutARunningScan(t *testing.T) {
	s := newTestScan(t)
	s.Tick(time.Now()) // must not panic
}
