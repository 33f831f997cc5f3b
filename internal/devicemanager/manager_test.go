package devicemanager

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/variable"
)

// stubBackend is a minimal device.Backend used only to exercise the
// registry's lifecycle; it never issues or parses wire traffic.
type stubBackend struct {
	table *variable.Table
}

func newStubBackend() *stubBackend { return &stubBackend{table: variable.NewTable()} }

func (s *stubBackend) Variables() *variable.Table                           { return s.table }
func (s *stubBackend) Connect(now time.Time) error                          { return nil }
func (s *stubBackend) Disconnect()                                          {}
func (s *stubBackend) Query(name variable.Name, now time.Time) error        { return nil }
func (s *stubBackend) SetVar(name variable.Name, value any, now time.Time) error { return nil }
func (s *stubBackend) Execute(cmd string, args []any, now time.Time) (any, error) {
	return nil, nil
}
func (s *stubBackend) Interpret(sent, reply []byte, now time.Time) error { return nil }
func (s *stubBackend) LogLine(now time.Time) (string, bool)             { return "", false }

func newTestFrontend(name string) *device.Frontend {
	rt := device.NewRuntime(name, newStubBackend(), device.Options{}, zap.NewNop())
	return device.NewFrontend(name, rt, zap.NewNop(), nil)
}

func newTestManager() *Manager {
	loop := device.NewEventLoop(testObserver{}, time.Second)
	return New(loop, zap.NewNop())
}

// testObserver satisfies device.Observer with the exact signatures required
// (devproto.LogRecord, not interface{}, for Log).
type testObserver struct{}

func (testObserver) VariableChanged(string, variable.Name, any) {}
func (testObserver) VariableError(string, variable.Name, error) {}
func (testObserver) StateChanged(string, device.State)          {}
func (testObserver) Log(string, devproto.LogRecord)             {}
func (testObserver) Died(string, error)                         {}

func TestAddRejectsDuplicateName(t *testing.T) {
	m := newTestManager()
	f := newTestFrontend("det1")
	if err := m.Add(context.Background(), "det1", KindDetector, f, device.ConnectParams{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(context.Background(), "det1", KindDetector, newTestFrontend("det1"), device.ConnectParams{}); err == nil {
		t.Fatal("expected duplicate registration to be rejected")
	}
}

func TestGetUnknownDeviceErrors(t *testing.T) {
	m := newTestManager()
	if _, err := m.Get("nope"); err == nil {
		t.Fatal("expected error for unregistered device")
	}
}

func TestRemoveDropsDevice(t *testing.T) {
	m := newTestManager()
	f := newTestFrontend("src1")
	if err := m.Add(context.Background(), "src1", KindSource, f, device.ConnectParams{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Remove("src1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get("src1"); err == nil {
		t.Fatal("expected device to be gone after Remove")
	}
}

func TestOfKindRequiresExactlyOne(t *testing.T) {
	m := newTestManager()
	if _, err := m.Source(); err == nil {
		t.Fatal("expected error when no source is registered")
	}
	if err := m.Add(context.Background(), "src1", KindSource, newTestFrontend("src1"), device.ConnectParams{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := m.Source(); err != nil {
		t.Fatalf("Source: %v", err)
	}
	if err := m.Add(context.Background(), "src2", KindSource, newTestFrontend("src2"), device.ConnectParams{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := m.Source(); err == nil {
		t.Fatal("expected error when more than one source is registered")
	}
}

func TestNamesListsRegisteredDevices(t *testing.T) {
	m := newTestManager()
	_ = m.Add(context.Background(), "a", KindMotor, newTestFrontend("a"), device.ConnectParams{})
	_ = m.Add(context.Background(), "b", KindMotor, newTestFrontend("b"), device.ConnectParams{})
	names := m.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 entries", names)
	}
}

func TestDisconnectAllClearsRegistry(t *testing.T) {
	m := newTestManager()
	_ = m.Add(context.Background(), "a", KindMotor, newTestFrontend("a"), device.ConnectParams{})
	_ = m.Add(context.Background(), "b", KindMotor, newTestFrontend("b"), device.ConnectParams{})
	m.DisconnectAll()
	if len(m.Names()) != 0 {
		t.Fatal("expected empty registry after DisconnectAll")
	}
}

func TestPanicDisconnectsFleet(t *testing.T) {
	m := newTestManager()
	_ = m.Add(context.Background(), "a", KindMotor, newTestFrontend("a"), device.ConnectParams{})
	m.Panic("test")
	if len(m.Names()) != 0 {
		t.Fatal("expected empty registry after Panic")
	}
}
