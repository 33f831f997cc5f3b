package orchestrator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/configtree"
	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/store"
)

type noFrontends struct{}

func (noFrontends) Get(name string) (*device.Frontend, error) {
	return nil, errNoFrontend(name)
}

type errNoFrontend string

func (e errNoFrontend) Error() string { return "no frontend named " + string(e) }

func newTestSampleStore() *store.SampleStore {
	cfg := configtree.New(zap.NewNop(), 0)
	return store.New(cfg, noFrontends{}, store.SampleStoreConfig{
		XMotor:  store.MotorRef{Device: "sample_x", Axis: 0},
		YMotor:  store.MotorRef{Device: "sample_y", Axis: 0},
		CfgRoot: configtree.Key{"services", "samplestore"},
	}, zap.NewNop())
}

func newTestTransmission(t *testing.T) (*Transmission, *store.SampleStore) {
	t.Helper()
	loop := device.NewEventLoop(nopObserver{}, time.Second)
	devices := devicemanager.New(loop, zap.NewNop())
	samples := newTestSampleStore()
	beamstop := BeamstopMotors{
		X: store.MotorRef{Device: "beamstop_x", Axis: 0},
		Y: store.MotorRef{Device: "beamstop_y", Axis: 0},
	}
	tx := NewTransmission(devices, beamstop, samples, Counter{Device: "detector"}, zap.NewNop())
	return tx, samples
}

func TestRunTransmissionRejectsUnknownEmptySample(t *testing.T) {
	tx, samples := newTestTransmission(t)
	if _, err := samples.AddSample("Water", nil); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if err := tx.RunTransmission([]string{"Water"}, "NoSuchEmpty", 1.0, 1, 0, false, false); err == nil {
		t.Fatal("expected error for an unknown empty-beam sample")
	}
}

func TestRunTransmissionRejectsUnknownSample(t *testing.T) {
	tx, samples := newTestTransmission(t)
	if _, err := samples.AddSample("Empty", nil); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if err := tx.RunTransmission([]string{"NoSuchSample"}, "Empty", 1.0, 1, 0, false, false); err == nil {
		t.Fatal("expected error for an unknown sample title")
	}
}

func TestRunTransmissionLazySkipsAlreadyMeasuredSamples(t *testing.T) {
	tx, samples := newTestTransmission(t)
	if _, err := samples.AddSample("Empty", nil); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if _, err := samples.AddSample("Water", nil); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if _, err := samples.UpdateSample("Water", "transmission", store.FloatParam{Value: 0.8, Err: 0.01}); err != nil {
		t.Fatalf("UpdateSample: %v", err)
	}
	if err := tx.RunTransmission([]string{"Water"}, "Empty", 1.0, 1, 0, true, false); err == nil {
		t.Fatal("expected lazy mode to skip the only (already measured) sample and report an error")
	}
}

func TestNearestNeighborOrderVisitsClosestFirst(t *testing.T) {
	empty := &store.Sample{Title: "Empty"}
	far := &store.Sample{Title: "Far", PositionX: store.FloatParam{Value: 100}}
	near := &store.Sample{Title: "Near", PositionX: store.FloatParam{Value: 1}}
	ordered := nearestNeighborOrder([]*store.Sample{far, near}, empty)
	if len(ordered) != 2 || ordered[0].Title != "Near" || ordered[1].Title != "Far" {
		t.Errorf("nearestNeighborOrder = %v, want [Near, Far]", titlesOf(ordered))
	}
}

func TestTitleOrderSortsLexicographically(t *testing.T) {
	b := &store.Sample{Title: "B"}
	a := &store.Sample{Title: "A"}
	ordered := titleOrder([]*store.Sample{b, a})
	if titlesOf(ordered)[0] != "A" || titlesOf(ordered)[1] != "B" {
		t.Errorf("titleOrder = %v, want [A, B]", titlesOf(ordered))
	}
}

func titlesOf(samples []*store.Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Title
	}
	return out
}

func TestStopTransmissionIsNoOpWithoutARunningMeasurement(t *testing.T) {
	tx, _ := newTestTransmission(t)
	tx.Stop() // must not panic
}

func TestTickIsNoOpWithoutARunningMeasurement(t *testing.T) {
	tx, _ := newTestTransmission(t)
	tx.Tick() // must not panic
}
