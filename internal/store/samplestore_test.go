package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/configtree"
	"github.com/awacha/cctd/internal/device"
)

type noFrontends struct{}

func (noFrontends) Get(name string) (*device.Frontend, error) {
	return nil, nilFrontendErr(name)
}

type nilFrontendErrT string

func (e nilFrontendErrT) Error() string { return "no frontend named " + string(e) }
func nilFrontendErr(name string) error  { return nilFrontendErrT(name) }

func newTestStore() *SampleStore {
	cfg := configtree.New(zap.NewNop(), 0)
	return New(cfg, noFrontends{}, SampleStoreConfig{
		XMotor:  MotorRef{Device: "sample_x", Axis: 0},
		YMotor:  MotorRef{Device: "sample_y", Axis: 0},
		CfgRoot: configtree.Key{"services", "samplestore"},
	}, zap.NewNop())
}

func TestAddRemoveSample(t *testing.T) {
	s := newTestStore()
	title, err := s.AddSample("Water", nil)
	if err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if title != "Water" {
		t.Fatalf("title = %q, want Water", title)
	}
	if !s.Contains("Water") {
		t.Fatal("store should contain Water")
	}
	if err := s.RemoveSample("Water"); err != nil {
		t.Fatalf("RemoveSample: %v", err)
	}
	if s.Contains("Water") {
		t.Fatal("store should not contain Water after removal")
	}
}

func TestAddSampleDuplicateTitleRejected(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddSample("Water", nil); err != nil {
		t.Fatalf("AddSample: %v", err)
	}
	if _, err := s.AddSample("Water", nil); err == nil {
		t.Fatal("expected error adding duplicate title")
	}
}

func TestUpdateSampleRejectsLockedAttribute(t *testing.T) {
	s := newTestStore()
	s.AddSample("Water", nil)
	if err := s.SetLock("Water", "thickness", true); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if _, err := s.UpdateSample("Water", "thickness", FloatParam{Value: 2.0}); err == nil {
		t.Fatal("expected lock violation error")
	}
	if _, err := s.UpdateSample("Water", "description", "a sample"); err != nil {
		t.Fatalf("UpdateSample unlocked attribute: %v", err)
	}
	sm, err := s.Get("Water")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sm.Description != "a sample" {
		t.Errorf("Description = %q, want %q", sm.Description, "a sample")
	}
}

func TestUpdateSampleRejectsTitleCollision(t *testing.T) {
	s := newTestStore()
	s.AddSample("Water", nil)
	s.AddSample("Buffer", nil)
	if _, err := s.UpdateSample("Water", "title", "Buffer"); err == nil {
		t.Fatal("expected title collision error")
	}
}

func TestUpdateSampleNoOpOnUnchangedValue(t *testing.T) {
	s := newTestStore()
	s.AddSample("Water", nil)
	changed, err := s.UpdateSample("Water", "preparedby", "Anonymous")
	if err != nil {
		t.Fatalf("UpdateSample: %v", err)
	}
	if changed {
		t.Error("expected no-op for unchanged value")
	}
}

func TestSetCurrentSampleUnknownRejected(t *testing.T) {
	s := newTestStore()
	if err := s.SetCurrentSample("Nope"); err == nil {
		t.Fatal("expected error for unknown sample")
	}
}

func TestSortedSamplesOfCategory(t *testing.T) {
	s := newTestStore()
	s.AddSample("B", nil)
	s.AddSample("A", nil)
	s.UpdateSample("A", "category", CategoryBuffer)
	s.UpdateSample("B", "category", CategoryBuffer)
	got := s.SortedSamplesOfCategory(CategoryBuffer)
	if len(got) != 2 || got[0].Title != "A" || got[1].Title != "B" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMoveToSampleRejectsWhenPanicking(t *testing.T) {
	s := newTestStore()
	s.AddSample("Water", nil)
	s.Panic()
	if err := s.MoveToSample("Water", "both"); err == nil {
		t.Fatal("expected panic rejection")
	}
}

func TestMoveToSampleRejectsUnknownMotor(t *testing.T) {
	s := newTestStore()
	s.AddSample("Water", nil)
	if err := s.MoveToSample("Water", "both"); err == nil {
		t.Fatal("expected error: no motor frontends registered")
	}
}
