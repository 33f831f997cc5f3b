package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/configtree"
)

func newTestCalibrantStore() *CalibrantStore {
	cfg := configtree.New(zap.NewNop(), 0)
	return NewCalibrantStore(cfg, configtree.Key{"calibrants"}, zap.NewNop())
}

func TestAddQCalibrantGetsFreeName(t *testing.T) {
	s := newTestCalibrantStore()
	c1 := s.AddQCalibrant()
	c2 := s.AddQCalibrant()
	if c1.Name == c2.Name {
		t.Fatalf("expected distinct auto-generated names, got %q twice", c1.Name)
	}
}

func TestRemoveCalibrant(t *testing.T) {
	s := newTestCalibrantStore()
	c := s.AddQCalibrant()
	if err := s.RemoveCalibrant(c.Name); err != nil {
		t.Fatalf("RemoveCalibrant: %v", err)
	}
	if _, err := s.Get(c.Name); err == nil {
		t.Fatal("expected error after removal")
	}
}

func TestSetPeaksRejectsIntensityCalibrant(t *testing.T) {
	s := newTestCalibrantStore()
	c := s.AddIntensityCalibrant()
	if err := s.SetPeaks(c.Name, []QPeak{{Name: "p1", Q: 1.0}}); err == nil {
		t.Fatal("expected error setting peaks on an intensity calibrant")
	}
}

func TestSetDataFileRejectsQCalibrant(t *testing.T) {
	s := newTestCalibrantStore()
	c := s.AddQCalibrant()
	if err := s.SetDataFile(c.Name, "/tmp/ref.dat"); err == nil {
		t.Fatal("expected error setting data file on a Q calibrant")
	}
}

func TestMatchSample(t *testing.T) {
	s := newTestCalibrantStore()
	c := s.AddQCalibrant()
	if err := s.Rename(c.Name, "AgBeh"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := s.SetRegex("AgBeh", "^AgBeh.*$"); err != nil {
		t.Fatalf("SetRegex: %v", err)
	}
	match := s.MatchSample("AgBeh_2024")
	if match == nil || match.Name != "AgBeh" {
		t.Fatalf("expected AgBeh to match, got %+v", match)
	}
	if s.MatchSample("Water") != nil {
		t.Fatal("expected no match for Water")
	}
}

func TestQAndIntensityCalibrantsPartitioned(t *testing.T) {
	s := newTestCalibrantStore()
	s.AddQCalibrant()
	s.AddIntensityCalibrant()
	if len(s.QCalibrants()) != 1 {
		t.Errorf("QCalibrants: got %d, want 1", len(s.QCalibrants()))
	}
	if len(s.IntensityCalibrants()) != 1 {
		t.Errorf("IntensityCalibrants: got %d, want 1", len(s.IntensityCalibrants()))
	}
}
