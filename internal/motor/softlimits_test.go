package motor

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestSoftLimitsRoundTrip(t *testing.T) {
	axes := []AxisLimits{
		{Index: 0, Position: 12.5, Left: -100, Right: 100},
		{Index: 1, Position: -3.25, Left: -10, Right: 10},
	}
	path := filepath.Join(t.TempDir(), "softlimits.txt")
	if err := SaveSoftLimits(path, axes); err != nil {
		t.Fatalf("SaveSoftLimits: %v", err)
	}
	got, err := LoadSoftLimits(path)
	if err != nil {
		t.Fatalf("LoadSoftLimits: %v", err)
	}
	if !reflect.DeepEqual(got, axes) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, axes)
	}
}

func TestParseSoftLimitLine(t *testing.T) {
	al, err := parseSoftLimitLine("3: -5.5 (-20, 20)")
	if err != nil {
		t.Fatalf("parseSoftLimitLine: %v", err)
	}
	want := AxisLimits{Index: 3, Position: -5.5, Left: -20, Right: 20}
	if al != want {
		t.Errorf("got %+v, want %+v", al, want)
	}
}

func TestParseSoftLimitLineMalformed(t *testing.T) {
	cases := []string{"no colon here", "1: missing parens", "1: 2.0 (onlyone)"}
	for _, c := range cases {
		if _, err := parseSoftLimitLine(c); err == nil {
			t.Errorf("expected error parsing %q", c)
		}
	}
}
