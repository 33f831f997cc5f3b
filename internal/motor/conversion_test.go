package motor

import "testing"

func testConverter() UnitConverter {
	return UnitConverter{
		TopRMSCurrent:       1500,
		FullStepSize:        1.0 / 200, // mm per full step, e.g. 200 steps/mm lead screw
		ClockFrequency:      16e6,
		PulseDivisor:        3,
		RampDivisor:         7,
		MicrostepResolution: 6,
	}
}

func TestPositionRoundTrip(t *testing.T) {
	c := testConverter()
	for _, phys := range []float64{0, 1, -1, 12.345, -87.6} {
		raw := c.PositionToRaw(phys)
		back := c.PositionToPhys(raw)
		if got := c.PositionToRaw(back); got != raw {
			t.Errorf("position %g: raw %d round-trips to raw %d via phys %g", phys, raw, got, back)
		}
	}
}

func TestSpeedRawRange(t *testing.T) {
	c := testConverter()
	if _, err := c.SpeedToRaw(c.MaximumSpeed() * 10); err == nil {
		t.Error("expected out-of-range error for speed far beyond maximum")
	}
	raw, err := c.SpeedToRaw(0)
	if err != nil || raw != 0 {
		t.Errorf("zero speed: got raw=%d err=%v, want raw=0 err=nil", raw, err)
	}
}

func TestAccelRawRange(t *testing.T) {
	c := testConverter()
	if _, err := c.AccelToRaw(-1); err == nil {
		t.Error("expected out-of-range error for negative acceleration")
	}
	if _, err := c.AccelToRaw(c.MaximumAcceleration() * 100); err == nil {
		t.Error("expected out-of-range error for acceleration far beyond maximum")
	}
}

func TestCurrentRawRange(t *testing.T) {
	c := testConverter()
	raw, err := c.CurrentToRaw(c.TopRMSCurrent)
	if err != nil || raw != 255 {
		t.Errorf("current at TopRMSCurrent: got raw=%d err=%v, want raw=255 err=nil", raw, err)
	}
	if _, err := c.CurrentToRaw(c.TopRMSCurrent * 2); err == nil {
		t.Error("expected out-of-range error for current beyond TopRMSCurrent")
	}
}

func TestRawToPhysToRawExact(t *testing.T) {
	c := testConverter()
	for raw := -100; raw <= 100; raw += 37 {
		phys := c.PositionToPhys(raw)
		if got := c.PositionToRaw(phys); got != raw {
			t.Errorf("raw %d -> phys %g -> raw %d, want exact round trip", raw, phys, got)
		}
	}
}
