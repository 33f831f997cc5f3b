// Package motor implements the TMCM stepper-controller back-end: the TMCL
// wire protocol, raw↔physical unit conversion, the motion state machine,
// and the soft-limit file.
//
// Grounded on _examples/original_source/cct/core2/devices/motor/trinamic/
// (conversion.py, tmcl.py, backend.py).
package motor

import "fmt"

// UnitConverter turns between a controller's raw step/tick units and
// physical units (mm or degrees, mm/s, mm/s², mA) given its electrical and
// mechanical parameters.
type UnitConverter struct {
	TopRMSCurrent        float64 // mA, current_raw=255 corresponds to this
	FullStepSize         float64 // physical units per full motor step
	ClockFrequency       float64 // Hz
	PulseDivisor         int
	RampDivisor          int
	MicrostepResolution  int // log2(microsteps per full step)
}

// PositionToRaw converts a physical position to raw microsteps.
// position_raw = phys * 2^microstepres / fullstep
func (c UnitConverter) PositionToRaw(phys float64) int {
	return truncInt(phys * pow2(c.MicrostepResolution) / c.FullStepSize)
}

// PositionToPhys is the exact inverse of PositionToRaw.
func (c UnitConverter) PositionToPhys(raw int) float64 {
	return float64(raw) * c.FullStepSize / pow2(c.MicrostepResolution)
}

// SpeedToRaw converts a physical speed to the raw value, or an error if the
// result falls outside [-2047, 2047].
func (c UnitConverter) SpeedToRaw(phys float64) (int, error) {
	raw := truncInt(phys * pow2(c.PulseDivisor+c.MicrostepResolution+16) / (c.ClockFrequency * c.FullStepSize))
	if raw < -2047 || raw > 2047 {
		return 0, fmt.Errorf("speed %g out of raw range [-2047, 2047] (got %d)", phys, raw)
	}
	return raw, nil
}

// SpeedToPhys is the exact inverse of SpeedToRaw.
func (c UnitConverter) SpeedToPhys(raw int) float64 {
	return float64(raw) * c.ClockFrequency * c.FullStepSize / pow2(c.PulseDivisor+c.MicrostepResolution+16)
}

// AccelToRaw converts a physical acceleration to the raw value, or an error
// if the result falls outside [0, 2047].
func (c UnitConverter) AccelToRaw(phys float64) (int, error) {
	raw := truncInt(phys * pow2(c.PulseDivisor+c.RampDivisor+c.MicrostepResolution+29) /
		(c.FullStepSize * c.ClockFrequency * c.ClockFrequency))
	if raw < 0 || raw > 2047 {
		return 0, fmt.Errorf("acceleration %g out of raw range [0, 2047] (got %d)", phys, raw)
	}
	return raw, nil
}

// AccelToPhys is the exact inverse of AccelToRaw.
func (c UnitConverter) AccelToPhys(raw int) float64 {
	return float64(raw) * c.FullStepSize * c.ClockFrequency * c.ClockFrequency /
		pow2(c.PulseDivisor+c.RampDivisor+c.MicrostepResolution+29)
}

// CurrentToRaw converts a physical current (mA) to the raw value, or an
// error if the result falls outside [0, 255].
func (c UnitConverter) CurrentToRaw(phys float64) (int, error) {
	raw := truncInt(phys * 255 / c.TopRMSCurrent)
	if raw < 0 || raw > 255 {
		return 0, fmt.Errorf("current %g out of raw range [0, 255] (got %d)", phys, raw)
	}
	return raw, nil
}

// CurrentToPhys is the exact inverse of CurrentToRaw.
func (c UnitConverter) CurrentToPhys(raw int) float64 {
	return float64(raw) * c.TopRMSCurrent / 255
}

// MaximumSpeed returns the largest physical speed representable at raw 2047.
func (c UnitConverter) MaximumSpeed() float64 { return c.SpeedToPhys(2047) }

// MaximumAcceleration returns the largest physical acceleration representable at raw 2047.
func (c UnitConverter) MaximumAcceleration() float64 { return c.AccelToPhys(2047) }

// MaximumCurrent returns TopRMSCurrent (raw 255).
func (c UnitConverter) MaximumCurrent() float64 { return c.TopRMSCurrent }

// SpeedStep returns the physical-unit size of one raw speed increment.
func (c UnitConverter) SpeedStep() float64 { return c.SpeedToPhys(1) - c.SpeedToPhys(0) }

// AccelerationStep returns the physical-unit size of one raw acceleration increment.
func (c UnitConverter) AccelerationStep() float64 { return c.AccelToPhys(1) - c.AccelToPhys(0) }

// CurrentStep returns the physical-unit size of one raw current increment.
func (c UnitConverter) CurrentStep() float64 { return c.CurrentToPhys(1) - c.CurrentToPhys(0) }

func pow2(exp int) float64 {
	if exp >= 0 {
		r := 1.0
		for i := 0; i < exp; i++ {
			r *= 2
		}
		return r
	}
	r := 1.0
	for i := 0; i < -exp; i++ {
		r /= 2
	}
	return r
}

// truncInt truncates toward zero, matching Python's int() on a float.
func truncInt(f float64) int {
	return int(f)
}
