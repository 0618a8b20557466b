package jar_arm

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// stsResolution is the number of raw position units in a full STS3215 turn.
const stsResolution = 4095

// DegreeCalibration maps a bus servo's raw position range onto degrees, with
// 0° at the centre of the range.
type DegreeCalibration struct {
	RangeMin int  `json:"range_min"`
	RangeMax int  `json:"range_max"`
	Reversed bool `json:"reversed,omitempty"`
}

// DefaultDegreeCalibration covers the full STS3215 travel.
var DefaultDegreeCalibration = DegreeCalibration{RangeMin: 0, RangeMax: stsResolution}

func (c DegreeCalibration) center() float64 {
	return float64(c.RangeMin+c.RangeMax) / 2.0
}

// Validate checks the range fits the servo.
func (c DegreeCalibration) Validate() error {
	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}
	if c.RangeMin < 0 || c.RangeMax > stsResolution {
		return fmt.Errorf("range values must be between 0-%d, got min=%d max=%d", stsResolution, c.RangeMin, c.RangeMax)
	}
	return nil
}

// Degrees converts a raw position to degrees.
func (c DegreeCalibration) Degrees(raw int) float64 {
	deg := (float64(raw) - c.center()) * 360 / stsResolution
	if c.Reversed {
		return -deg
	}
	return deg
}

// Raw converts degrees to the nearest raw position, clamped to the range.
func (c DegreeCalibration) Raw(deg float64) int {
	if c.Reversed {
		deg = -deg
	}
	raw := int(math.Round(deg*stsResolution/360 + c.center()))
	if raw < c.RangeMin {
		raw = c.RangeMin
	}
	if raw > c.RangeMax {
		raw = c.RangeMax
	}
	return raw
}

// positioner is the part of feetech.Servo the dispenser uses.
type positioner interface {
	SetPosition(ctx context.Context, position int) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
}

// feetechEffector is a dispenser on a Feetech bus servo.
type feetechEffector struct {
	servo       positioner
	calibration DegreeCalibration
	mu          sync.Mutex
}

func newFeetechEffector(ctx context.Context, bus *feetech.Bus, id int, calibration DegreeCalibration) (*feetechEffector, error) {
	if err := calibration.Validate(); err != nil {
		return nil, err
	}
	servo := feetech.NewServo(bus, id, &feetech.ModelSTS3215)
	if _, err := servo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("dispense servo %d did not answer: %w", id, err)
	}
	e := &feetechEffector{servo: servo, calibration: calibration}
	if err := e.servo.Enable(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable dispense servo %d: %w", id, err)
	}
	return e, nil
}

func (e *feetechEffector) SetAngle(ctx context.Context, degrees float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.servo.SetPosition(ctx, e.calibration.Raw(degrees)); err != nil {
		return fmt.Errorf("failed to set position: %w", err)
	}
	return nil
}

// Disable removes torque from the dispense servo.
func (e *feetechEffector) Disable(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.servo.Disable(ctx)
}
