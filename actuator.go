package jar_arm

import "context"

// Direction is the rotational sense of a single stepper move.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Stepper is a relative actuator with no position sensing. Step blocks until
// every step has been taken at the stepper's configured pacing.
type Stepper interface {
	Step(ctx context.Context, dir Direction, count uint) error
	// Release removes holding torque.
	Release(ctx context.Context) error
}

// EndEffector is the dispense actuator, positioned by absolute angle.
type EndEffector interface {
	SetAngle(ctx context.Context, degrees float64) error
}

// Joint binds a stepper to its mounting. Inverted flips which direction a
// positive step count turns the motor.
type Joint struct {
	Name     string
	Stepper  Stepper
	Inverted bool
}

// direction returns the sense and magnitude for a signed step count.
func (j Joint) direction(steps int) (Direction, uint) {
	dir := Forward
	if steps < 0 {
		dir = Backward
		steps = -steps
	}
	if j.Inverted {
		dir = 1 - dir
	}
	return dir, uint(steps)
}
