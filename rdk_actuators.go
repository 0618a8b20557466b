package jar_arm

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/utils"
)

// motorStepper drives a joint through a motor component. The step pacing is
// turned into the rpm GoFor wants.
type motorStepper struct {
	motor       motor.Motor
	stepsPerRev int
	stepDelay   time.Duration
}

func newMotorStepper(m motor.Motor, stepsPerRev int, stepDelay time.Duration) *motorStepper {
	return &motorStepper{motor: m, stepsPerRev: stepsPerRev, stepDelay: stepDelay}
}

// rpm is the speed at which one step takes stepDelay.
func (s *motorStepper) rpm() float64 {
	if s.stepDelay <= 0 {
		return 60
	}
	return 60 / (s.stepDelay.Seconds() * float64(s.stepsPerRev))
}

func (s *motorStepper) Step(ctx context.Context, dir Direction, count uint) error {
	if count == 0 {
		return nil
	}
	revs := float64(count) / float64(s.stepsPerRev)
	if dir == Backward {
		revs = -revs
	}
	return s.motor.GoFor(ctx, s.rpm(), revs, nil)
}

func (s *motorStepper) Release(ctx context.Context) error {
	return s.motor.Stop(ctx, nil)
}

// gpioStepper toggles step and direction pins on a board for a bare stepper
// driver. The enable pin energizes the coils at the level enableLevel.
type gpioStepper struct {
	step        board.GPIOPin
	dir         board.GPIOPin
	enable      board.GPIOPin
	enableLevel bool
	stepDelay   time.Duration
}

func newGPIOStepper(b board.Board, cfg JointConfig, stepDelay time.Duration) (*gpioStepper, error) {
	step, err := b.GPIOPinByName(cfg.StepPin)
	if err != nil {
		return nil, errors.Wrapf(err, "step pin %q", cfg.StepPin)
	}
	dir, err := b.GPIOPinByName(cfg.DirPin)
	if err != nil {
		return nil, errors.Wrapf(err, "dir pin %q", cfg.DirPin)
	}
	s := &gpioStepper{step: step, dir: dir, enableLevel: !cfg.EnableActiveLow, stepDelay: stepDelay}
	if cfg.EnablePin != "" {
		if s.enable, err = b.GPIOPinByName(cfg.EnablePin); err != nil {
			return nil, errors.Wrapf(err, "enable pin %q", cfg.EnablePin)
		}
	}
	return s, nil
}

func (s *gpioStepper) Step(ctx context.Context, dir Direction, count uint) error {
	if err := s.dir.Set(ctx, dir == Forward, nil); err != nil {
		return err
	}
	if s.enable != nil {
		if err := s.enable.Set(ctx, s.enableLevel, nil); err != nil {
			return err
		}
	}
	for i := uint(0); i < count; i++ {
		if err := s.step.Set(ctx, true, nil); err != nil {
			return err
		}
		if err := s.step.Set(ctx, false, nil); err != nil {
			return err
		}
		if !utils.SelectContextOrWait(ctx, s.stepDelay) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *gpioStepper) Release(ctx context.Context) error {
	if s.enable == nil {
		return nil
	}
	return s.enable.Set(ctx, !s.enableLevel, nil)
}

// servoEffector positions the dispenser with a servo component.
type servoEffector struct {
	servo servo.Servo
}

func (e *servoEffector) SetAngle(ctx context.Context, degrees float64) error {
	angle := math.Round(math.Max(0, math.Min(180, degrees)))
	return e.servo.Move(ctx, uint32(angle), nil)
}
