package jar_arm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"
)

// DispensePulse is the end effector motion performed over each jar.
type DispensePulse struct {
	ActiveDeg float64
	RestDeg   float64
	// Settle is waited after both joints stop, before the pulse starts.
	Settle time.Duration
	// Hold is how long the effector stays at ActiveDeg.
	Hold time.Duration
}

// MotionController moves both joints together and dispenses once they stop.
type MotionController struct {
	joint1   Joint
	joint2   Joint
	effector EndEffector
	pulse    DispensePulse
	logger   logging.Logger
}

// NewMotionController wires the two joints and the dispense actuator.
func NewMotionController(joint1, joint2 Joint, effector EndEffector, pulse DispensePulse, logger logging.Logger) (*MotionController, error) {
	if joint1.Stepper == nil || joint2.Stepper == nil {
		return nil, errors.New("both joints need a stepper")
	}
	if effector == nil {
		return nil, errors.New("an end effector is required for dispensing")
	}
	if joint1.Name == "" {
		joint1.Name = "joint1"
	}
	if joint2.Name == "" {
		joint2.Name = "joint2"
	}
	return &MotionController{
		joint1:   joint1,
		joint2:   joint2,
		effector: effector,
		pulse:    pulse,
		logger:   logger,
	}, nil
}

// Move travels to the next jar and dispenses into it. It blocks until both
// joints have finished and the pulse is over.
func (m *MotionController) Move(ctx context.Context, cmd MotionCommand) error {
	if err := m.drive(ctx, cmd); err != nil {
		return err
	}
	return m.Dispense(ctx)
}

// Home runs cmd without the dispense pulse.
func (m *MotionController) Home(ctx context.Context, cmd MotionCommand) error {
	return m.drive(ctx, cmd)
}

// drive steps both joints in parallel and returns once both are done. A
// motion is never abandoned halfway, so caller cancellation is ignored.
func (m *MotionController) drive(ctx context.Context, cmd MotionCommand) error {
	ctx = context.WithoutCancel(ctx)
	m.logger.Debugf("driving %s", cmd)

	var g errgroup.Group
	var err1, err2 error
	g.Go(func() error {
		err1 = m.stepJoint(ctx, m.joint1, cmd.Joint1Steps)
		return err1
	})
	g.Go(func() error {
		err2 = m.stepJoint(ctx, m.joint2, cmd.Joint2Steps)
		return err2
	})
	//nolint:errcheck
	g.Wait()

	return multierr.Combine(err1, err2)
}

func (m *MotionController) stepJoint(ctx context.Context, joint Joint, steps int) error {
	if steps == 0 {
		return nil
	}
	dir, count := joint.direction(steps)
	if err := joint.Stepper.Step(ctx, dir, count); err != nil {
		return errors.Wrapf(err, "%s failed stepping %d %s", joint.Name, count, dir)
	}
	return nil
}

// Dispense performs the end effector pulse. Callers must only invoke it with
// the arm stationary.
func (m *MotionController) Dispense(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	time.Sleep(m.pulse.Settle)
	if err := m.effector.SetAngle(ctx, m.pulse.ActiveDeg); err != nil {
		return errors.Wrap(err, "failed to move dispenser to active angle")
	}
	time.Sleep(m.pulse.Hold)
	if err := m.effector.SetAngle(ctx, m.pulse.RestDeg); err != nil {
		return errors.Wrap(err, "failed to return dispenser to rest angle")
	}
	return nil
}

// Release de-energizes both joints.
func (m *MotionController) Release(ctx context.Context) error {
	m.logger.Info("Releasing joint steppers")
	return multierr.Combine(
		errors.Wrapf(m.joint1.Stepper.Release(ctx), "failed to release %s", m.joint1.Name),
		errors.Wrapf(m.joint2.Stepper.Release(ctx), "failed to release %s", m.joint2.Name),
	)
}
