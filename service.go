package jar_arm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
)

var DispenserModel = resource.NewModel("devrel", "jar-arm", "dispenser")

func init() {
	resource.RegisterService(generic.API, DispenserModel,
		resource.Registration[resource.Resource, *JarArmConfig]{
			Constructor: newJarDispenser,
		},
	)
}

// Actuators are the three drivers the arm is built from. Close undoes
// whatever opening them took.
type Actuators struct {
	Joint1   Stepper
	Joint2   Stepper
	Effector EndEffector
	Close    func(ctx context.Context) error
}

// SimActuators replaces every actuator by an in-memory one paced like cfg.
func SimActuators(cfg *JarArmConfig, logger logging.Logger) Actuators {
	return Actuators{
		Joint1:   NewSimStepper("joint1", cfg.StepDelay(), logger),
		Joint2:   NewSimStepper("joint2", cfg.StepDelay(), logger),
		Effector: &SimEffector{},
	}
}

// NewArm wires a validated config and its actuators into a scheduler.
func NewArm(cfg *JarArmConfig, act Actuators, logger logging.Logger) (*Scheduler, error) {
	solver := NewSolver(*cfg.Links, cfg.DegenerateAxis, logger)
	home, err := cfg.HomeState(solver)
	if err != nil {
		return nil, err
	}
	motion, err := NewMotionController(
		Joint{Name: "joint1", Stepper: act.Joint1, Inverted: *cfg.Joint1.Inverted},
		Joint{Name: "joint2", Stepper: act.Joint2, Inverted: *cfg.Joint2.Inverted},
		act.Effector,
		cfg.Dispenser.Pulse(),
		logger,
	)
	if err != nil {
		return nil, err
	}
	return NewScheduler(*cfg.Grid, solver, cfg.StepConverter(), motion, home, cfg.Homing, logger), nil
}

type jarDispenser struct {
	resource.Named
	resource.AlwaysRebuild

	logger    logging.Logger
	cfg       *JarArmConfig
	scheduler *Scheduler
	closeAct  func(ctx context.Context) error

	runs sync.WaitGroup
}

func newJarDispenser(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*JarArmConfig](rawConf)
	if err != nil {
		return nil, err
	}
	act, err := actuatorsFromDependencies(ctx, deps, conf, logger)
	if err != nil {
		return nil, err
	}
	return newJarDispenserWithActuators(rawConf.ResourceName(), conf, act, logger)
}

func newJarDispenserWithActuators(name resource.Name, conf *JarArmConfig, act Actuators, logger logging.Logger) (*jarDispenser, error) {
	scheduler, err := NewArm(conf, act, logger)
	if err != nil {
		if act.Close != nil {
			err = multierr.Append(err, act.Close(context.Background()))
		}
		return nil, err
	}

	logger.Infof("Jar dispenser ready: %dx%d grid, links %.0f/%.0f mm, home %+v",
		conf.Grid.Columns, conf.Grid.Rows, conf.Links.Link1, conf.Links.Link2, scheduler.State())
	return &jarDispenser{
		Named:     name.AsNamed(),
		logger:    logger,
		cfg:       conf,
		scheduler: scheduler,
		closeAct:  act.Close,
	}, nil
}

// actuatorsFromDependencies opens the driver each part of the config names.
func actuatorsFromDependencies(ctx context.Context, deps resource.Dependencies, cfg *JarArmConfig, logger logging.Logger) (Actuators, error) {
	var act Actuators
	var closers []func(ctx context.Context) error
	fail := func(err error) (Actuators, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i](ctx))
		}
		return Actuators{}, err
	}

	var kit *motorKit
	if cfg.Joint1.MotorKitPort != 0 || cfg.Joint2.MotorKitPort != 0 || cfg.Dispenser.MotorKitChannel != nil {
		var err error
		if kit, err = openMotorKit(cfg); err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return kit.Close() })
	}

	var err error
	if act.Joint1, err = jointStepper(deps, kit, cfg.Joint1, "joint1", cfg, logger); err != nil {
		return fail(err)
	}
	if act.Joint2, err = jointStepper(deps, kit, cfg.Joint2, "joint2", cfg, logger); err != nil {
		return fail(err)
	}

	d := cfg.Dispenser
	switch {
	case d.Servo != "":
		s, err := servo.FromProvider(deps, d.Servo)
		if err != nil {
			return fail(err)
		}
		act.Effector = &servoEffector{servo: s}
	case d.Feetech != nil:
		bus, port, err := acquireFeetech(d.Feetech, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return feetechBuses.Release(port) })
		effector, err := newFeetechEffector(ctx, bus, d.Feetech.ServoID, *d.Feetech.Calibration)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, effector.Disable)
		act.Effector = effector
	case d.MotorKitChannel != nil:
		if act.Effector, err = kit.effector(*d.MotorKitChannel); err != nil {
			return fail(err)
		}
	default:
		logger.Warn("No dispenser driver configured, dispensing is simulated")
		act.Effector = &SimEffector{}
	}

	act.Close = func(ctx context.Context) error {
		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i](ctx))
		}
		return err
	}
	return act, nil
}

func jointStepper(
	deps resource.Dependencies,
	kit *motorKit,
	joint JointConfig,
	name string,
	cfg *JarArmConfig,
	logger logging.Logger,
) (Stepper, error) {
	switch {
	case joint.Motor != "":
		m, err := motor.FromDependencies(deps, joint.Motor)
		if err != nil {
			return nil, err
		}
		return newMotorStepper(m, joint.StepsPerRev, cfg.StepDelay()), nil
	case joint.Board != "":
		b, err := board.FromDependencies(deps, joint.Board)
		if err != nil {
			return nil, err
		}
		s, err := newGPIOStepper(b, joint, cfg.StepDelay())
		if err != nil {
			return nil, err
		}
		return s, nil
	case joint.MotorKitPort != 0:
		return kit.stepper(joint.MotorKitPort, cfg.StepDelay())
	default:
		logger.Warnf("No driver configured for %s, it is simulated", name)
		return NewSimStepper(name, cfg.StepDelay(), logger), nil
	}
}

func (s *jarDispenser) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "run":
		s.runs.Add(1)
		done, err := s.scheduler.Start(context.Background())
		if err != nil {
			s.runs.Done()
			return nil, err
		}
		go func() {
			defer s.runs.Done()
			if err := <-done; err != nil {
				s.logger.Errorf("Traversal failed: %v", err)
				return
			}
			s.logger.Info("Traversal complete")
		}()
		return map[string]interface{}{"started": true, "total": s.scheduler.grid.CellCount()}, nil

	case "status":
		return toMap(s.scheduler.Progress())

	case "plan":
		plans, err := s.scheduler.Plan()
		if err != nil {
			return nil, err
		}
		return toMap(map[string]interface{}{"cells": plans})

	case "solve":
		x, okX := cmd["x"].(float64)
		y, okY := cmd["y"].(float64)
		if !okX || !okY {
			return nil, fmt.Errorf("solve command requires numeric 'x' and 'y' parameters")
		}
		state := s.scheduler.State()
		sol, err := s.scheduler.Solver().Preview(CartesianTarget{X: x, Y: y}, &state)
		if err != nil {
			return nil, err
		}
		return toMap(map[string]interface{}{"solution": sol, "command": s.scheduler.steps.Command(sol)})

	case "move_to_cell":
		col, okCol := cmd["col"].(float64)
		row, okRow := cmd["row"].(float64)
		if !okCol || !okRow {
			return nil, fmt.Errorf("move_to_cell command requires numeric 'col' and 'row' parameters")
		}
		if col != math.Trunc(col) || row != math.Trunc(row) {
			return nil, fmt.Errorf("move_to_cell 'col' and 'row' must be whole numbers, got %v and %v", col, row)
		}
		dispense, _ := cmd["dispense"].(bool)
		plan, err := s.scheduler.MoveToCell(ctx, Cell{Col: int(col), Row: int(row)}, dispense)
		if err != nil {
			return nil, err
		}
		return toMap(plan)

	case "home":
		homing, err := s.scheduler.ReturnHome(ctx)
		if err != nil {
			return nil, err
		}
		return toMap(map[string]interface{}{"command": homing})

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// Close lets a traversal in progress finish before releasing the hardware.
func (s *jarDispenser) Close(ctx context.Context) error {
	s.logger.Info("Closing jar dispenser")
	s.runs.Wait()
	if s.closeAct == nil {
		return nil
	}
	return s.closeAct(ctx)
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode response")
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "failed to encode response")
	}
	return out, nil
}
