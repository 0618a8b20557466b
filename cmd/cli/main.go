package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"

	jararm "jar_arm"
)

const (
	flagConfig   = "config"
	flagBackend  = "backend"
	flagDebug    = "debug"
	flagNoPacing = "no-pacing"
	flagX        = "x"
	flagY        = "y"

	backendSim      = "sim"
	backendMotorKit = "motorkit"
)

func main() {
	app := &cli.App{
		Name:  "jar-arm",
		Usage: "plan and run the jar dispensing arm without a robot server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load arm attributes from `FILE` (defaults when empty)",
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Value: backendSim,
				Usage: "actuators to drive: sim or motorkit",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "plan",
				Usage:  "print every cell with its angles and steps",
				Action: planAction,
			},
			{
				Name:  "run",
				Usage: "visit every jar, dispense, and return home",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagNoPacing,
						Usage: "skip step and dispense delays on the sim backend",
					},
				},
				Action: runAction,
			},
			{
				Name:  "solve",
				Usage: "solve a single target from home",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagX, Required: true, Usage: "x in `MM` from the shoulder"},
					&cli.Float64Flag{Name: flagY, Required: true, Usage: "y in `MM` from the shoulder"},
				},
				Action: solveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("jar-arm")
	}
	return logging.NewLogger("jar-arm")
}

func loadConfig(c *cli.Context) (*jararm.JarArmConfig, error) {
	path := c.String(flagConfig)
	if path == "" {
		cfg := &jararm.JarArmConfig{Simulate: true}
		if _, _, err := cfg.Validate("config"); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return jararm.LoadConfigFromFile(path)
}

func buildArm(c *cli.Context, logger logging.Logger) (*jararm.Scheduler, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if c.Bool(flagNoPacing) {
		cfg.StepDelayMs = 0
		zero := 0
		cfg.Dispenser.SettleMs = &zero
		cfg.Dispenser.HoldMs = &zero
	}

	var act jararm.Actuators
	switch backend := c.String(flagBackend); backend {
	case backendSim:
		act = jararm.SimActuators(cfg, logger)
	case backendMotorKit:
		if act, err = jararm.MotorKitActuators(cfg); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, errors.Errorf("unknown backend %q", backend)
	}

	scheduler, err := jararm.NewArm(cfg, act, logger)
	closeFn := func() {
		if act.Close == nil {
			return
		}
		if err := act.Close(context.Background()); err != nil {
			logger.Warnf("error closing actuators: %v", err)
		}
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return scheduler, closeFn, nil
}

func planAction(c *cli.Context) error {
	logger := newLogger(c)
	scheduler, closeFn, err := buildArm(c, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	plans, err := scheduler.Plan()
	if err != nil {
		return err
	}
	for _, p := range plans {
		fmt.Fprintf(c.App.Writer, "%-8s %-22s shoulder=%9.4f elbow=%9.4f  %s\n",
			p.Cell, p.Solution.Target, p.Solution.ShoulderDeg, p.Solution.ElbowDeg, p.Command)
	}
	return nil
}

func runAction(c *cli.Context) error {
	logger := newLogger(c)
	scheduler, closeFn, err := buildArm(c, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := scheduler.Run(c.Context); err != nil {
		return errors.Wrap(err, "traversal failed")
	}
	return printJSON(c, scheduler.Progress())
}

func solveAction(c *cli.Context) error {
	logger := newLogger(c)
	scheduler, closeFn, err := buildArm(c, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	state := scheduler.State()
	sol, err := scheduler.Solver().Solve(jararm.CartesianTarget{X: c.Float64(flagX), Y: c.Float64(flagY)}, &state)
	if err != nil {
		return err
	}
	return printJSON(c, sol)
}

func printJSON(c *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}
