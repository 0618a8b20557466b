package jar_arm

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ErrBusy is returned when a motion is requested while another is running.
var ErrBusy = errors.New("arm is already moving")

// Phase is the coarse state of the scheduler.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseMoving  Phase = "moving"
	PhaseHoming  Phase = "homing"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

// HomingMode selects how the return move to home is computed.
type HomingMode string

const (
	// HomingAngle converts the angular distance from the current pose back to
	// home into steps. Steps lost to truncation during the sweep stay lost,
	// so the motors can stop a few steps short of where they started. This is
	// the default.
	HomingAngle HomingMode = "angle"
	// HomingLedger undoes every step issued since home, which returns the
	// motors exactly to where they started.
	HomingLedger HomingMode = "ledger"
)

// Validate accepts the empty mode as the default.
func (m HomingMode) Validate() error {
	switch m {
	case "", HomingAngle, HomingLedger:
		return nil
	default:
		return fmt.Errorf("homing must be %q or %q, got %q", HomingAngle, HomingLedger, m)
	}
}

// CellError ties a failure to the jar being visited.
type CellError struct {
	Cell Cell
	Err  error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %s: %v", e.Cell, e.Err)
}

func (e *CellError) Unwrap() error {
	return e.Err
}

// CellPlan is what visiting a cell will do.
type CellPlan struct {
	Cell     Cell          `json:"cell"`
	Solution Solution      `json:"solution"`
	Command  MotionCommand `json:"command"`
}

// Progress is a snapshot of the scheduler, safe to read while it runs.
type Progress struct {
	Phase   Phase         `json:"phase"`
	Done    int           `json:"done"`
	Total   int           `json:"total"`
	Current *Cell         `json:"current,omitempty"`
	State   ArmState      `json:"state"`
	Issued  MotionCommand `json:"issued_steps"`
	Err     string        `json:"error,omitempty"`
}

// Scheduler walks the grid in serpentine order, dispensing into every jar,
// then takes the arm home.
type Scheduler struct {
	grid   GridSpec
	solver *Solver
	steps  StepConverter
	motion *MotionController
	home   ArmState
	homing HomingMode
	logger logging.Logger

	mu       sync.Mutex
	busy     bool
	state    ArmState
	issued   MotionCommand
	progress Progress
}

// NewScheduler starts with the arm at home. An empty homing mode means
// HomingAngle.
func NewScheduler(
	grid GridSpec,
	solver *Solver,
	steps StepConverter,
	motion *MotionController,
	home ArmState,
	homing HomingMode,
	logger logging.Logger,
) *Scheduler {
	if homing == "" {
		homing = HomingAngle
	}
	return &Scheduler{
		grid:     grid,
		solver:   solver,
		steps:    steps,
		motion:   motion,
		home:     home,
		homing:   homing,
		logger:   logger,
		state:    home,
		progress: Progress{Phase: PhaseIdle, Total: grid.CellCount(), State: home},
	}
}

// Solver is the inverse kinematics the scheduler plans with.
func (s *Scheduler) Solver() *Solver {
	return s.solver
}

// Cells is the visiting order.
func (s *Scheduler) Cells() []Cell {
	return s.grid.SerpentineOrder()
}

// State returns the believed pose.
func (s *Scheduler) State() ArmState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Issued is the running total of steps sent to each joint since the arm was
// last at home.
func (s *Scheduler) Issued() MotionCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

// Progress returns a snapshot for status reporting.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress
	p.State = s.state
	p.Issued = s.issued
	return p
}

// Plan solves every cell in order from the current pose without moving
// anything. The first unreachable cell aborts the plan.
func (s *Scheduler) Plan() ([]CellPlan, error) {
	state := s.State()
	cells := s.Cells()
	plans := make([]CellPlan, 0, len(cells))
	for _, cell := range cells {
		sol, err := s.solver.Preview(s.grid.Point(cell), &state)
		if err != nil {
			return nil, &CellError{Cell: cell, Err: err}
		}
		plans = append(plans, CellPlan{Cell: cell, Solution: sol, Command: s.steps.Command(sol)})
	}
	return plans, nil
}

// Run visits every jar and homes. The whole rack is planned first so an
// unreachable jar stops the run before the arm moves. Any failure after that
// leaves the joints energized where they stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.begin(PhaseRunning); err != nil {
		return err
	}
	err := s.run(ctx)
	s.finish(err)
	return err
}

// Start begins Run in the background. The channel receives its result once.
func (s *Scheduler) Start(ctx context.Context) (<-chan error, error) {
	if err := s.begin(PhaseRunning); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		err := s.run(ctx)
		s.finish(err)
		done <- err
	}()
	return done, nil
}

func (s *Scheduler) run(ctx context.Context) error {
	if _, err := s.Plan(); err != nil {
		return err
	}

	cells := s.Cells()
	s.logger.Infof("Starting traversal of %d jars", len(cells))
	for i, cell := range cells {
		if _, err := s.visit(ctx, cell, true); err != nil {
			return err
		}
		s.mu.Lock()
		s.progress.Done = i + 1
		s.mu.Unlock()
		s.logger.Info("---------------------------------------------")
	}

	s.setPhase(PhaseHoming)
	if _, err := s.returnHome(ctx); err != nil {
		return err
	}
	return s.motion.Release(ctx)
}

// MoveToCell moves to a single jar, dispensing if asked.
func (s *Scheduler) MoveToCell(ctx context.Context, cell Cell, dispense bool) (CellPlan, error) {
	if !s.grid.Contains(cell) {
		return CellPlan{}, errors.Errorf("cell %s is outside the %dx%d grid", cell, s.grid.Columns, s.grid.Rows)
	}
	if err := s.begin(PhaseMoving); err != nil {
		return CellPlan{}, err
	}
	plan, err := s.visit(ctx, cell, dispense)
	s.finish(err)
	return plan, err
}

// ReturnHome moves back to home without dispensing, releases the joints, and
// returns the homing command.
func (s *Scheduler) ReturnHome(ctx context.Context) (MotionCommand, error) {
	if err := s.begin(PhaseHoming); err != nil {
		return MotionCommand{}, err
	}
	cmd, err := s.returnHome(ctx)
	if err == nil {
		err = s.motion.Release(ctx)
	}
	s.finish(err)
	return cmd, err
}

func (s *Scheduler) visit(ctx context.Context, cell Cell, dispense bool) (CellPlan, error) {
	target := s.grid.Point(cell)

	s.mu.Lock()
	state := s.state
	s.progress.Current = &cell
	s.mu.Unlock()

	sol, err := s.solver.Solve(target, &state)
	if err != nil {
		return CellPlan{}, &CellError{Cell: cell, Err: err}
	}
	cmd := s.steps.Command(sol)

	s.mu.Lock()
	s.state = state
	s.issued = s.issued.Add(cmd)
	s.mu.Unlock()

	s.logger.Debugf("cell %s target %s -> %s", cell, target, cmd)
	if dispense {
		err = s.motion.Move(ctx, cmd)
	} else {
		err = s.motion.Home(ctx, cmd)
	}
	if err != nil {
		return CellPlan{}, &CellError{Cell: cell, Err: err}
	}
	return CellPlan{Cell: cell, Solution: sol, Command: cmd}, nil
}

// HomingCommand is the move that takes the arm home from its current pose
// under the configured homing mode.
func (s *Scheduler) HomingCommand() MotionCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homingCommand()
}

func (s *Scheduler) homingCommand() MotionCommand {
	if s.homing == HomingLedger {
		return s.issued.Negate()
	}
	return MotionCommand{
		Joint1Steps: s.steps.Joint1.ToSteps(s.home.ShoulderDeg - s.state.ShoulderDeg),
		Joint2Steps: s.steps.Joint2.ToSteps(s.home.ElbowDeg - s.state.ElbowDeg),
	}
}

// returnHome runs the homing command and resets the pose and the step ledger.
// Under HomingAngle the motors may end up short of home by the truncation
// drift, which is logged.
func (s *Scheduler) returnHome(ctx context.Context) (MotionCommand, error) {
	s.mu.Lock()
	cmd := s.homingCommand()
	drift := s.issued.Add(cmd)
	s.mu.Unlock()

	if !drift.IsZero() {
		s.logger.Debugf("homing by %s leaves %s of truncation drift", s.homing, drift)
	}
	s.logger.Infof("Returning home: %s", cmd)

	if err := s.motion.Home(ctx, cmd); err != nil {
		return cmd, errors.Wrap(err, "failed to return home")
	}

	s.mu.Lock()
	s.state = s.home
	s.issued = MotionCommand{}
	s.progress.Current = nil
	s.mu.Unlock()
	return cmd, nil
}

func (s *Scheduler) begin(phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	s.progress.Phase = phase
	s.progress.Err = ""
	if phase == PhaseRunning {
		s.progress.Done = 0
	}
	return nil
}

func (s *Scheduler) setPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.Phase = phase
}

func (s *Scheduler) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		s.progress.Phase = PhaseFailed
		s.progress.Err = err.Error()
		s.logger.Errorf("Motion halted, joints left energized: %v", err)
		return
	}
	if s.progress.Phase == PhaseMoving {
		s.progress.Phase = PhaseIdle
	} else {
		s.progress.Phase = PhaseDone
	}
}
