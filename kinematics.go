package jar_arm

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// ErrUnreachableTarget is matched by every error returned for a target
// outside the annulus the two links can reach.
var ErrUnreachableTarget = errors.New("target is outside the arm's reach")

// reachTolerance absorbs float rounding for targets exactly on the reach
// boundary, in millimetres.
const reachTolerance = 1e-9

// UnreachableTargetError carries the offending target and the reach limits.
type UnreachableTargetError struct {
	Target   CartesianTarget
	Distance float64
	MinReach float64
	MaxReach float64
}

func (e *UnreachableTargetError) Error() string {
	return fmt.Sprintf("%s: %s is %.3fmm from the shoulder, reach is [%.3f, %.3f]mm",
		ErrUnreachableTarget, e.Target, e.Distance, e.MinReach, e.MaxReach)
}

func (e *UnreachableTargetError) Unwrap() error {
	return ErrUnreachableTarget
}

// LinkLengths are the two rigid segments of the arm, in millimetres.
type LinkLengths struct {
	Link1 float64 `json:"link1_mm"`
	Link2 float64 `json:"link2_mm"`
}

// Validate checks both links are physical.
func (l LinkLengths) Validate() error {
	if l.Link1 <= 0 || l.Link2 <= 0 {
		return fmt.Errorf("link lengths must be positive, got %.3f and %.3f", l.Link1, l.Link2)
	}
	return nil
}

// MaxReach is the distance of the fully extended arm.
func (l LinkLengths) MaxReach() float64 {
	return l.Link1 + l.Link2
}

// MinReach is the distance of the fully folded arm.
func (l LinkLengths) MinReach() float64 {
	return math.Abs(l.Link1 - l.Link2)
}

// ArmState is where the arm is believed to be. Nothing reads the hardware, so
// this is the only record of the pose. It changes only through Solver.Solve.
type ArmState struct {
	ShoulderDeg float64 `json:"shoulder_deg"`
	ElbowDeg    float64 `json:"elbow_deg"`
}

// DegenerateAxisPolicy selects how the shoulder is solved for targets with
// x == 0, where the elevation term divides by zero.
type DegenerateAxisPolicy string

const (
	// DegenerateUnitOffset substitutes x = 1 in the shoulder formula. This is
	// what the arm was calibrated with and is the default.
	DegenerateUnitOffset DegenerateAxisPolicy = "unit_offset"
	// DegenerateExact takes the limit of the x < 0 branch: a ±90° elevation.
	DegenerateExact DegenerateAxisPolicy = "exact"
)

// Validate accepts the empty policy as the default.
func (p DegenerateAxisPolicy) Validate() error {
	switch p {
	case "", DegenerateUnitOffset, DegenerateExact:
		return nil
	default:
		return fmt.Errorf("degenerate_axis must be %q or %q, got %q", DegenerateUnitOffset, DegenerateExact, p)
	}
}

// axisSide classifies a target by the sign of its x coordinate. Every branch
// in the solver is keyed off this value.
type axisSide int

const (
	sideNegative axisSide = iota
	sideOnAxis
	sidePositive
)

func classifySide(x float64) axisSide {
	switch {
	case x > 0:
		return sidePositive
	case x < 0:
		return sideNegative
	default:
		return sideOnAxis
	}
}

func (s axisSide) String() string {
	switch s {
	case sidePositive:
		return "positive"
	case sideNegative:
		return "negative"
	default:
		return "on_axis"
	}
}

// elbowReflected is true for the configuration used on the x <= 0 side.
func (s axisSide) elbowReflected() bool {
	return s != sidePositive
}

// Solution is the outcome of a single solve.
type Solution struct {
	Target        CartesianTarget `json:"target"`
	ShoulderDeg   float64         `json:"shoulder_deg"`
	ElbowDeg      float64         `json:"elbow_deg"`
	ShoulderDelta float64         `json:"shoulder_delta_deg"`
	ElbowDelta    float64         `json:"elbow_delta_deg"`
}

// State is the pose the solution leaves the arm in.
func (s Solution) State() ArmState {
	return ArmState{ShoulderDeg: s.ShoulderDeg, ElbowDeg: s.ElbowDeg}
}

// Solver is the closed-form two-link inverse kinematics.
type Solver struct {
	links  LinkLengths
	policy DegenerateAxisPolicy
	logger logging.Logger
}

// NewSolver returns a solver for the given links. An empty policy means
// DegenerateUnitOffset.
func NewSolver(links LinkLengths, policy DegenerateAxisPolicy, logger logging.Logger) *Solver {
	if policy == "" {
		policy = DegenerateUnitOffset
	}
	return &Solver{links: links, policy: policy, logger: logger}
}

// Solve computes the joint angles for target, records them in state and
// returns them with the deltas from the previous pose. state is left alone
// when the target cannot be reached.
func (s *Solver) Solve(target CartesianTarget, state *ArmState) (Solution, error) {
	sol, err := s.Preview(target, state)
	if err != nil {
		return Solution{}, err
	}
	if s.logger != nil {
		s.logger.Infof("x=%.3f, y=%.3f, shoulder=%.4f, elbow=%.4f", target.X, target.Y, sol.ShoulderDeg, sol.ElbowDeg)
	}
	return sol, nil
}

// Preview is Solve without the diagnostic output, for planning.
func (s *Solver) Preview(target CartesianTarget, state *ArmState) (Solution, error) {
	shoulder, elbow, err := s.Angles(target, *state)
	if err != nil {
		return Solution{}, err
	}
	sol := Solution{
		Target:        target,
		ShoulderDeg:   shoulder,
		ElbowDeg:      elbow,
		ShoulderDelta: shoulder - state.ShoulderDeg,
		ElbowDelta:    elbow - state.ElbowDeg,
	}
	*state = sol.State()
	return sol, nil
}

// Angles solves target without touching any state. current is only consulted
// by the exact policy when the target is the shoulder pivot itself, where any
// shoulder angle works and the current one is kept.
func (s *Solver) Angles(target CartesianTarget, current ArmState) (shoulder, elbow float64, err error) {
	if err := s.checkReach(target); err != nil {
		return 0, 0, err
	}
	side := classifySide(target.X)
	elbow = s.elbowAngle(target, side)
	shoulder = s.shoulderAngle(target, side, current)
	return shoulder, elbow, nil
}

func (s *Solver) checkReach(target CartesianTarget) error {
	d := target.Distance()
	minReach, maxReach := s.links.MinReach(), s.links.MaxReach()
	if d > maxReach+reachTolerance || d < minReach-reachTolerance {
		return &UnreachableTargetError{Target: target, Distance: d, MinReach: minReach, MaxReach: maxReach}
	}
	return nil
}

// elbowAngle applies the law of cosines to the link triangle.
func (s *Solver) elbowAngle(target CartesianTarget, side axisSide) float64 {
	l1, l2 := s.links.Link1, s.links.Link2
	d2 := target.X*target.X + target.Y*target.Y
	angle := degrees(math.Acos(clampUnit((l1*l1 + l2*l2 - d2) / (2 * l1 * l2))))
	if side.elbowReflected() {
		return 360 - angle
	}
	return angle
}

func (s *Solver) shoulderAngle(target CartesianTarget, side axisSide, current ArmState) float64 {
	x, y := target.X, target.Y
	switch side {
	case sidePositive:
		return 180 - (degrees(math.Atan(y/x)) + s.interiorAngle(x, y))
	case sideNegative:
		return degrees(math.Atan(y/math.Abs(x))) + s.interiorAngle(x, y)
	}

	if s.policy == DegenerateExact {
		if y == 0 {
			return current.ShoulderDeg
		}
		return math.Copysign(90, y) + s.interiorAngle(0, y)
	}
	return degrees(math.Atan(y/1)) + s.interiorAngle(1, y)
}

// interiorAngle is the angle at the shoulder between link 1 and the line to
// (x, y). The result is pinned to [0°, 180°] so the unit offset stays finite
// when it pushes a boundary target just out of reach.
func (s *Solver) interiorAngle(x, y float64) float64 {
	l1, l2 := s.links.Link1, s.links.Link2
	d2 := x*x + y*y
	return degrees(math.Acos(clampUnit((d2 + l1*l1 - l2*l2) / (2 * math.Sqrt(d2) * l1))))
}

// ForwardKinematics returns the end effector position for the given joint angles. It
// inverts Solve for either elbow configuration.
func ForwardKinematics(links LinkLengths, shoulderDeg, elbowDeg float64) CartesianTarget {
	link1Dir := radians(180 - shoulderDeg)
	link2Dir := radians(elbowDeg - shoulderDeg)
	return CartesianTarget{
		X: links.Link1*math.Cos(link1Dir) + links.Link2*math.Cos(link2Dir),
		Y: links.Link1*math.Sin(link1Dir) + links.Link2*math.Sin(link2Dir),
	}
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
