package jar_arm

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

func TestSolveRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	solver := NewSolver(DefaultLinks, DegenerateUnitOffset, logger)

	for _, radius := range []float64{5, 50, 200, 320, 500, 639.5} {
		for deg := -175.0; deg <= 180; deg += 25 {
			target := CartesianTarget{
				X: radius * math.Cos(radians(deg)),
				Y: radius * math.Sin(radians(deg)),
			}
			if target.X == 0 {
				continue
			}
			var state ArmState
			sol, err := solver.Solve(target, &state)
			require.NoError(t, err, "target %s", target)
			require.False(t, math.IsNaN(sol.ShoulderDeg) || math.IsNaN(sol.ElbowDeg))

			got := ForwardKinematics(DefaultLinks, sol.ShoulderDeg, sol.ElbowDeg)
			assert.InDelta(t, target.X, got.X, 1e-6, "target %s", target)
			assert.InDelta(t, target.Y, got.Y, 1e-6, "target %s", target)
		}
	}
}

func TestSolveEveryDefaultCell(t *testing.T) {
	solver := NewSolver(DefaultLinks, "", nil)
	state := ArmState{}
	for _, cell := range DefaultGrid.SerpentineOrder() {
		target := DefaultGrid.Point(cell)
		sol, err := solver.Solve(target, &state)
		require.NoError(t, err, "cell %s", cell)
		if target.X == 0 {
			continue
		}
		got := ForwardKinematics(DefaultLinks, sol.ShoulderDeg, sol.ElbowDeg)
		assert.InDelta(t, target.X, got.X, 1e-6)
		assert.InDelta(t, target.Y, got.Y, 1e-6)
	}
}

func TestSolveReachBoundary(t *testing.T) {
	solver := NewSolver(LinkLengths{Link1: 320, Link2: 320}, DegenerateUnitOffset, nil)

	t.Run("fully extended is reachable", func(t *testing.T) {
		var state ArmState
		sol, err := solver.Solve(CartesianTarget{X: 640, Y: 0}, &state)
		require.NoError(t, err)
		assert.InDelta(t, 180.0, sol.ElbowDeg, 1e-6)
		assert.InDelta(t, 180.0, sol.ShoulderDeg, 1e-6)
	})

	t.Run("one millimetre further is not", func(t *testing.T) {
		state := ArmState{ShoulderDeg: 12, ElbowDeg: 34}
		_, err := solver.Solve(CartesianTarget{X: 641, Y: 0}, &state)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnreachableTarget))

		var reachErr *UnreachableTargetError
		require.True(t, errors.As(err, &reachErr))
		assert.InDelta(t, 641.0, reachErr.Distance, 1e-9)
		assert.InDelta(t, 640.0, reachErr.MaxReach, 1e-9)

		assert.Equal(t, ArmState{ShoulderDeg: 12, ElbowDeg: 34}, state)
	})

	t.Run("inside the minimum reach", func(t *testing.T) {
		short := NewSolver(LinkLengths{Link1: 320, Link2: 200}, DegenerateUnitOffset, nil)
		var state ArmState
		_, err := short.Solve(CartesianTarget{X: 50, Y: 50}, &state)
		assert.True(t, errors.Is(err, ErrUnreachableTarget))
	})
}

func TestSolveSameTargetTwice(t *testing.T) {
	solver := NewSolver(DefaultLinks, DegenerateUnitOffset, nil)
	sc := StepConverter{Joint1: GearRatioFromTeeth(100, 20, 200), Joint2: GearRatioFromTeeth(80, 20, 200)}
	target := CartesianTarget{X: -200, Y: 150}

	var state ArmState
	first, err := solver.Solve(target, &state)
	require.NoError(t, err)
	assert.NotZero(t, first.ShoulderDelta)

	second, err := solver.Solve(target, &state)
	require.NoError(t, err)
	assert.Equal(t, 0.0, second.ShoulderDelta)
	assert.Equal(t, 0.0, second.ElbowDelta)
	assert.True(t, sc.Command(second).IsZero())
}

func TestSolveDeltasTrackState(t *testing.T) {
	solver := NewSolver(DefaultLinks, DegenerateUnitOffset, nil)
	state := ArmState{ShoulderDeg: 10, ElbowDeg: 20}
	sol, err := solver.Solve(CartesianTarget{X: 100, Y: 200}, &state)
	require.NoError(t, err)
	assert.InDelta(t, sol.ShoulderDeg-10, sol.ShoulderDelta, 1e-12)
	assert.InDelta(t, sol.ElbowDeg-20, sol.ElbowDelta, 1e-12)
	assert.Equal(t, sol.State(), state)
}

func TestSolveOnAxis(t *testing.T) {
	for _, y := range []float64{300, -300, 40} {
		target := CartesianTarget{X: 0, Y: y}

		t.Run("unit offset "+target.String(), func(t *testing.T) {
			solver := NewSolver(DefaultLinks, DegenerateUnitOffset, nil)
			var state ArmState
			sol, err := solver.Solve(target, &state)
			require.NoError(t, err)
			assert.False(t, math.IsNaN(sol.ShoulderDeg) || math.IsInf(sol.ShoulderDeg, 0))
			assert.False(t, math.IsNaN(sol.ElbowDeg) || math.IsInf(sol.ElbowDeg, 0))

			got := ForwardKinematics(DefaultLinks, sol.ShoulderDeg, sol.ElbowDeg)
			assert.InDelta(t, target.X, got.X, 2)
			assert.InDelta(t, target.Y, got.Y, 2)
		})

		t.Run("exact "+target.String(), func(t *testing.T) {
			solver := NewSolver(DefaultLinks, DegenerateExact, nil)
			var state ArmState
			sol, err := solver.Solve(target, &state)
			require.NoError(t, err)

			got := ForwardKinematics(DefaultLinks, sol.ShoulderDeg, sol.ElbowDeg)
			assert.InDelta(t, target.X, got.X, 1e-6)
			assert.InDelta(t, target.Y, got.Y, 1e-6)
		})
	}

	t.Run("exact at the pivot keeps the shoulder", func(t *testing.T) {
		solver := NewSolver(DefaultLinks, DegenerateExact, nil)
		state := ArmState{ShoulderDeg: 42}
		sol, err := solver.Solve(CartesianTarget{}, &state)
		require.NoError(t, err)
		assert.Equal(t, 42.0, sol.ShoulderDeg)
		assert.InDelta(t, 360.0, sol.ElbowDeg, 1e-9)
	})
}

func TestClassifySide(t *testing.T) {
	tests := []struct {
		x         float64
		side      axisSide
		reflected bool
	}{
		{x: 12.5, side: sidePositive, reflected: false},
		{x: -0.001, side: sideNegative, reflected: true},
		{x: 0, side: sideOnAxis, reflected: true},
	}
	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			side := classifySide(tt.x)
			assert.Equal(t, tt.side, side)
			assert.Equal(t, tt.reflected, side.elbowReflected())
		})
	}
}

func TestElbowReflectionAcrossAxis(t *testing.T) {
	solver := NewSolver(DefaultLinks, DegenerateUnitOffset, nil)
	right, _, err := solver.Angles(CartesianTarget{X: 300, Y: 100}, ArmState{})
	require.NoError(t, err)
	left, _, err := solver.Angles(CartesianTarget{X: -300, Y: 100}, ArmState{})
	require.NoError(t, err)
	assert.InDelta(t, 180.0, right+left, 1e-9)

	_, elbowRight, err := solver.Angles(CartesianTarget{X: 300, Y: 100}, ArmState{})
	require.NoError(t, err)
	_, elbowLeft, err := solver.Angles(CartesianTarget{X: -300, Y: 100}, ArmState{})
	require.NoError(t, err)
	assert.InDelta(t, 360.0, elbowRight+elbowLeft, 1e-9)
}

func TestSolveLogsDiagnostics(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	solver := NewSolver(DefaultLinks, DegenerateUnitOffset, logger)

	var state ArmState
	_, err := solver.Solve(CartesianTarget{X: 100, Y: 200}, &state)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("x=100.000, y=200.000").Len())

	_, err = solver.Preview(CartesianTarget{X: 100, Y: 250}, &state)
	require.NoError(t, err)
	assert.Equal(t, 0, logs.FilterMessageSnippet("y=250.000").Len())
}

func TestDegenerateAxisPolicyValidate(t *testing.T) {
	assert.NoError(t, DegenerateAxisPolicy("").Validate())
	assert.NoError(t, DegenerateUnitOffset.Validate())
	assert.NoError(t, DegenerateExact.Validate())
	assert.Error(t, DegenerateAxisPolicy("clamp").Validate())
}
