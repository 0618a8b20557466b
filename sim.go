package jar_arm

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// StepCall is one recorded Step invocation.
type StepCall struct {
	Direction Direction
	Count     uint
	Start     time.Time
	End       time.Time
}

// SimStepper stands in for a stepper driver. It keeps a signed position,
// records every call and can be made to fail.
type SimStepper struct {
	Name      string
	StepDelay time.Duration
	// StepErr, when set, is returned by Step before any step is taken.
	StepErr error
	// Before, when set, runs at the start of every Step call.
	Before func(dir Direction, count uint)

	logger logging.Logger

	mu        sync.Mutex
	position  int
	calls     []StepCall
	released  int
	energized bool
}

// NewSimStepper returns a stepper that paces each step by stepDelay.
func NewSimStepper(name string, stepDelay time.Duration, logger logging.Logger) *SimStepper {
	return &SimStepper{Name: name, StepDelay: stepDelay, logger: logger}
}

// Step implements Stepper.
func (s *SimStepper) Step(ctx context.Context, dir Direction, count uint) error {
	if s.Before != nil {
		s.Before(dir, count)
	}
	if s.StepErr != nil {
		return s.StepErr
	}
	start := time.Now()
	if s.StepDelay > 0 {
		time.Sleep(time.Duration(count) * s.StepDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == Forward {
		s.position += int(count)
	} else {
		s.position -= int(count)
	}
	s.energized = true
	s.calls = append(s.calls, StepCall{Direction: dir, Count: count, Start: start, End: time.Now()})
	if s.logger != nil {
		s.logger.Debugf("%s stepped %d %s, position %d", s.Name, count, dir, s.position)
	}
	return nil
}

// Release implements Stepper.
func (s *SimStepper) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	s.energized = false
	return nil
}

// Position is the net forward steps taken.
func (s *SimStepper) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Calls returns a copy of the recorded Step calls.
func (s *SimStepper) Calls() []StepCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StepCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Released counts Release calls.
func (s *SimStepper) Released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Energized is true after a step until the next Release.
func (s *SimStepper) Energized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energized
}

// AngleCall is one recorded SetAngle invocation.
type AngleCall struct {
	Degrees float64
	At      time.Time
}

// SimEffector records the angles it is sent.
type SimEffector struct {
	// Err, when set, is returned by SetAngle.
	Err error

	mu    sync.Mutex
	calls []AngleCall
}

// SetAngle implements EndEffector.
func (e *SimEffector) SetAngle(ctx context.Context, degrees float64) error {
	if e.Err != nil {
		return e.Err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, AngleCall{Degrees: degrees, At: time.Now()})
	return nil
}

// Calls returns a copy of the recorded angles.
func (e *SimEffector) Calls() []AngleCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AngleCall, len(e.calls))
	copy(out, e.calls)
	return out
}

// Pulses counts completed active/rest pairs, assuming rest follows active.
func (e *SimEffector) Pulses() int {
	return len(e.Calls()) / 2
}
