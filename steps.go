package jar_arm

import "fmt"

// GearRatio converts degrees of joint rotation into motor steps.
type GearRatio float64

// GearRatioFromTeeth builds the ratio for a motor pulley driving a joint
// pulley: pulleyTeeth/motorTeeth * stepsPerRev/360.
func GearRatioFromTeeth(pulleyTeeth, motorTeeth, stepsPerRev int) GearRatio {
	return GearRatio(float64(pulleyTeeth) / float64(motorTeeth) * float64(stepsPerRev) / 360)
}

// ToSteps truncates toward zero. The fractional remainder is dropped rather
// than carried into the next move.
func (g GearRatio) ToSteps(deltaDeg float64) int {
	return int(float64(g) * deltaDeg)
}

// Degrees is the joint rotation produced by a step count.
func (g GearRatio) Degrees(steps int) float64 {
	if g == 0 {
		return 0
	}
	return float64(steps) / float64(g)
}

// MotionCommand is a signed step count for each joint.
type MotionCommand struct {
	Joint1Steps int `json:"joint1_steps"`
	Joint2Steps int `json:"joint2_steps"`
}

// IsZero reports whether neither joint needs to move.
func (c MotionCommand) IsZero() bool {
	return c.Joint1Steps == 0 && c.Joint2Steps == 0
}

// Negate returns the command that undoes c.
func (c MotionCommand) Negate() MotionCommand {
	return MotionCommand{Joint1Steps: -c.Joint1Steps, Joint2Steps: -c.Joint2Steps}
}

// Add sums two commands joint by joint.
func (c MotionCommand) Add(o MotionCommand) MotionCommand {
	return MotionCommand{Joint1Steps: c.Joint1Steps + o.Joint1Steps, Joint2Steps: c.Joint2Steps + o.Joint2Steps}
}

func (c MotionCommand) String() string {
	return fmt.Sprintf("joint1=%d joint2=%d", c.Joint1Steps, c.Joint2Steps)
}

// StepConverter holds the ratio for each joint.
type StepConverter struct {
	Joint1 GearRatio
	Joint2 GearRatio
}

// Command converts a solution's deltas into step counts.
func (sc StepConverter) Command(sol Solution) MotionCommand {
	return MotionCommand{
		Joint1Steps: sc.Joint1.ToSteps(sol.ShoulderDelta),
		Joint2Steps: sc.Joint2.ToSteps(sol.ElbowDelta),
	}
}
