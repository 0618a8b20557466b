package jar_arm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Defaults match the rack and arm the dispenser was built around.
var (
	DefaultGrid = GridSpec{
		Columns:      13,
		Rows:         7,
		CellDiameter: 60,
		OriginX:      13 * 60 / 2,
		OriginY:      -10,
	}
	DefaultLinks = LinkLengths{Link1: 320, Link2: 320}
)

const (
	defaultStepDelayMs      = 10.0
	defaultStepsPerRev      = 200
	defaultActiveDeg        = 90.0
	defaultSettleMs         = 1000
	defaultHoldMs           = 500
	defaultFeetechBaud      = 1000000
	defaultFeetechID        = 1
	defaultMotorKitAddr     = 0x60
	defaultServoKitAddr     = 0x40
	defaultFeetechTimeoutMs = 1000
)

// JointConfig describes one joint: its drive train and which driver moves it.
// Exactly one of Motor, Board or MotorKitPort selects the driver; with none
// set the joint is simulated when the arm is in simulate mode.
type JointConfig struct {
	PulleyTeeth int   `json:"pulley_teeth,omitempty"`
	MotorTeeth  int   `json:"motor_teeth,omitempty"`
	StepsPerRev int   `json:"steps_per_rev,omitempty"`
	Inverted    *bool `json:"inverted,omitempty"`

	// Motor is the name of a motor component driven with GoFor.
	Motor string `json:"motor,omitempty"`

	// Board with step and direction pins, for a bare driver.
	Board     string `json:"board,omitempty"`
	StepPin   string `json:"step_pin,omitempty"`
	DirPin    string `json:"dir_pin,omitempty"`
	EnablePin string `json:"enable_pin,omitempty"`

	// EnableActiveLow is for drivers such as the A4988 that energize the
	// coils while the enable pin is low.
	EnableActiveLow bool `json:"enable_active_low,omitempty"`

	// MotorKitPort is 1 or 2 on an Adafruit DC & Stepper Motor HAT.
	MotorKitPort int `json:"motorkit_port,omitempty"`
}

// GearRatio is the joint's degrees-to-steps factor.
func (j JointConfig) GearRatio() GearRatio {
	return GearRatioFromTeeth(j.PulleyTeeth, j.MotorTeeth, j.StepsPerRev)
}

func (j JointConfig) driverCount() int {
	n := 0
	if j.Motor != "" {
		n++
	}
	if j.Board != "" {
		n++
	}
	if j.MotorKitPort != 0 {
		n++
	}
	return n
}

func (j *JointConfig) validate(path string, defaults JointConfig) ([]string, error) {
	if j.PulleyTeeth == 0 {
		j.PulleyTeeth = defaults.PulleyTeeth
	}
	if j.MotorTeeth == 0 {
		j.MotorTeeth = defaults.MotorTeeth
	}
	if j.StepsPerRev == 0 {
		j.StepsPerRev = defaults.StepsPerRev
	}
	if j.Inverted == nil {
		inverted := *defaults.Inverted
		j.Inverted = &inverted
	}
	if j.PulleyTeeth < 0 || j.MotorTeeth < 0 || j.StepsPerRev < 0 {
		return nil, fmt.Errorf("%s: teeth and steps_per_rev must be positive", path)
	}

	if j.driverCount() > 1 {
		return nil, fmt.Errorf("%s: only one of motor, board or motorkit_port may be set", path)
	}
	switch {
	case j.Motor != "":
		return []string{j.Motor}, nil
	case j.Board != "":
		if j.StepPin == "" {
			return nil, utils.NewConfigValidationFieldRequiredError(path, "step_pin")
		}
		if j.DirPin == "" {
			return nil, utils.NewConfigValidationFieldRequiredError(path, "dir_pin")
		}
		return []string{j.Board}, nil
	case j.MotorKitPort != 0:
		if j.MotorKitPort != 1 && j.MotorKitPort != 2 {
			return nil, fmt.Errorf("%s: motorkit_port must be 1 or 2, got %d", path, j.MotorKitPort)
		}
	}
	return nil, nil
}

// FeetechConfig drives the dispenser with a serial bus servo.
type FeetechConfig struct {
	// Port is a serial device path, or "auto" to pick the first USB serial
	// adapter found.
	Port     string `json:"port"`
	Baudrate int    `json:"baudrate,omitempty"`
	ServoID  int    `json:"servo_id,omitempty"`

	TimeoutMs   int                `json:"timeout_ms,omitempty"`
	Calibration *DegreeCalibration `json:"calibration,omitempty"`
}

// Timeout is how long to wait for the servo to answer.
func (f FeetechConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMs) * time.Millisecond
}

// DispenserConfig is the end effector and its pulse.
type DispenserConfig struct {
	ActiveDeg *float64 `json:"active_deg,omitempty"`
	RestDeg   float64  `json:"rest_deg,omitempty"`
	SettleMs  *int     `json:"settle_ms,omitempty"`
	HoldMs    *int     `json:"hold_ms,omitempty"`

	// Servo is the name of a servo component.
	Servo string `json:"servo,omitempty"`
	// Feetech drives a bus servo directly.
	Feetech *FeetechConfig `json:"feetech,omitempty"`
	// MotorKitChannel is a PCA9685 channel on an Adafruit servo HAT.
	MotorKitChannel *int `json:"motorkit_channel,omitempty"`
}

// Pulse returns the dispense timing.
func (d DispenserConfig) Pulse() DispensePulse {
	active, settle, hold := defaultActiveDeg, defaultSettleMs, defaultHoldMs
	if d.ActiveDeg != nil {
		active = *d.ActiveDeg
	}
	if d.SettleMs != nil {
		settle = *d.SettleMs
	}
	if d.HoldMs != nil {
		hold = *d.HoldMs
	}
	return DispensePulse{
		ActiveDeg: active,
		RestDeg:   d.RestDeg,
		Settle:    time.Duration(settle) * time.Millisecond,
		Hold:      time.Duration(hold) * time.Millisecond,
	}
}

func (d *DispenserConfig) validate(path string) ([]string, error) {
	if d.ActiveDeg == nil {
		active := defaultActiveDeg
		d.ActiveDeg = &active
	}
	if (d.SettleMs != nil && *d.SettleMs < 0) || (d.HoldMs != nil && *d.HoldMs < 0) {
		return nil, fmt.Errorf("%s: settle_ms and hold_ms cannot be negative", path)
	}

	drivers := 0
	if d.Servo != "" {
		drivers++
	}
	if d.Feetech != nil {
		drivers++
	}
	if d.MotorKitChannel != nil {
		drivers++
	}
	if drivers > 1 {
		return nil, fmt.Errorf("%s: only one of servo, feetech or motorkit_channel may be set", path)
	}

	if d.Feetech != nil {
		if d.Feetech.Port == "" {
			return nil, utils.NewConfigValidationFieldRequiredError(path+".feetech", "port")
		}
		if d.Feetech.Baudrate == 0 {
			d.Feetech.Baudrate = defaultFeetechBaud
		}
		if d.Feetech.ServoID == 0 {
			d.Feetech.ServoID = defaultFeetechID
		}
		if d.Feetech.TimeoutMs == 0 {
			d.Feetech.TimeoutMs = defaultFeetechTimeoutMs
		}
		if d.Feetech.TimeoutMs < 0 {
			return nil, fmt.Errorf("%s.feetech: timeout_ms cannot be negative", path)
		}
		if d.Feetech.Calibration == nil {
			calibration := DefaultDegreeCalibration
			d.Feetech.Calibration = &calibration
		}
		if err := d.Feetech.Calibration.Validate(); err != nil {
			return nil, fmt.Errorf("%s.feetech.calibration: %w", path, err)
		}
	}
	if d.MotorKitChannel != nil && (*d.MotorKitChannel < 0 || *d.MotorKitChannel > 15) {
		return nil, fmt.Errorf("%s: motorkit_channel must be between 0 and 15, got %d", path, *d.MotorKitChannel)
	}
	if d.Servo != "" {
		return []string{d.Servo}, nil
	}
	return nil, nil
}

// HomeConfig is where the arm is at power on and where it returns. Target, if
// set, is solved to find the angles instead.
type HomeConfig struct {
	ShoulderDeg float64          `json:"shoulder_deg,omitempty"`
	ElbowDeg    float64          `json:"elbow_deg,omitempty"`
	Target      *CartesianTarget `json:"target,omitempty"`
}

// JarArmConfig is the full attribute set of the dispenser.
type JarArmConfig struct {
	Grid           *GridSpec            `json:"grid,omitempty"`
	Links          *LinkLengths         `json:"links,omitempty"`
	Joint1         JointConfig          `json:"joint1"`
	Joint2         JointConfig          `json:"joint2"`
	StepDelayMs    float64              `json:"step_delay_ms,omitempty"`
	Dispenser      DispenserConfig      `json:"dispenser"`
	Home           HomeConfig           `json:"home"`
	DegenerateAxis DegenerateAxisPolicy `json:"degenerate_axis,omitempty"`
	Homing         HomingMode           `json:"homing,omitempty"`

	// I2CBus names the bus for the motor and servo HATs, empty for the
	// first one found.
	I2CBus          string `json:"i2c_bus,omitempty"`
	MotorKitAddress int    `json:"motorkit_address,omitempty"`
	ServoKitAddress int    `json:"servokit_address,omitempty"`

	// Simulate replaces any joint or dispenser with no driver by an
	// in-memory one.
	Simulate bool `json:"simulate,omitempty"`
}

// Validate fills in defaults and returns the components the arm depends on.
func (cfg *JarArmConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Grid == nil {
		grid := DefaultGrid
		cfg.Grid = &grid
	}
	if err := cfg.Grid.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	if cfg.Links == nil {
		links := DefaultLinks
		cfg.Links = &links
	}
	if err := cfg.Links.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	if err := cfg.DegenerateAxis.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	if cfg.DegenerateAxis == "" {
		cfg.DegenerateAxis = DegenerateUnitOffset
	}
	if err := cfg.Homing.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	if cfg.Homing == "" {
		cfg.Homing = HomingAngle
	}
	if cfg.StepDelayMs == 0 {
		cfg.StepDelayMs = defaultStepDelayMs
	}
	if cfg.StepDelayMs < 0 {
		return nil, nil, fmt.Errorf("%s: step_delay_ms cannot be negative", path)
	}
	if cfg.MotorKitAddress == 0 {
		cfg.MotorKitAddress = defaultMotorKitAddr
	}
	if cfg.ServoKitAddress == 0 {
		cfg.ServoKitAddress = defaultServoKitAddr
	}

	var deps []string
	inverted, upright := true, false
	j1, err := cfg.Joint1.validate(path+".joint1", JointConfig{
		PulleyTeeth: 100, MotorTeeth: 20, StepsPerRev: defaultStepsPerRev, Inverted: &inverted,
	})
	if err != nil {
		return nil, nil, err
	}
	deps = append(deps, j1...)
	j2, err := cfg.Joint2.validate(path+".joint2", JointConfig{
		PulleyTeeth: 80, MotorTeeth: 20, StepsPerRev: defaultStepsPerRev, Inverted: &upright,
	})
	if err != nil {
		return nil, nil, err
	}
	deps = append(deps, j2...)
	if cfg.Joint1.MotorKitPort != 0 && cfg.Joint1.MotorKitPort == cfg.Joint2.MotorKitPort {
		return nil, nil, fmt.Errorf("%s: joints cannot share motorkit_port %d", path, cfg.Joint1.MotorKitPort)
	}

	d, err := cfg.Dispenser.validate(path + ".dispenser")
	if err != nil {
		return nil, nil, err
	}
	deps = append(deps, d...)

	if !cfg.Simulate {
		if cfg.Joint1.driverCount() == 0 {
			return nil, nil, fmt.Errorf("%s.joint1: needs motor, board or motorkit_port unless simulate is set", path)
		}
		if cfg.Joint2.driverCount() == 0 {
			return nil, nil, fmt.Errorf("%s.joint2: needs motor, board or motorkit_port unless simulate is set", path)
		}
		if cfg.Dispenser.Servo == "" && cfg.Dispenser.Feetech == nil && cfg.Dispenser.MotorKitChannel == nil {
			return nil, nil, fmt.Errorf("%s.dispenser: needs servo, feetech or motorkit_channel unless simulate is set", path)
		}
	}

	return deps, nil, nil
}

// StepConverter returns the gear ratios of both joints.
func (cfg *JarArmConfig) StepConverter() StepConverter {
	return StepConverter{Joint1: cfg.Joint1.GearRatio(), Joint2: cfg.Joint2.GearRatio()}
}

// StepDelay is the pause between consecutive steps of one joint.
func (cfg *JarArmConfig) StepDelay() time.Duration {
	return time.Duration(cfg.StepDelayMs * float64(time.Millisecond))
}

// HomeState resolves the home pose, solving the home target if one is set.
func (cfg *JarArmConfig) HomeState(solver *Solver) (ArmState, error) {
	if cfg.Home.Target == nil {
		return ArmState{ShoulderDeg: cfg.Home.ShoulderDeg, ElbowDeg: cfg.Home.ElbowDeg}, nil
	}
	shoulder, elbow, err := solver.Angles(*cfg.Home.Target, ArmState{})
	if err != nil {
		return ArmState{}, errors.Wrap(err, "home target")
	}
	return ArmState{ShoulderDeg: shoulder, ElbowDeg: elbow}, nil
}

// resolveDataPath makes a relative path relative to the module data directory.
func resolveDataPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	return filepath.Join(moduleDataDir, path)
}

// LoadConfigFromFile reads and validates a JSON config.
func LoadConfigFromFile(path string) (*JarArmConfig, error) {
	data, err := os.ReadFile(resolveDataPath(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	var cfg JarArmConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	if _, _, err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfigToFile writes cfg as indented JSON.
func SaveConfigToFile(path string, cfg *JarArmConfig) error {
	path = resolveDataPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	return os.WriteFile(path, data, 0o644)
}
