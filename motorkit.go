package jar_arm

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// PCA9685 registers.
const (
	pcaMode1    = 0x00
	pcaPrescale = 0xFE
	pcaLED0     = 0x06

	pcaModeSleep   = 0x10
	pcaModeAutoInc = 0x20
	pcaModeRestart = 0x80

	pcaOscillator = 25 * physic.MegaHertz
	pcaFullOn     = 0x1000
	pcaChannels   = 16
)

const (
	motorKitFrequency = 1600 * physic.Hertz
	servoKitFrequency = 50 * physic.Hertz
	servoMinPulse     = 750 * time.Microsecond
	servoMaxPulse     = 2250 * time.Microsecond
	servoRangeDeg     = 180.0
)

// pca9685 is the 16 channel PWM controller on both Adafruit HATs.
type pca9685 struct {
	dev       *i2c.Dev
	frequency physic.Frequency
	mu        sync.Mutex
}

func newPCA9685(bus i2c.Bus, addr uint16, frequency physic.Frequency) (*pca9685, error) {
	p := &pca9685{dev: &i2c.Dev{Bus: bus, Addr: addr}, frequency: frequency}
	if err := p.init(); err != nil {
		return nil, errors.Wrapf(err, "failed to initialize PCA9685 at 0x%02x", addr)
	}
	return p, nil
}

// prescale is the divider giving frequency from the internal oscillator.
func prescale(frequency physic.Frequency) byte {
	v := math.Round(float64(pcaOscillator)/(4096*float64(frequency))) - 1
	return byte(math.Max(3, math.Min(255, v)))
}

func (p *pca9685) init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(pcaMode1, pcaModeSleep); err != nil {
		return err
	}
	if err := p.write(pcaPrescale, prescale(p.frequency)); err != nil {
		return err
	}
	if err := p.write(pcaMode1, pcaModeAutoInc); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return p.write(pcaMode1, pcaModeAutoInc|pcaModeRestart)
}

func (p *pca9685) write(reg byte, data ...byte) error {
	return p.dev.Tx(append([]byte{reg}, data...), nil)
}

// setPWM sets the on and off counts of a channel. Counts of pcaFullOn mean
// fully on or fully off.
func (p *pca9685) setPWM(channel int, on, off uint16) error {
	if channel < 0 || channel >= pcaChannels {
		return fmt.Errorf("PCA9685 channel %d out of range", channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(byte(pcaLED0+4*channel), byte(on), byte(on>>8), byte(off), byte(off>>8))
}

func (p *pca9685) setPin(channel int, high bool) error {
	if high {
		return p.setPWM(channel, pcaFullOn, 0)
	}
	return p.setPWM(channel, 0, pcaFullOn)
}

// motorKitPins are the PCA9685 channels of one stepper port.
type motorKitPins struct {
	pwmA, ain1, ain2 int
	pwmB, bin1, bin2 int
}

var motorKitPorts = map[int]motorKitPins{
	1: {pwmA: 8, ain2: 9, ain1: 10, pwmB: 13, bin2: 12, bin1: 11},
	2: {pwmA: 2, ain2: 3, ain1: 4, pwmB: 7, bin2: 6, bin1: 5},
}

// doubleCoil energizes two coils at every phase for full torque. Each entry
// is {ain1, ain2, bin1, bin2}.
var doubleCoil = [4][4]bool{
	{true, false, true, false},
	{false, true, true, false},
	{false, true, false, true},
	{true, false, false, true},
}

// motorKitStepper is a stepper on an Adafruit DC & Stepper Motor HAT.
type motorKitStepper struct {
	pca       *pca9685
	pins      motorKitPins
	stepDelay time.Duration
	phase     int
}

func newMotorKitStepper(pca *pca9685, port int, stepDelay time.Duration) (*motorKitStepper, error) {
	pins, ok := motorKitPorts[port]
	if !ok {
		return nil, fmt.Errorf("no stepper port %d on the motor HAT", port)
	}
	return &motorKitStepper{pca: pca, pins: pins, stepDelay: stepDelay}, nil
}

func (s *motorKitStepper) Step(ctx context.Context, dir Direction, count uint) error {
	if count == 0 {
		return nil
	}
	if err := s.setBridges(true); err != nil {
		return err
	}
	for i := uint(0); i < count; i++ {
		if dir == Forward {
			s.phase = (s.phase + 1) % 4
		} else {
			s.phase = (s.phase + 3) % 4
		}
		if err := s.applyPhase(); err != nil {
			return err
		}
		if !utils.SelectContextOrWait(ctx, s.stepDelay) {
			return ctx.Err()
		}
	}
	return nil
}

func (s *motorKitStepper) setBridges(on bool) error {
	if err := s.pca.setPin(s.pins.pwmA, on); err != nil {
		return err
	}
	return s.pca.setPin(s.pins.pwmB, on)
}

func (s *motorKitStepper) applyPhase() error {
	coils := doubleCoil[s.phase]
	for i, ch := range []int{s.pins.ain1, s.pins.ain2, s.pins.bin1, s.pins.bin2} {
		if err := s.pca.setPin(ch, coils[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *motorKitStepper) Release(ctx context.Context) error {
	for _, ch := range []int{s.pins.ain1, s.pins.ain2, s.pins.bin1, s.pins.bin2} {
		if err := s.pca.setPin(ch, false); err != nil {
			return err
		}
	}
	return s.setBridges(false)
}

// servoKitEffector is a hobby servo on an Adafruit 16 channel servo HAT.
type servoKitEffector struct {
	pca     *pca9685
	channel int
}

// dutyCounts converts a servo angle to the PCA9685 off count at 50 Hz.
func dutyCounts(degrees float64, frequency physic.Frequency) uint16 {
	degrees = math.Max(0, math.Min(servoRangeDeg, degrees))
	pulse := servoMinPulse + time.Duration(degrees/servoRangeDeg*float64(servoMaxPulse-servoMinPulse))
	period := frequency.Period()
	return uint16(math.Round(4096 * float64(pulse) / float64(period)))
}

func (e *servoKitEffector) SetAngle(ctx context.Context, degrees float64) error {
	return e.pca.setPWM(e.channel, 0, dutyCounts(degrees, e.pca.frequency))
}

// motorKit holds the I2C bus and the motor and servo HATs on it.
type motorKit struct {
	bus    i2c.BusCloser
	motors *pca9685
	servos *pca9685
}

// openMotorKit opens the I2C bus and initializes the HATs cfg needs.
func openMotorKit(cfg *JarArmConfig) (*motorKit, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph host")
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C bus %q", cfg.I2CBus)
	}
	kit, err := newMotorKit(bus, cfg)
	if err != nil {
		return nil, multierr.Append(err, bus.Close())
	}
	kit.bus = bus
	return kit, nil
}

func newMotorKit(bus i2c.Bus, cfg *JarArmConfig) (*motorKit, error) {
	kit := &motorKit{}
	var err error
	if cfg.Joint1.MotorKitPort != 0 || cfg.Joint2.MotorKitPort != 0 {
		if kit.motors, err = newPCA9685(bus, uint16(cfg.MotorKitAddress), motorKitFrequency); err != nil {
			return nil, err
		}
	}
	if cfg.Dispenser.MotorKitChannel != nil {
		if kit.servos, err = newPCA9685(bus, uint16(cfg.ServoKitAddress), servoKitFrequency); err != nil {
			return nil, err
		}
	}
	return kit, nil
}

func (k *motorKit) stepper(port int, stepDelay time.Duration) (Stepper, error) {
	if k.motors == nil {
		return nil, errors.New("motor HAT was not initialized")
	}
	s, err := newMotorKitStepper(k.motors, port, stepDelay)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (k *motorKit) effector(channel int) (EndEffector, error) {
	if k.servos == nil {
		return nil, errors.New("servo HAT was not initialized")
	}
	if channel < 0 || channel >= pcaChannels {
		return nil, fmt.Errorf("servo channel %d out of range", channel)
	}
	return &servoKitEffector{pca: k.servos, channel: channel}, nil
}

func (k *motorKit) Close() error {
	if k.bus == nil {
		return nil
	}
	return k.bus.Close()
}

// MotorKitActuators puts both joints and the dispenser on Adafruit HATs.
// Joints without a port take ports 1 and 2 and the dispenser takes channel 0.
func MotorKitActuators(cfg *JarArmConfig) (Actuators, error) {
	if cfg.Joint1.MotorKitPort == 0 {
		cfg.Joint1.MotorKitPort = 1
	}
	if cfg.Joint2.MotorKitPort == 0 {
		cfg.Joint2.MotorKitPort = 2
	}
	if cfg.Dispenser.MotorKitChannel == nil {
		channel := 0
		cfg.Dispenser.MotorKitChannel = &channel
	}

	kit, err := openMotorKit(cfg)
	if err != nil {
		return Actuators{}, err
	}
	act := Actuators{Close: func(context.Context) error { return kit.Close() }}
	if act.Joint1, err = kit.stepper(cfg.Joint1.MotorKitPort, cfg.StepDelay()); err != nil {
		return Actuators{}, multierr.Append(err, kit.Close())
	}
	if act.Joint2, err = kit.stepper(cfg.Joint2.MotorKitPort, cfg.StepDelay()); err != nil {
		return Actuators{}, multierr.Append(err, kit.Close())
	}
	if act.Effector, err = kit.effector(*cfg.Dispenser.MotorKitChannel); err != nil {
		return Actuators{}, multierr.Append(err, kit.Close())
	}
	return act, nil
}
