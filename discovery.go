// discovery.go
package jar_arm

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
)

// AutoPort asks for the first USB serial adapter found.
const AutoPort = "auto"

var DiscoveryModel = resource.NewModel("devrel", "jar-arm", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		DiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newDispenserDiscovery,
		})
}

// DiscoveryConfig picks which bus servo ID marks a dispenser.
type DiscoveryConfig struct {
	ServoID  int `json:"servo_id,omitempty"`
	Baudrate int `json:"baudrate,omitempty"`
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	if cfg.ServoID == 0 {
		cfg.ServoID = defaultFeetechID
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultFeetechBaud
	}
	return nil, nil, nil
}

type dispenserDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	cfg    *DiscoveryConfig
	logger logging.Logger

	ports func() []string
	ping  func(port string, id, baudrate int) bool
}

func newDispenserDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &dispenserDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		cfg:    cfg,
		logger: logger,
		ports:  enumerateSerialPorts,
		ping:   pingFeetech,
	}, nil
}

// DiscoverResources proposes a dispenser on every USB serial port where the
// dispense servo answers.
func (dis *dispenserDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting jar dispenser discovery")

	allPorts := dis.ports()
	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered %d serial ports to %d candidates", len(allPorts), len(candidates))

	var configs []resource.Config
	for _, port := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return configs, ctx.Err()
		default:
		}

		if !dis.ping(port, dis.cfg.ServoID, dis.cfg.Baudrate) {
			dis.logger.Debugf("No dispense servo on %s", port)
			continue
		}
		dis.logger.Infof("Found dispense servo %d on %s", dis.cfg.ServoID, port)
		configs = append(configs, dispenserConfigFor(port, dis.cfg.ServoID))
	}

	if len(configs) == 0 {
		dis.logger.Info("No jar dispensers discovered")
	}
	return configs, nil
}

func dispenserConfigFor(port string, servoID int) resource.Config {
	return resource.Config{
		Name:  "jar-arm-" + extractPortSuffix(port),
		API:   generic.API,
		Model: DispenserModel,
		Attributes: map[string]interface{}{
			// joints still have to be wired by hand
			"simulate": true,
			"dispenser": map[string]interface{}{
				"feetech": map[string]interface{}{
					"port":     port,
					"servo_id": servoID,
				},
			},
		},
	}
}

func pingFeetech(port string, id, baudrate int) bool {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  500 * time.Millisecond,
	})
	if err != nil {
		return false
	}
	defer bus.Close()

	servo := feetech.NewServo(bus, id, &feetech.ModelSTS3215)
	_, err = servo.Ping(context.Background())
	return err == nil
}

// resolvePort returns port unless it is AutoPort, in which case the first
// candidate from list is used.
func resolvePort(port string, list func() []string) (string, error) {
	if port != AutoPort {
		return port, nil
	}
	candidates := filterCandidatePorts(list())
	if len(candidates) == 0 {
		return "", errors.New("no USB serial port found for the dispense servo")
	}
	return candidates[0], nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

var candidatePrefixes = []string{
	"/dev/ttyUSB", "/dev/ttyACM",
	"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial",
	"COM",
}

func isCandidatePort(port string) bool {
	for _, prefix := range candidatePrefixes {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}
	return base
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}
