// discovery_test.go
package jar_arm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/rdk/services/generic"
)

func TestFilterCandidatePorts(t *testing.T) {
	tests := []struct {
		name     string
		ports    []string
		expected []string
	}{
		{
			name:     "Linux USB ports",
			ports:    []string{"/dev/ttyUSB0", "/dev/ttyS0", "/dev/ttyACM0", "/dev/null"},
			expected: []string{"/dev/ttyUSB0", "/dev/ttyACM0"},
		},
		{
			name:     "macOS USB ports",
			ports:    []string{"/dev/tty.usbmodem123", "/dev/tty.Bluetooth", "/dev/cu.usbserial-AB"},
			expected: []string{"/dev/tty.usbmodem123", "/dev/cu.usbserial-AB"},
		},
		{
			name:     "Windows COM ports",
			ports:    []string{"COM3", "COM10", "LPT1", "PRN"},
			expected: []string{"COM3", "COM10"},
		},
		{
			name:     "Empty list",
			ports:    []string{},
			expected: []string{},
		},
		{
			name:     "No matching ports",
			ports:    []string{"/dev/null", "/dev/zero"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := filterCandidatePorts(tt.ports)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractPortSuffix(t *testing.T) {
	assert.Equal(t, "ttyUSB0", extractPortSuffix("/dev/ttyUSB0"))
	assert.Equal(t, "usbmodem123", extractPortSuffix("/dev/tty.usbmodem123"))
	assert.Equal(t, "usbserial-AB", extractPortSuffix("/dev/cu.usbserial-AB"))
	assert.Equal(t, "COM3", extractPortSuffix("COM3"))
}

func TestResolvePort(t *testing.T) {
	list := func() []string { return []string{"/dev/ttyS0", "/dev/ttyACM1", "/dev/ttyUSB0"} }

	port, err := resolvePort("/dev/ttyUSB3", list)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", port)

	port, err = resolvePort(AutoPort, list)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", port)

	_, err = resolvePort(AutoPort, func() []string { return []string{"/dev/ttyS0"} })
	assert.Error(t, err)
}

func TestDiscoverResources(t *testing.T) {
	cfg := &DiscoveryConfig{}
	_, _, err := cfg.Validate("services.0")
	require.NoError(t, err)

	var pinged []string
	dis := &dispenserDiscovery{
		Named:  resource.NewName(discovery.API, "discovery").AsNamed(),
		cfg:    cfg,
		logger: logging.NewTestLogger(t),
		ports: func() []string {
			return []string{"/dev/ttyS0", "/dev/ttyUSB0", "/dev/ttyUSB1"}
		},
		ping: func(port string, id, baudrate int) bool {
			pinged = append(pinged, port)
			assert.Equal(t, defaultFeetechID, id)
			assert.Equal(t, defaultFeetechBaud, baudrate)
			return port == "/dev/ttyUSB1"
		},
	}

	configs, err := dis.DiscoverResources(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, pinged)
	require.Len(t, configs, 1)

	found := configs[0]
	assert.Equal(t, "jar-arm-ttyUSB1", found.Name)
	assert.Equal(t, generic.API, found.API)
	assert.Equal(t, DispenserModel, found.Model)
	assert.Equal(t, true, found.Attributes["simulate"])
	dispenser, ok := found.Attributes["dispenser"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"port": "/dev/ttyUSB1", "servo_id": 1}, dispenser["feetech"])

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		configs, err := dis.DiscoverResources(ctx, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, configs)
	})
}
