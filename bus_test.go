package jar_arm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	port   string
	closed int
}

func (b *fakeBus) Close() error {
	b.closed++
	return nil
}

func TestBusRegistry(t *testing.T) {
	var opened []string
	registry := newBusRegistry(func(port string, key busKey) (*fakeBus, error) {
		if port == "/dev/broken" {
			return nil, errors.New("no such device")
		}
		opened = append(opened, port)
		return &fakeBus{port: port}, nil
	})
	key := busKey{Baudrate: 1000000, Timeout: time.Second}

	t.Run("shares one bus per port", func(t *testing.T) {
		first, err := registry.Acquire("/dev/ttyUSB0", key)
		require.NoError(t, err)
		second, err := registry.Acquire("/dev/ttyUSB0", key)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 2, registry.RefCount("/dev/ttyUSB0"))
		assert.Equal(t, []string{"/dev/ttyUSB0"}, opened)

		require.NoError(t, registry.Release("/dev/ttyUSB0"))
		assert.Zero(t, first.closed)
		require.NoError(t, registry.Release("/dev/ttyUSB0"))
		assert.Equal(t, 1, first.closed)
		assert.Zero(t, registry.RefCount("/dev/ttyUSB0"))
	})

	t.Run("refuses different settings on an open port", func(t *testing.T) {
		_, err := registry.Acquire("/dev/ttyUSB1", key)
		require.NoError(t, err)
		_, err = registry.Acquire("/dev/ttyUSB1", busKey{Baudrate: 115200, Timeout: time.Second})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflict")
		assert.Equal(t, 1, registry.RefCount("/dev/ttyUSB1"))
		require.NoError(t, registry.Release("/dev/ttyUSB1"))
	})

	t.Run("open errors are not cached", func(t *testing.T) {
		_, err := registry.Acquire("/dev/broken", key)
		require.Error(t, err)
		assert.Zero(t, registry.RefCount("/dev/broken"))
	})

	t.Run("releasing an unknown port is a no-op", func(t *testing.T) {
		assert.NoError(t, registry.Release("/dev/ttyUSB9"))
	})
}
