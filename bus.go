package jar_arm

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.viam.com/rdk/logging"
)

// busKey identifies what a shared bus was opened with.
type busKey struct {
	Baudrate int
	Timeout  time.Duration
}

type busEntry[T io.Closer] struct {
	bus      T
	key      busKey
	refCount int
}

// busRegistry shares one open bus per serial port between every resource
// that uses it, closing it when the last user releases it.
type busRegistry[T io.Closer] struct {
	open    func(port string, key busKey) (T, error)
	entries map[string]*busEntry[T]
	mu      sync.Mutex
}

func newBusRegistry[T io.Closer](open func(port string, key busKey) (T, error)) *busRegistry[T] {
	return &busRegistry[T]{open: open, entries: make(map[string]*busEntry[T])}
}

// Acquire returns the bus for port, opening it on first use. A second user
// asking for different settings on the same port is refused.
func (r *busRegistry[T]) Acquire(port string, key busKey) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[port]; ok {
		if entry.key != key {
			var zero T
			return zero, fmt.Errorf("conflict: %s is already open at %d baud (refCount: %d)", port, entry.key.Baudrate, entry.refCount)
		}
		entry.refCount++
		return entry.bus, nil
	}

	bus, err := r.open(port, key)
	if err != nil {
		var zero T
		return zero, err
	}
	r.entries[port] = &busEntry[T]{bus: bus, key: key, refCount: 1}
	return bus, nil
}

// Release drops one reference to port and closes the bus with the last.
func (r *busRegistry[T]) Release(port string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[port]
	if !ok {
		return nil
	}
	entry.refCount--
	if entry.refCount > 0 {
		return nil
	}
	delete(r.entries, port)
	return entry.bus.Close()
}

// RefCount reports how many users hold port.
func (r *busRegistry[T]) RefCount(port string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[port]; ok {
		return entry.refCount
	}
	return 0
}

func openFeetechBus(port string, key busKey) (*feetech.Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: key.Baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  key.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create feetech servo bus: %w", err)
	}
	return bus, nil
}

var feetechBuses = newBusRegistry(openFeetechBus)

// acquireFeetech resolves "auto" and returns the shared bus with the port it
// was opened on.
func acquireFeetech(cfg *FeetechConfig, logger logging.Logger) (*feetech.Bus, string, error) {
	port, err := resolvePort(cfg.Port, enumerateSerialPorts)
	if err != nil {
		return nil, "", err
	}
	bus, err := feetechBuses.Acquire(port, busKey{Baudrate: cfg.Baudrate, Timeout: cfg.Timeout()})
	if err != nil {
		return nil, "", err
	}
	logger.Infof("Using feetech servo bus on %s (users: %d)", port, feetechBuses.RefCount(port))
	return bus, port, nil
}
