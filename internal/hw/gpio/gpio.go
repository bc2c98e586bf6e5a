package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/deepimage/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// ParseLevel converts "high" or "low" into a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "high":
		return High, nil
	case "low":
		return Low, nil
	default:
		return Low, fmt.Errorf("unknown level %q (want high or low)", s)
	}
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Pull selects the internal bias resistor of an input pin.
type Pull int

const (
	PullOff Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "off"
	}
}

// ParsePull converts "up", "down" or "off" into a Pull.
func ParsePull(s string) (Pull, error) {
	switch s {
	case "up":
		return PullUp, nil
	case "down":
		return PullDown, nil
	case "off":
		return PullOff, nil
	default:
		return PullOff, fmt.Errorf("unknown pull %q (want up, down or off)", s)
	}
}

// Backend names accepted by NewDriver.
const (
	BackendMock   = "mock"
	BackendRPIO   = "rpio"
	BackendPeriph = "periph"
	BackendCdev   = "cdev"
)

// ErrUnknownBackend is returned by NewDriver for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown GPIO backend")

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	SetPull(pin int, pull Pull) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver for the given backend.
// chip is only used by the cdev backend (e.g. "gpiochip0").
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case BackendMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPIO, "":
		d, err := NewRPiRealDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendPeriph:
		d, err := NewPeriphDriver()
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendCdev:
		d, err := NewCdevDriver(chip)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// MockDriver is a loopback implementation used for development on PC
// and in tests: ReadPin returns the last level written to the pin, or the
// idle level implied by its pull resistor.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	pulls  map[int]Pull
	modes  map[int]PinMode
}

// NewMockDriver returns a MockDriver with every pin low and floating.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		pulls:  make(map[int]Pull),
		modes:  make(map[int]PinMode),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) SetPull(pin int, pull Pull) error {
	debug.GPIO("SetPull", pin, pull)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulls[pin] = pull
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.levels[pin]
	if !ok {
		level = m.pulls[pin] == PullUp
	}
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// Pull returns the pull configured on pin.
func (m *MockDriver) Pull(pin int) Pull {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulls[pin]
}

// Mode returns the mode configured on pin.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
