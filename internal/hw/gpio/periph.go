package gpio

import (
	"fmt"

	"github.com/cjeanneret/deepimage/internal/debug"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver drives pins through periph.io. It works on any board periph
// supports, pins are addressed by their BCM number ("GPIO17").
type PeriphDriver struct {
	pins  map[int]pgpio.PinIO
	pulls map[int]pgpio.Pull
}

// NewPeriphDriver initializes the periph host drivers.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing real GPIO driver (periph.io)")

	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	for _, failure := range state.Failed {
		debug.Verbose("periph driver %s failed: %v", failure.D, failure.Err)
	}

	return &PeriphDriver{
		pins:  make(map[int]pgpio.PinIO),
		pulls: make(map[int]pgpio.Pull),
	}, nil
}

func (p *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	if io, ok := p.pins[pin]; ok {
		return io, nil
	}
	io := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if io == nil {
		return nil, fmt.Errorf("GPIO%d not found", pin)
	}
	p.pins[pin] = io
	return io, nil
}

func (p *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}

	switch mode {
	case Input:
		return io.In(p.pull(pin), pgpio.NoEdge)
	case Output:
		return io.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (p *PeriphDriver) pull(pin int) pgpio.Pull {
	if pull, ok := p.pulls[pin]; ok {
		return pull
	}
	return pgpio.PullNoChange
}

// SetPull reconfigures the input with the requested bias.
func (p *PeriphDriver) SetPull(pin int, pull Pull) error {
	debug.GPIO("SetPull", pin, pull)

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}

	switch pull {
	case PullUp:
		p.pulls[pin] = pgpio.PullUp
	case PullDown:
		p.pulls[pin] = pgpio.PullDown
	case PullOff:
		p.pulls[pin] = pgpio.Float
	default:
		return fmt.Errorf("unknown pull: %d", pull)
	}
	return io.In(p.pulls[pin], pgpio.NoEdge)
}

func (p *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	io, err := p.lookup(pin)
	if err != nil {
		return err
	}
	return io.Out(pgpio.Level(level))
}

func (p *PeriphDriver) ReadPin(pin int) (Level, error) {
	io, err := p.lookup(pin)
	if err != nil {
		return Low, err
	}
	level := io.Read()
	debug.GPIO("ReadPin", pin, level)
	return Level(level), nil
}

func (p *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph)")

	var firstErr error
	for pin, io := range p.pins {
		if err := io.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halt GPIO%d: %w", pin, err)
		}
	}
	return firstErr
}
