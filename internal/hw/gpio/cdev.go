//go:build linux

package gpio

import (
	"fmt"

	"github.com/cjeanneret/deepimage/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver uses the GPIO character device (/dev/gpiochipN). Unlike the
// memory-mapped drivers, reads go through an ioctl and can fail.
type CdevDriver struct {
	chip  string
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver checks that chip can be opened and returns a driver bound to it.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing real GPIO driver (gpiocdev %s)", chip)

	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", chip, err)
	}
	debug.Verbose("GPIO chip %s has %d lines", c.Name, c.Lines())
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", chip, err)
	}

	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (d *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	var opt gpiocdev.LineReqOption
	switch mode {
	case Input:
		opt = gpiocdev.AsInput
	case Output:
		opt = gpiocdev.AsOutput(0)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	if l, ok := d.lines[pin]; ok {
		return l.Reconfigure(opt.(gpiocdev.LineConfigOption))
	}
	l, err := gpiocdev.RequestLine(d.chip, pin, opt, gpiocdev.WithConsumer("deepimage"))
	if err != nil {
		return fmt.Errorf("request line %d: %w", pin, err)
	}
	d.lines[pin] = l
	return nil
}

func (d *CdevDriver) SetPull(pin int, pull Pull) error {
	debug.GPIO("SetPull", pin, pull)

	l, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not set up", pin)
	}

	switch pull {
	case PullUp:
		return l.Reconfigure(gpiocdev.WithPullUp)
	case PullDown:
		return l.Reconfigure(gpiocdev.WithPullDown)
	case PullOff:
		return l.Reconfigure(gpiocdev.WithBiasDisabled)
	default:
		return fmt.Errorf("unknown pull: %d", pull)
	}
}

func (d *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, ok := d.lines[pin]
	if !ok {
		if err := d.SetupPin(pin, Output); err != nil {
			return err
		}
		l = d.lines[pin]
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (d *CdevDriver) ReadPin(pin int) (Level, error) {
	l, ok := d.lines[pin]
	if !ok {
		if err := d.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		l = d.lines[pin]
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read line %d: %w", pin, err)
	}
	debug.GPIO("ReadPin", pin, v)
	return v == 1, nil
}

func (d *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")

	var firstErr error
	for pin, l := range d.lines {
		// revert to input on the way out
		_ = l.Reconfigure(gpiocdev.AsInput)
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close line %d: %w", pin, err)
		}
	}
	return firstErr
}
