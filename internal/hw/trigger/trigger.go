package trigger

import (
	"fmt"
	"sync/atomic"

	"github.com/cjeanneret/deepimage/internal/debug"
	"github.com/cjeanneret/deepimage/internal/hw/gpio"
)

// Source reports whether a capture has been requested.
type Source interface {
	Active() (bool, error)
}

// Config holds the wiring of the trigger input.
type Config struct {
	Pin         int
	Pull        gpio.Pull
	ActiveLevel gpio.Level // level read while the button is pressed
	// Rearm makes Active report press edges: after a press has been
	// reported the pin must read inactive once before the next one.
	Rearm bool
}

// Input is a GPIO input pin configured once at construction.
// Every Read is a fresh sample: no caching, no debouncing.
type Input struct {
	gpio  gpio.Driver
	cfg   Config
	armed bool
}

// New configures pin as an input with the requested pull resistor.
func New(g gpio.Driver, cfg Config) (*Input, error) {
	if err := g.SetupPin(cfg.Pin, gpio.Input); err != nil {
		return nil, fmt.Errorf("configure pin %d as input: %w", cfg.Pin, err)
	}
	if err := g.SetPull(cfg.Pin, cfg.Pull); err != nil {
		return nil, fmt.Errorf("configure pin %d pull-%s: %w", cfg.Pin, cfg.Pull, err)
	}
	debug.Verbose("Trigger: pin %d input, pull-%s, active %s, rearm %v", cfg.Pin, cfg.Pull, cfg.ActiveLevel, cfg.Rearm)

	return &Input{gpio: g, cfg: cfg, armed: true}, nil
}

// Pin returns the configured pin number.
func (in *Input) Pin() int {
	return in.cfg.Pin
}

// Read returns the instantaneous level of the pin.
func (in *Input) Read() (gpio.Level, error) {
	level, err := in.gpio.ReadPin(in.cfg.Pin)
	if err != nil {
		return gpio.Low, fmt.Errorf("read pin %d: %w", in.cfg.Pin, err)
	}
	return level, nil
}

// Active reports whether the pin is at its active level. With Rearm, a
// held button is reported once; a button already held at start counts
// as a press.
func (in *Input) Active() (bool, error) {
	level, err := in.Read()
	if err != nil {
		return false, err
	}
	active := level == in.cfg.ActiveLevel
	if !in.cfg.Rearm {
		return active, nil
	}
	if !active {
		in.armed = true
		return false, nil
	}
	if !in.armed {
		return false, nil
	}
	in.armed = false
	return true, nil
}

// Soft is a trigger fired from software (e.g. the status server).
// A pending request is consumed by the next Active call that observes it.
type Soft struct {
	pending atomic.Bool
}

// Fire requests one capture. It returns false if a request is already pending.
func (s *Soft) Fire() bool {
	return s.pending.CompareAndSwap(false, true)
}

// Pending reports whether a request is waiting to be consumed.
func (s *Soft) Pending() bool {
	return s.pending.Load()
}

func (s *Soft) Active() (bool, error) {
	return s.pending.CompareAndSwap(true, false), nil
}

type anyOf []Source

// Any returns a Source that is active when one of sources is active.
// Sources are polled in order and polling stops at the first active one.
func Any(sources ...Source) Source {
	return anyOf(sources)
}

func (a anyOf) Active() (bool, error) {
	for _, s := range a {
		active, err := s.Active()
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}
