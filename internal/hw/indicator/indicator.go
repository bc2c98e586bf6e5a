package indicator

import (
	"fmt"
	"time"

	"github.com/cjeanneret/deepimage/internal/debug"
	"github.com/cjeanneret/deepimage/internal/hw/gpio"
)

// Config holds the wiring of the status LED.
type Config struct {
	Pin       int           // BCM output pin
	ActiveLow bool          // LED wired between 3V3 and the pin
	Blink     time.Duration // length of the capture pulse. 0 = 50ms.
}

// LED shows the loop state on an output pin: lit while waiting for the
// trigger, one short dark pulse per capture, dark once stopped.
// It implements capture.Observer; GPIO errors are logged, never returned.
type LED struct {
	gpio  gpio.Driver
	cfg   Config
	blink time.Duration
	sleep func(time.Duration)
}

// New configures pin as an output and switches the LED off.
func New(g gpio.Driver, cfg Config) (*LED, error) {
	if err := g.SetupPin(cfg.Pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("configure indicator pin %d as output: %w", cfg.Pin, err)
	}

	blink := cfg.Blink
	if blink <= 0 {
		blink = 50 * time.Millisecond
	}

	l := &LED{
		gpio:  g,
		cfg:   cfg,
		blink: blink,
		sleep: time.Sleep,
	}
	if err := l.set(false); err != nil {
		return nil, fmt.Errorf("switch indicator off: %w", err)
	}
	debug.Verbose("Indicator: pin %d output, active-low=%v", cfg.Pin, cfg.ActiveLow)
	return l, nil
}

// On lights the LED.
func (l *LED) On() error {
	return l.set(true)
}

// Off darkens the LED.
func (l *LED) Off() error {
	return l.set(false)
}

// Pulse darkens the LED for the blink duration, then lights it again.
func (l *LED) Pulse() error {
	if err := l.set(false); err != nil {
		return err
	}
	l.sleep(l.blink)
	return l.set(true)
}

func (l *LED) PreviewStarted(uint64) {
	if err := l.On(); err != nil {
		debug.Error(err, "indicator on failed")
	}
}

func (l *LED) Captured(uint64, string) {
	if err := l.Pulse(); err != nil {
		debug.Error(err, "indicator pulse failed")
	}
}

func (l *LED) Stopped(uint64, error) {
	if err := l.Off(); err != nil {
		debug.Error(err, "indicator off failed")
	}
}

func (l *LED) set(lit bool) error {
	level := gpio.Level(lit)
	if l.cfg.ActiveLow {
		level = !level
	}
	debug.GPIO("write", l.cfg.Pin, level)
	return l.gpio.WritePin(l.cfg.Pin, level)
}
