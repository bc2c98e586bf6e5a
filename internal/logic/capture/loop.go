package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cjeanneret/deepimage/internal/debug"
)

// Trigger reports whether the capture button is pressed.
type Trigger interface {
	Active() (bool, error)
}

// Camera is the part of the camera handle the loop drives.
// The loop owns it and closes it when Run returns.
type Camera interface {
	StartPreview() error
	Capture(path string) error
	StopPreview() error
	Close() error
}

// Observer is notified of loop progress. Calls happen on the loop goroutine.
type Observer interface {
	PreviewStarted(next uint64)
	Captured(n uint64, path string)
	Stopped(captures uint64, err error)
}

// Options tunes the loop.
type Options struct {
	// PollInterval is the pause between two trigger reads.
	// 0 busy-waits: lowest latency, one core at 100%.
	PollInterval time.Duration
	// Start is the counter value before the first capture.
	Start uint64
	// MaxCaptures stops the loop after that many captures. 0 = unlimited.
	MaxCaptures uint64
	Observer    Observer
}

// Result summarizes a run.
type Result struct {
	Captures uint64 // photos written during this run
	Counter  uint64 // last counter value used
	LastPath string
}

// Loop waits for the trigger and captures one image per activation.
type Loop struct {
	trigger Trigger
	camera  Camera
	namer   Namer
	opts    Options
}

func NewLoop(t Trigger, c Camera, n Namer, opts Options) *Loop {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Loop{
		trigger: t,
		camera:  c,
		namer:   n,
		opts:    opts,
	}
}

// Run captures until ctx is cancelled, MaxCaptures is reached or an error
// occurs. Cancellation is checked between trigger reads only: a capture
// that has started always completes. The camera is closed before Run
// returns, on every path. Cancellation is not an error.
func (l *Loop) Run(ctx context.Context) (res Result, err error) {
	res.Counter = l.opts.Start
	defer func() {
		if cerr := l.camera.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release camera: %w", cerr)
		}
		l.opts.Observer.Stopped(res.Captures, err)
	}()

	for {
		if l.opts.MaxCaptures > 0 && res.Captures >= l.opts.MaxCaptures {
			debug.Info("Capture limit of %d reached", l.opts.MaxCaptures)
			return res, nil
		}

		if err := l.camera.StartPreview(); err != nil {
			return res, fmt.Errorf("start preview: %w", err)
		}
		debug.Pic(res.Counter + 1)
		l.opts.Observer.PreviewStarted(res.Counter + 1)

		fired, err := l.waitForTrigger(ctx)
		if err != nil {
			return res, err
		}
		if !fired {
			debug.Info("Shutdown requested")
			return res, nil
		}

		res.Counter++
		path := l.namer.Path(res.Counter)
		if err := l.camera.Capture(path); err != nil {
			return res, fmt.Errorf("capture %s: %w", filepath.Base(path), err)
		}
		if err := l.camera.StopPreview(); err != nil {
			return res, fmt.Errorf("stop preview: %w", err)
		}
		res.Captures++
		res.LastPath = path

		debug.Shot(res.Counter, path)
		l.opts.Observer.Captured(res.Counter, path)
	}
}

// waitForTrigger polls until the trigger fires (true) or ctx is done (false).
// Any active read fires: edge detection belongs to the trigger source.
func (l *Loop) waitForTrigger(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		default:
		}

		active, err := l.trigger.Active()
		if err != nil {
			return false, fmt.Errorf("read trigger: %w", err)
		}
		if active {
			return true, nil
		}

		if l.opts.PollInterval > 0 {
			select {
			case <-ctx.Done():
				return false, nil
			case <-time.After(l.opts.PollInterval):
			}
		}
	}
}

type nopObserver struct{}

func (nopObserver) PreviewStarted(uint64) {}

func (nopObserver) Captured(uint64, string) {}

func (nopObserver) Stopped(uint64, error) {}

// Observers fans every event out to each observer, in order.
type Observers []Observer

func (o Observers) PreviewStarted(next uint64) {
	for _, ob := range o {
		ob.PreviewStarted(next)
	}
}

func (o Observers) Captured(n uint64, path string) {
	for _, ob := range o {
		ob.Captured(n, path)
	}
}

func (o Observers) Stopped(captures uint64, err error) {
	for _, ob := range o {
		ob.Stopped(captures, err)
	}
}
