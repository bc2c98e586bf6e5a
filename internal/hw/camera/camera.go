package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/deepimage/internal/debug"
)

// Device is a camera backend. It represents an abstract "camera",
// regardless of how it's controlled (libcamera tools, V4L2, mock, etc.).
type Device interface {
	// StartPreview starts the preview / warm-up state.
	StartPreview() error
	// Capture writes the current frame as a JPEG to path.
	Capture(path string) error
	// StopPreview ends the preview state.
	StopPreview() error
	// Close releases the underlying device.
	Close() error
}

// Camera types accepted by Open.
const (
	TypeRPiCam = "rpicam"
	TypeMock   = "mock"
)

var (
	// ErrNotPreviewing is returned by Capture when the preview is not running.
	ErrNotPreviewing = errors.New("camera: capture requires an active preview")
	// ErrReleased is returned by any call made after Close.
	ErrReleased = errors.New("camera: handle released")
)

// Config selects and tunes the camera backend.
type Config struct {
	Type      string        // "rpicam" or "mock"
	Command   string        // still capture binary for rpicam, e.g. "rpicam-still"
	Dir       string        // output directory, must exist and be writable
	Width     int           // 0 = camera default
	Height    int           // 0 = camera default
	Quality   int           // JPEG quality 1-100
	Rotation  int           // 0 or 180
	Warmup    time.Duration // minimum preview time before a capture
	Timeout   time.Duration // upper bound for one capture
	ExtraArgs []string      // appended to the capture command line
}

// State is the preview state of a Handle.
type State int

const (
	Closed State = iota
	Previewing
)

func (s State) String() string {
	if s == Previewing {
		return "previewing"
	}
	return "closed"
}

// Handle owns a Device for the lifetime of the process. It enforces the
// Closed -> Previewing -> Closed cycle, makes captures atomic on disk and
// releases the device exactly once.
type Handle struct {
	mu       sync.Mutex
	dev      Device
	state    State
	released bool

	closeOnce sync.Once
	closeErr  error
}

// Open acquires the camera described by cfg.
func Open(cfg Config) (*Handle, error) {
	if err := checkDir(cfg.Dir); err != nil {
		return nil, err
	}

	var (
		dev Device
		err error
	)
	switch cfg.Type {
	case TypeRPiCam:
		dev, err = NewStillCommand(cfg)
	case TypeMock:
		dev = NewMock()
	default:
		err = fmt.Errorf("unsupported camera type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	debug.Verbose("Camera: %s acquired, output to %s", cfg.Type, cfg.Dir)
	return NewHandle(dev), nil
}

// NewHandle wraps an already acquired device.
func NewHandle(dev Device) *Handle {
	return &Handle{dev: dev}
}

// checkDir verifies that dir exists and that files can be created in it.
func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory: %s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".deepimage-probe-*")
	if err != nil {
		return fmt.Errorf("output directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// State returns the current preview state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) StartPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.state == Previewing {
		return nil
	}
	if err := h.dev.StartPreview(); err != nil {
		return err
	}
	h.state = Previewing
	return nil
}

// Capture writes the current frame to path. The device writes to a hidden
// partial file next to path which is renamed into place only on success,
// so path is either complete or absent.
func (h *Handle) Capture(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.state != Previewing {
		return ErrNotPreviewing
	}

	partial := partialPath(path)
	if err := h.dev.Capture(partial); err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("commit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (h *Handle) StopPreview() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ErrReleased
	}
	if h.state != Previewing {
		return nil
	}
	h.state = Closed
	return h.dev.StopPreview()
}

// Close stops a running preview and releases the device. Only the first
// call reaches the device; later calls return the same result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		var stopErr error
		if h.state == Previewing {
			stopErr = h.dev.StopPreview()
			h.state = Closed
		}
		h.released = true
		h.closeErr = errors.Join(stopErr, h.dev.Close())
		debug.Verbose("Camera: released")
	})
	return h.closeErr
}

func partialPath(path string) string {
	dir, name := filepath.Split(path)
	return filepath.Join(dir, "."+name+".partial")
}
