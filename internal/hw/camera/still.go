package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cjeanneret/deepimage/internal/debug"
)

// Still capture defaults.
const (
	defaultCommand = "rpicam-still"
	defaultQuality = 93
	defaultTimeout = 10 * time.Second
	minWarmup      = time.Millisecond
)

// runFunc runs a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// StillCommand captures through the libcamera still tools (rpicam-still,
// libcamera-still). The tools open the sensor per invocation, so the
// preview state is the warm-up window: the time left of cfg.Warmup when
// Capture is called is passed as the tool's --timeout.
type StillCommand struct {
	cfg          Config
	run          runFunc
	now          func() time.Time
	previewStart time.Time
}

// NewStillCommand checks that the capture command is installed.
func NewStillCommand(cfg Config) (*StillCommand, error) {
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Quality <= 0 {
		cfg.Quality = defaultQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("camera command %q: %w", cfg.Command, err)
	}
	debug.Verbose("Camera: using %s", path)

	return &StillCommand{cfg: cfg, run: execRun, now: time.Now}, nil
}

func (s *StillCommand) StartPreview() error {
	s.previewStart = s.now()
	debug.Live("Camera: preview started (warm-up %v)", s.cfg.Warmup)
	return nil
}

// Capture runs one still capture to path.
func (s *StillCommand) Capture(path string) error {
	warmup := s.cfg.Warmup - s.now().Sub(s.previewStart)
	if warmup < minWarmup {
		warmup = minWarmup
	}

	args := s.args(path, warmup)
	debug.Verbose("Camera: %s %s", s.cfg.Command, strings.Join(args, " "))

	ctx, cancel := context.WithTimeout(context.Background(), warmup+s.cfg.Timeout)
	defer cancel()

	out, err := s.run(ctx, s.cfg.Command, args...)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", s.cfg.Command, err)
		}
		return fmt.Errorf("%s: %w: %s", s.cfg.Command, err, msg)
	}
	return nil
}

func (s *StillCommand) args(path string, warmup time.Duration) []string {
	args := []string{
		"--nopreview",
		"--encoding", "jpg",
		"--timeout", fmt.Sprintf("%dms", warmup.Milliseconds()),
		"--quality", fmt.Sprint(s.cfg.Quality),
	}
	if s.cfg.Width > 0 {
		args = append(args, "--width", fmt.Sprint(s.cfg.Width))
	}
	if s.cfg.Height > 0 {
		args = append(args, "--height", fmt.Sprint(s.cfg.Height))
	}
	if s.cfg.Rotation != 0 {
		args = append(args, "--rotation", fmt.Sprint(s.cfg.Rotation))
	}
	args = append(args, s.cfg.ExtraArgs...)
	return append(args, "--output", path)
}

func (s *StillCommand) StopPreview() error {
	debug.Live("Camera: preview stopped")
	return nil
}

func (s *StillCommand) Close() error {
	return nil
}
