package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// maxFileSize bounds the config file read.
const maxFileSize = 1 << 20

// GPIOConfig selects the GPIO driver.
type GPIOConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // "rpio", "periph", "cdev" or "mock"
	Chip    string `yaml:"chip" toml:"chip"`       // character device for cdev, e.g. "gpiochip0"
}

// TriggerConfig describes the capture button wiring.
// With pull "up" and a button to ground the line idles high and a press reads low,
// so active_level is "low". The historical setup waited for "high" with a pull-up;
// set active_level: high and rearm: false to reproduce it.
type TriggerConfig struct {
	Pin            int    `yaml:"pin" toml:"pin"`                           // BCM number
	Pull           string `yaml:"pull" toml:"pull"`                         // "up", "down" or "off"
	ActiveLevel    string `yaml:"active_level" toml:"active_level"`         // "high" or "low"
	Rearm          bool   `yaml:"rearm" toml:"rearm"`                       // wait for release between captures
	PollIntervalMs int    `yaml:"poll_interval_ms" toml:"poll_interval_ms"` // 0 = busy-wait
}

// CameraConfig describes how to capture.
type CameraConfig struct {
	Type      string   `yaml:"type" toml:"type"`             // "rpicam" or "mock"
	Command   string   `yaml:"command" toml:"command"`       // e.g. "rpicam-still", "libcamera-still"
	Width     int      `yaml:"width" toml:"width"`           // 0 = sensor default
	Height    int      `yaml:"height" toml:"height"`         // 0 = sensor default
	Quality   int      `yaml:"quality" toml:"quality"`       // JPEG quality 1-100
	Rotation  int      `yaml:"rotation" toml:"rotation"`     // 0 or 180
	WarmupMs  int      `yaml:"warmup_ms" toml:"warmup_ms"`   // preview time before a capture
	TimeoutMs int      `yaml:"timeout_ms" toml:"timeout_ms"` // max duration of one capture
	ExtraArgs []string `yaml:"extra_args" toml:"extra_args"`
}

// OutputConfig describes where images go.
type OutputConfig struct {
	Dir         string `yaml:"dir" toml:"dir"`
	Naming      string `yaml:"naming" toml:"naming"`             // "counter" or "timestamp"
	Resume      bool   `yaml:"resume" toml:"resume"`             // continue after the highest existing <n>.jpg
	MaxCaptures int    `yaml:"max_captures" toml:"max_captures"` // 0 = unlimited
}

// IndicatorConfig describes the optional status LED.
type IndicatorConfig struct {
	Pin       int  `yaml:"pin" toml:"pin"`               // BCM output pin. 0 = not used.
	ActiveLow bool `yaml:"active_low" toml:"active_low"` // LED lit when the pin is low
	BlinkMs   int  `yaml:"blink_ms" toml:"blink_ms"`     // capture pulse length
}

// WebConfig configures the optional status server.
type WebConfig struct {
	Port          int  `yaml:"port" toml:"port"`                     // 0 = disabled
	RemoteTrigger bool `yaml:"remote_trigger" toml:"remote_trigger"` // allow POST /trigger
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level" toml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	GPIO      GPIOConfig      `yaml:"gpio" toml:"gpio"`
	Trigger   TriggerConfig   `yaml:"trigger" toml:"trigger"`
	Camera    CameraConfig    `yaml:"camera" toml:"camera"`
	Output    OutputConfig    `yaml:"output" toml:"output"`
	Indicator IndicatorConfig `yaml:"indicator" toml:"indicator"`
	Web       WebConfig       `yaml:"web" toml:"web"`
	Defaults  DefaultsConfig  `yaml:"defaults" toml:"defaults"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		GPIO: GPIOConfig{
			Backend: "rpio",
			Chip:    "gpiochip0",
		},
		Trigger: TriggerConfig{
			Pin:         17,
			Pull:        "up",
			ActiveLevel: "low",
			Rearm:       true,
		},
		Camera: CameraConfig{
			Type:      "rpicam",
			Command:   "rpicam-still",
			Quality:   93,
			WarmupMs:  2000, // sensor exposure/white balance settle time
			TimeoutMs: 10000,
		},
		Output: OutputConfig{
			Dir:    "/home/pi/deepimage",
			Naming: "counter",
		},
		Indicator: IndicatorConfig{
			BlinkMs: 50,
		},
		Defaults: DefaultsConfig{
			DebugLevel: 1,
		},
	}
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults
// and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if !slices.Contains([]string{"rpio", "periph", "cdev", "mock"}, c.GPIO.Backend) {
		return fmt.Errorf("gpio.backend must be rpio, periph, cdev or mock, got %q", c.GPIO.Backend)
	}
	if c.GPIO.Backend == "cdev" && c.GPIO.Chip == "" {
		return fmt.Errorf("gpio.chip is required for the cdev backend")
	}

	if c.Trigger.Pin < 0 || c.Trigger.Pin > 53 {
		return fmt.Errorf("trigger.pin must be between 0 and 53, got %d", c.Trigger.Pin)
	}
	if !slices.Contains([]string{"up", "down", "off"}, c.Trigger.Pull) {
		return fmt.Errorf("trigger.pull must be up, down or off, got %q", c.Trigger.Pull)
	}
	if c.Trigger.ActiveLevel != "high" && c.Trigger.ActiveLevel != "low" {
		return fmt.Errorf("trigger.active_level must be high or low, got %q", c.Trigger.ActiveLevel)
	}
	if c.Trigger.PollIntervalMs < 0 {
		return fmt.Errorf("trigger.poll_interval_ms must be >= 0, got %d", c.Trigger.PollIntervalMs)
	}

	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if c.Camera.Type != "rpicam" && c.Camera.Type != "mock" {
		return fmt.Errorf("camera.type must be rpicam or mock, got %q", c.Camera.Type)
	}
	if c.Camera.Type == "rpicam" && c.Camera.Command == "" {
		return fmt.Errorf("camera.command is required for rpicam")
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		return fmt.Errorf("camera.quality must be between 1 and 100, got %d", c.Camera.Quality)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be >= 0")
	}
	if c.Camera.Rotation != 0 && c.Camera.Rotation != 180 {
		return fmt.Errorf("camera.rotation must be 0 or 180, got %d", c.Camera.Rotation)
	}
	if c.Camera.WarmupMs < 0 {
		return fmt.Errorf("camera.warmup_ms must be >= 0, got %d", c.Camera.WarmupMs)
	}
	if c.Camera.TimeoutMs <= 0 {
		c.Camera.TimeoutMs = 10000 // reasonable default
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if c.Output.Naming != "counter" && c.Output.Naming != "timestamp" {
		return fmt.Errorf("output.naming must be counter or timestamp, got %q", c.Output.Naming)
	}
	if c.Output.MaxCaptures < 0 {
		return fmt.Errorf("output.max_captures must be >= 0, got %d", c.Output.MaxCaptures)
	}

	if c.Indicator.Pin < 0 || c.Indicator.Pin > 53 {
		return fmt.Errorf("indicator.pin must be between 0 and 53, got %d", c.Indicator.Pin)
	}
	if c.Indicator.Pin != 0 && c.Indicator.Pin == c.Trigger.Pin {
		return fmt.Errorf("indicator.pin must differ from trigger.pin (%d)", c.Trigger.Pin)
	}
	if c.Indicator.BlinkMs < 0 {
		return fmt.Errorf("indicator.blink_ms must be >= 0, got %d", c.Indicator.BlinkMs)
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 0-65535, got %d", c.Web.Port)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// PollInterval returns the pause between two trigger reads.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trigger.PollIntervalMs) * time.Millisecond
}

// Warmup returns the camera preview time before a capture.
func (c *Config) Warmup() time.Duration {
	return time.Duration(c.Camera.WarmupMs) * time.Millisecond
}

// IndicatorBlink returns the LED pulse length.
func (c *Config) IndicatorBlink() time.Duration {
	return time.Duration(c.Indicator.BlinkMs) * time.Millisecond
}

// CaptureTimeout returns the upper bound for one capture.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.TimeoutMs) * time.Millisecond
}
