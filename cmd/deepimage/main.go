package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cjeanneret/deepimage/internal/config"
	"github.com/cjeanneret/deepimage/internal/debug"
	"github.com/cjeanneret/deepimage/internal/hw/camera"
	"github.com/cjeanneret/deepimage/internal/hw/gpio"
	"github.com/cjeanneret/deepimage/internal/hw/indicator"
	"github.com/cjeanneret/deepimage/internal/hw/trigger"
	"github.com/cjeanneret/deepimage/internal/logic/capture"
	"github.com/cjeanneret/deepimage/internal/web"
)

const defaultWebPort = "8080"

var defaultConfigPath = filepath.Join("configs", "default.yaml")

func main() {
	os.Exit(execute(os.Args[1:]))
}

// options holds the raw command line values. Only flags explicitly set
// on the command line override the configuration file.
type options struct {
	cfgPath     string
	pin         int
	backend     string
	camera      string
	output      string
	pollMs      int
	rearm       bool
	activeLevel string
	max         int
	resume      bool
	debugLevel  int
	webPort     int
}

// execute runs the command and returns the process exit code.
func execute(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newRootCmd(&options{})
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		debug.Fatal(err, "deepimage stopped")
		return 1
	}
	return 0
}

func newRootCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deepimage",
		Short: "Take a picture each time the trigger pin goes active",
		Long: `deepimage polls a GPIO input and captures one JPEG per activation into
<output>/<n>.jpg until interrupted (SIGINT/SIGTERM).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o.cfgPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			applyFlags(cmd.Flags(), o, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.cfgPath, "config", "c", defaultConfigPath, "path to config file (.yaml, .yml or .toml)")
	f.IntVar(&o.pin, "pin", 17, "trigger GPIO (BCM number)")
	f.StringVar(&o.backend, "backend", gpio.BackendRPIO, "GPIO backend: rpio, periph, cdev or mock")
	f.StringVar(&o.camera, "camera", camera.TypeRPiCam, "camera type: rpicam or mock")
	f.StringVarP(&o.output, "output", "o", "/home/pi/deepimage", "output directory")
	f.IntVar(&o.pollMs, "poll-ms", 0, "pause between trigger reads in ms (0 = busy-wait)")
	f.BoolVar(&o.rearm, "rearm", true, "require the trigger to go inactive between captures")
	f.StringVar(&o.activeLevel, "active-level", "low", "trigger level while pressed: high or low")
	f.IntVar(&o.max, "max", 0, "stop after N captures (0 = unlimited)")
	f.BoolVar(&o.resume, "resume", false, "continue numbering after the highest existing <n>.jpg")
	f.IntVarP(&o.debugLevel, "debug", "d", 1, "debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")
	f.IntVar(&o.webPort, "web", 0, "start the status server; --web for port "+defaultWebPort+", --web=PORT otherwise")
	f.Lookup("web").NoOptDefVal = defaultWebPort

	return cmd
}

// loadConfig reads path. The default path is optional: when it was not
// given explicitly and does not exist, built-in defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every explicitly set flag into cfg.
func applyFlags(fs *pflag.FlagSet, o *options, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "pin":
			cfg.Trigger.Pin = o.pin
		case "backend":
			cfg.GPIO.Backend = o.backend
		case "camera":
			cfg.Camera.Type = o.camera
		case "output":
			cfg.Output.Dir = o.output
		case "poll-ms":
			cfg.Trigger.PollIntervalMs = o.pollMs
		case "rearm":
			cfg.Trigger.Rearm = o.rearm
		case "active-level":
			cfg.Trigger.ActiveLevel = o.activeLevel
		case "max":
			cfg.Output.MaxCaptures = o.max
		case "resume":
			cfg.Output.Resume = o.resume
		case "debug":
			cfg.Defaults.DebugLevel = o.debugLevel
		case "web":
			cfg.Web.Port = o.webPort
		}
	})
}

// run acquires the hardware, runs the capture loop until ctx is cancelled
// or an error occurs, and releases everything before returning.
func run(ctx context.Context, cfg *config.Config) error {
	debug.Init(cfg.Defaults.DebugLevel)

	runID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	debug.WithField("run_id", runID.String())

	debug.Section("Initialization")
	debug.PrintStruct("Config", cfg)

	// GPIO and trigger pin
	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO backend", cfg.GPIO.Backend)
	drv, err := gpio.NewDriver(cfg.GPIO.Backend, cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			debug.Error(err, "closing GPIO driver failed")
		}
	}()

	pull, err := gpio.ParsePull(cfg.Trigger.Pull)
	if err != nil {
		return err
	}
	level, err := gpio.ParseLevel(cfg.Trigger.ActiveLevel)
	if err != nil {
		return err
	}
	debug.Step(2, "Configuring trigger pin")
	pin, err := trigger.New(drv, trigger.Config{
		Pin:         cfg.Trigger.Pin,
		Pull:        pull,
		ActiveLevel: level,
		Rearm:       cfg.Trigger.Rearm,
	})
	if err != nil {
		return fmt.Errorf("init trigger: %w", err)
	}

	// Camera
	debug.Step(3, "Opening camera")
	cam, err := camera.Open(camera.Config{
		Type:      cfg.Camera.Type,
		Command:   cfg.Camera.Command,
		Dir:       cfg.Output.Dir,
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		Quality:   cfg.Camera.Quality,
		Rotation:  cfg.Camera.Rotation,
		Warmup:    cfg.Warmup(),
		Timeout:   cfg.CaptureTimeout(),
		ExtraArgs: cfg.Camera.ExtraArgs,
	})
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	// The loop releases the camera; this covers the setup paths below.
	defer cam.Close()

	// Naming
	namer, err := capture.NewNamer(cfg.Output.Naming, cfg.Output.Dir)
	if err != nil {
		return err
	}
	var start uint64
	if cfg.Output.Resume {
		start, err = capture.HighestIndex(cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		debug.Value("Resuming after", start)
	}

	var (
		src       capture.Trigger = pin
		observers capture.Observers
	)

	if cfg.Indicator.Pin > 0 {
		debug.Step(4, "Configuring indicator LED")
		led, err := indicator.New(drv, indicator.Config{
			Pin:       cfg.Indicator.Pin,
			ActiveLow: cfg.Indicator.ActiveLow,
			Blink:     cfg.IndicatorBlink(),
		})
		if err != nil {
			return fmt.Errorf("init indicator: %w", err)
		}
		observers = append(observers, led)
	}

	// Status server
	if cfg.Web.Port > 0 {
		debug.Step(5, "Starting web server")
		events := web.NewHub()
		debug.SetOutput(io.MultiWriter(os.Stdout, events.LogWriter()))
		defer debug.SetOutput(os.Stdout)

		status := web.NewStatus(runID.String(), events)
		observers = append(observers, status)

		var remote web.RemoteTrigger
		if cfg.Web.RemoteTrigger {
			soft := &trigger.Soft{}
			remote = soft
			src = trigger.Any(pin, soft)
		}

		srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.Web.Port), events, status, remote)
		if err != nil {
			return err
		}
		// Bind here so a taken port fails startup instead of the goroutine.
		ln, err := net.Listen("tcp", srv.Addr())
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		webCtx, stopWeb := context.WithCancel(ctx)
		webDone := make(chan struct{})
		go func() {
			defer close(webDone)
			if err := srv.Serve(webCtx, ln); err != nil {
				debug.Error(err, "web server failed")
			}
		}()
		defer func() {
			stopWeb()
			<-webDone
		}()
	}

	debug.Section("Waiting for trigger")
	debug.Info("Trigger on GPIO %d (active %s), writing to %s", cfg.Trigger.Pin, cfg.Trigger.ActiveLevel, cfg.Output.Dir)

	loop := capture.NewLoop(src, cam, namer, capture.Options{
		PollInterval: cfg.PollInterval(),
		Start:        start,
		MaxCaptures:  uint64(cfg.Output.MaxCaptures),
		Observer:     observerOf(observers),
	})
	res, err := loop.Run(ctx)
	debug.Summary(res.Captures, res.LastPath)
	return err
}

// observerOf avoids handing the loop an empty fan-out.
func observerOf(obs capture.Observers) capture.Observer {
	switch len(obs) {
	case 0:
		return nil
	case 1:
		return obs[0]
	default:
		return obs
	}
}
