package debug

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output except fatal errors
	LevelInfo    = 1 // Important info (startup, "pic" marker, captures)
	LevelLive    = 2 // Live info (previews, files written)
	LevelVerbose = 3 // Verbose (configuration, steps)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	out    io.Writer = os.Stdout
	fields           = map[string]string{}
	logger           = newLogger(out)
)

func init() {
	// Filtering is done by the debug level, not by zerolog.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
}

// Init initializes the debug system with a level (0-4).
// 0 = fatal errors only
// 1 = important info (startup, "pic" marker, capture count)
// 2 = live info (previews, files written)
// 3 = verbose (configuration, initialization steps)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	logger = newLogger(out)
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	out = w
	logger = newLogger(out)
}

// WithField attaches key=value to every following line.
func WithField(key, value string) {
	fields[key] = value
	logger = newLogger(out)
}

func newLogger(w io.Writer) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stdout && w != os.Stderr,
	}
	ctx := zerolog.New(cw).With().Timestamp()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Info().Msgf(format, args...)
	}
}

// Pic prints the marker emitted each time the camera enters preview.
func Pic(next uint64) {
	if level >= LevelInfo {
		logger.Info().Uint64("next", next).Msg("pic")
	}
}

// Summary prints the end-of-run summary (level 1).
func Summary(captures uint64, last string) {
	if level >= LevelInfo {
		logger.Info().Uint64("captures", captures).Str("last_file", last).Msg("run finished")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.Info().Str("lvl", "live").Msgf(format, args...)
	}
}

// Shot prints a photo capture (level 2).
func Shot(n uint64, path string) {
	if level >= LevelLive {
		logger.Info().Str("lvl", "live").Uint64("n", n).Str("file", path).Msg("photo written")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debug().Msgf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.Debug().Interface(name, v).Msg(name)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug().Msg("━━━━━━━━━━ " + name + " ━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debug().Int("step", num).Msg(description)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.Info().Interface(name, value).Msg("")
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Trace().Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.Trace().Str("op", operation).Int("pin", pin).Interface("value", value).Msg("gpio")
	}
}

// --- General functions ---

// Error prints a non-fatal error (level 1+).
func Error(err error, msg string) {
	if level >= LevelInfo {
		logger.Error().Err(err).Msg(msg)
	}
}

// Fatal prints the single error line of a fatal path. It is emitted at every level.
func Fatal(err error, msg string) {
	logger.Error().Err(err).Msg(msg)
}
