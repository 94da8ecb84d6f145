// Package logging configures the process-wide zerolog logger and hands out
// per-component child loggers.
//
// Fetch units log at debug (cache hits, writes, outgoing queries) and warn
// (failed units, cache errors). Batches log start, progress and summary at
// info. Every line carries a component field naming the package that wrote it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component names attached to every log line.
const (
	ComponentClient = "apicaller-client"
	ComponentBatch  = "apicaller-batch"
	ComponentCache  = "apicaller-cache"
	ComponentCLI    = "apicaller"
)

// LogLevel is a level name as accepted from configuration.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config selects the minimum level and the output format.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format
	Pretty bool

	// Output defaults to os.Stderr so stdout stays free for batch results
	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the global logger and returns it. Loggers obtained from
// NewLogger before Setup keep the previous output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to zerolog. Unknown names are Info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a child of the global logger tagged with component.
// The result must be stored in a variable or field before logging through
// it, since zerolog's level methods take a pointer receiver.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
