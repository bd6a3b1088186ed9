// Package logging builds the structured zerolog logger shared by
// cmd/fabricd and the bridge/gateway collaborators.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the config-level strings accepted by FABRIC_LOG_LEVEL.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the zerolog output writer.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Options configures New.
type Options struct {
	Level   Level
	Format  Format
	Service string
}

// New builds a zerolog.Logger with a timestamp, caller info, and a
// fixed "service" field, the same baseline every component in this
// tree logs through.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stdout

	var lvl zerolog.Level
	switch opts.Level {
	case LevelDebug:
		lvl = zerolog.DebugLevel
	case LevelWarn:
		lvl = zerolog.WarnLevel
	case LevelError:
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if opts.Format == FormatPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := opts.Service
	if service == "" {
		service = "fabricd"
	}

	return zerolog.New(out).With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

// LogGive logs a rejected or accepted delivery attempt at debug level,
// so it produces no output unless the logger's level is debug.
func LogGive(logger zerolog.Logger, sid, eid uint64, accepted bool) {
	logger.Debug().
		Uint64("sid", sid).
		Uint64("eid", eid).
		Bool("accepted", accepted).
		Msg("endpoint give")
}

// LogEndpointClosed logs the terminal transition of an endpoint's
// lifecycle, once the net has pruned its registry slot.
func LogEndpointClosed(logger zerolog.Logger, sid, eid uint64) {
	logger.Info().
		Uint64("sid", sid).
		Uint64("eid", eid).
		Msg("endpoint closed")
}
