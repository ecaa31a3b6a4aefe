// Package logging configures the process-wide zerolog logger used by the
// gateway and its supporting components.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelFromString maps a config string to a zerolog.Level, defaulting to
// info for anything unrecognized.
func LevelFromString(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init sets the global logger to a console writer in dev-friendly form and
// applies the given level. Call once at process startup.
func Init(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger().
		Level(LevelFromString(level))
}
