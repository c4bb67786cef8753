// Package logging sets up the structured, leveled logger shared by all three
// geoproxy daemons. Every daemon calls New with its own role name so log
// lines are attributable without grepping by port number.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger tagged with role, at the given level, writing
// either plain text (for a human watching a terminal) or newline-delimited
// JSON (for a log shipper) depending on format.
func New(role, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out = os.Stderr
	var writer zerolog.ConsoleWriter
	useConsole := !strings.EqualFold(format, "json")

	logger := zerolog.New(out).With().Timestamp().Str("role", role).Logger()
	if useConsole {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		logger = zerolog.New(writer).With().Timestamp().Str("role", role).Logger()
	}

	logger = logger.Level(parseLevel(level))
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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
