package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// level backs the default logger so the level can change at runtime
// (config hot reload) without rebuilding the handler.
var level = new(slog.LevelVar)

// ParseLevel maps a config level string to a slog.Level.
// Unknown or empty strings map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger configures the global slog default logger based on the supplied format and level
// strings read from application configuration.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
func SetupLogger(format, lvl string) {
	parsed := ParseLevel(lvl)
	level.Set(parsed)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: parsed == slog.LevelDebug, // include file:line only when debugging
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", parsed.String())
}

// SetLevel changes the level of the logger installed by SetupLogger.
func SetLevel(lvl string) {
	parsed := ParseLevel(lvl)
	if level.Level() == parsed {
		return
	}
	level.Set(parsed)
	slog.Info("log level changed", "level", parsed.String())
}

// Level reports the current level of the default logger.
func Level() slog.Level {
	return level.Level()
}
