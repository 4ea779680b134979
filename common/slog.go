package common

import (
	"io"
	"log/slog"
)

// SlogResetLevel sets the default logger level and returns a func restoring the old one.
//
//	t.Cleanup(common.SlogResetLevel(slog.LevelWarn))
func SlogResetLevel(level slog.Level) (reset func()) {
	old := slog.SetLogLoggerLevel(level)
	return func() {
		slog.SetLogLoggerLevel(old)
	}
}

// VerbosityLevel maps 0 errors, 1 warnings, 2 info, 3+ debug.
func VerbosityLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelError
	case verbosity == 1:
		return slog.LevelWarn
	case verbosity == 2:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func NewSlogHandler(w io.Writer, verbosity int, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: VerbosityLevel(verbosity)}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
