package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide JSON logger. Level comes from LOG_LEVEL
// (debug, info, warn, error); when LOG_FILE is set the log is appended there
// instead of stdout. Returns a closer for the file sink, nil-safe to call.
func Setup() (func() error, error) {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	var w io.Writer = os.Stdout
	closer := func() error { return nil }

	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		w = f
		closer = f.Close
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func parseLevel(s string) slog.Level {
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
