/*
logging.go - Process-wide structured logging setup

PURPOSE:
  One place to configure slog for the whole binary. Local runs get
  colorized tint output; anything else gets plain JSON lines suitable
  for log shippers.

SEE ALSO:
  - cmd/server/main.go: Calls Setup at startup
*/
package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures the default slog logger and returns it.
// format is "text" (tint, colorized) or "json".
func Setup(level slog.Level, format string) *slog.Logger {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
