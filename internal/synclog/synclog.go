// Package synclog centralizes the structured logger used across the sync
// core, standardizing on log/slog the way OuroborosDB's newer pkg/
// generation does, rather than the logrus/fmt.Println mix found in the
// older internal/ store packages.
package synclog

import (
	"log/slog"
	"os"
)

// Default returns a text-handler logger writing to stderr at Info level.
// Callers that need JSON output or a different level should build their own
// slog.Logger and pass it explicitly; every engine constructor in this
// module accepts one.
func Default() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// OrDefault returns logger if non-nil, otherwise Default().
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Default()
}
