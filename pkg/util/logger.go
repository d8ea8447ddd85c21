package util

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger returns a text logger at debug level in development and a JSON
// logger at info level everywhere else.
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env).With("service", "shepherd")
}

func newLogger(w io.Writer, env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if env == "development" {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// DiscardLogger swallows everything; tests use it to keep output quiet.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
