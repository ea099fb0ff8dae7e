package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout. Handlers and
// services take *slog.Logger so tests can swap in a discard handler.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// Discard returns a logger that drops everything; used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
