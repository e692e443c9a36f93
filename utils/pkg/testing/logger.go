package enginetesting

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// NewLogger returns the logger shared by the engine's tests. Quiet unless
// TEST_LOG asks for more.
func NewLogger() *slog.Logger {
	level := slog.LevelError
	switch os.Getenv("TEST_LOG") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}
