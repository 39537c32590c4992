package main

import (
	"log/slog"
	"os"

	"github.com/dwizi/feed-sink/internal/cli"
	"github.com/dwizi/feed-sink/internal/config"
)

func main() {
	// Logs go to stderr so publish output on stdout stays machine readable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(config.FromEnv().LogLevel)}))
	if err := cli.NewRoot(logger).Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(raw string) slog.Level {
	switch raw {
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
