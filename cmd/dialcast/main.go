// Command dialcast runs the outbound voice-agent server: the campaign
// dialer, the per-call voice pipeline, and the HTTP/SIP surfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dialcast/dialcast/internal/app"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/dialer"
)

// Exit codes: 0 clean shutdown, 1 configuration or runtime failure, 2 queue
// store unavailable (restartable by the supervisor).
const (
	exitOK    = 0
	exitError = 1
	exitQueue = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialcast: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialcast: %v\n", err)
		}
		return exitError
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dialcast starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sip_enabled", cfg.SIP.Enabled,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return exitError
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.Warn("close error", "error", err)
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, dialer.ErrQueueUnavailable) {
			slog.Error("queue store unavailable, exiting for restart", "error", err)
			return exitQueue
		}
		slog.Error("run error", "error", err)
		return exitError
	}

	slog.Info("goodbye")
	return exitOK
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
