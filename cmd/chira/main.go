package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lcalzada-xor/chira/internal/app"
	"github.com/lcalzada-xor/chira/internal/config"
	"github.com/lcalzada-xor/chira/internal/telemetry"
)

var version = "dev"

func main() {
	// load config
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(2)
	}

	// Setup Structured Logging
	logger := telemetry.NewLogger(os.Stdout, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	// Initialize Tracing; spans are only printed in debug mode
	var spanOut io.Writer = io.Discard
	if cfg.Debug {
		spanOut = os.Stderr
	}
	shutdownTracer, err := telemetry.InitTracer(spanOut, version)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	// Root Context with cancellation on Interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize Application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}

	slog.Info("ChiRa Starting...", "version", version, "feed", cfg.Feed.Kind, "addr", cfg.Addr)

	// Run Application
	if err := application.Run(ctx); err != nil {
		slog.Error("Application error", "error", err)
		cancel()
		os.Exit(1)
	}
}
