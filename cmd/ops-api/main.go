// Package main is the entrypoint for the ops API server.
//
// Unlike the queue workers, the ops API is a long-running HTTP process. It
// exposes health checking and the dead-letter inspection and resolution
// endpoints for operators, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taskpulse/internal/config"
	"taskpulse/internal/db"
	"taskpulse/internal/ops"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})).With("service", cfg.Service)

	logger.Info("ops API initializing",
		"environment", cfg.Environment,
		"port", cfg.Ops.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	server := ops.NewServer(db.NewDeadLetterRepository(pool), pool, logger)

	logger.Info("ops API listening", "port", cfg.Ops.Port)
	if err := server.ListenAndServe(ctx, ":"+cfg.Ops.Port); err != nil {
		logger.Error("ops API server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("ops API shut down")
}
