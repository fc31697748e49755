package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/ipmgw/internal/app"
	"github.com/mattjoyce/ipmgw/internal/config"
	"github.com/mattjoyce/ipmgw/internal/lock"
	"github.com/mattjoyce/ipmgw/internal/log"
)

func systemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Run the ipmgw service",
	}
	cmd.AddCommand(systemStartCmd())
	return cmd
}

func systemStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the command engine, ping schedule and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), configPath(cmd))
		},
	}
}

func runStart(parent context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("ipmgw starting", "version", version, "config", path)

	if cfg.State.Backend == "sqlite" {
		pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "error", err)
			return err
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{}, log.Get())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	if cfg.API.Enabled {
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}
	logger.Info("ipmgw running (press Ctrl+C to stop)")

	if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("component failed", "error", err)
		return err
	}
	logger.Info("ipmgw stopped")
	return nil
}
