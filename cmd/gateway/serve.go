package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
	"github.com/ansible/ai-connect-gateway/pkg/gateway"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides server.port")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, telemetry.TracerOptions{Writer: os.Stderr}, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	gw, err := gateway.New(
		gateway.WithConfig(cfg),
		gateway.WithLogger(logger),
		gateway.WithVersion(Version),
	)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-gw.Err():
		logger.Error("server stopped", slog.Any("error", serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return serveErr
}
