package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/forge/internal/config"
	"github.com/haasonsaas/forge/internal/curated"
	"github.com/haasonsaas/forge/internal/gateway"
	"github.com/haasonsaas/forge/internal/hooks"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/session"
)

const shutdownTimeout = 15 * time.Second

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forge session server",
		Long: `Start the session server: the HTTP/websocket gateway, the session
manager and the periodic cleanup sweep. Each connecting session gets its own
sandboxed workspace and agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults plus environment when omitted)")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})
	metrics := observability.NewMetrics()

	audit, err := hooks.NewAuditStore(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer audit.Close()

	catalog, err := curated.Load(cfg.Sandbox.CuratedDir)
	if err != nil {
		return fmt.Errorf("load curated catalog: %w", err)
	}

	manager := session.NewManager(cfg, log, metrics,
		session.DefaultFactory(cfg, log, metrics, audit, catalog.Render()))
	if err := manager.Start(); err != nil {
		return err
	}

	server := gateway.NewServer(cfg, log, manager)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		manager.Stop(ctx)
		return err
	case sig := <-stop:
		log.Info(ctx, "shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "gateway shutdown", "error", err)
	}
	manager.Stop(shutdownCtx)
	log.Info(ctx, "shutdown complete")
	return nil
}
