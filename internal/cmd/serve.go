package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/q99/cloudservices/internal/observability"
	"github.com/q99/cloudservices/internal/server"
	"github.com/q99/cloudservices/internal/server/handlers"
	"github.com/q99/cloudservices/pkg/factory"
	"github.com/q99/cloudservices/pkg/ledger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP discovery service",
	Long: `Serve exposes discovery over HTTP:

  POST /v1/discover   run one discovery pass (JSON body)
  GET  /health        health with dependency checks
  GET  /version       build metadata
  GET  /metrics       Prometheus metrics (when metrics.enabled)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost     string
	servePort     int
	serveNoLedger bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoLedger, "no-ledger", false, "Run without the ingestion ledger")
}

// signalHealthChecker is always healthy; it marks that signal handling is
// installed.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

// metricsHealthChecker fails until the metrics registry exists.
type metricsHealthChecker struct{}

func (metricsHealthChecker) CheckHealth(context.Context) error {
	if observability.MetricsRegistry == nil {
		return errors.New("metrics registry not initialized")
	}
	return nil
}

// ledgerHealthChecker reads a scope that never exists to prove the
// database answers.
type ledgerHealthChecker struct {
	store *ledger.Store
}

func (c ledgerHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("ledger not open")
	}
	_, err := c.store.State(ctx, ledger.Scope{Cloud: "health", Bucket: "health"})
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := appConfig
	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	logger, err := observability.NewLogger("cloudservices", cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	registryOpts := []factory.Option{factory.WithLogger(logger)}
	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signals", signalHealthChecker{})

	if cfg.Metrics.Enabled {
		reg, discoveryMetrics := observability.InitMetrics()
		registryOpts = append(registryOpts, factory.WithMetrics(discoveryMetrics))
		serverOpts = append(serverOpts, server.WithMetrics(reg, cfg.Metrics.Path))
		health.RegisterChecker("metrics", metricsHealthChecker{})
	}

	var store handlers.Ledger
	if !serveNoLedger {
		s, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to open ledger", err)
		}
		defer func() { _ = s.Close() }()
		store = s
		health.RegisterChecker("ledger", ledgerHealthChecker{store: s})
	}

	registry := factory.NewRegistry(cfg.FactoryConfig(), registryOpts...)
	serverOpts = append(serverOpts, server.WithDiscover(
		handlers.NewDiscoverHandler(registry, store, cfg.Discovery.MaxSizeMB, logger)))

	srv := server.New(host, port, serverOpts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("Service started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("ledger", store != nil))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Shutdown did not complete", fmt.Errorf("after %s: %w", cfg.Server.ShutdownTimeout, err))
	}
	return <-errCh
}
