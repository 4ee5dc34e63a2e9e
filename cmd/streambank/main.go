// Package main implements the entry point for the streambank service:
// a versioned stream schema registry with duplicate-safe binary point
// ingestion backed by NATS JetStream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/streambank/config"
	"github.com/c360/streambank/health"
	"github.com/c360/streambank/ingest"
	"github.com/c360/streambank/metric"
	"github.com/c360/streambank/natsclient"
	"github.com/c360/streambank/pkg/retry"
	"github.com/c360/streambank/pointbin"
	"github.com/c360/streambank/streambin"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "streambank"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting streambank",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	natsClient, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = natsClient.Close(closeCtx)
	}()

	registry := metric.NewRegistry()
	registry.CoreMetrics().NATSConnected.Set(1)

	service, err := buildService(ctx, cfg, natsClient, registry, logger)
	if err != nil {
		return err
	}

	// Transport adapters attach to the service from here; until one is
	// configured the process serves registry state and metrics only.
	ids, err := service.StreamIDs(ctx)
	if err != nil {
		return fmt.Errorf("read stream registry: %w", err)
	}
	slog.Info("Stream registry loaded", "streams", len(ids))

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		metricsServer.SetHealthHandler(health.Handler(buildMonitor(natsClient, service), appName))
		go func() {
			slog.Info("Metrics server listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	return waitForShutdown(ctx, metricsServer, cliCfg.ShutdownTimeout)
}

// connectNATS creates and connects the NATS client from config
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithClientName(fmt.Sprintf("%s-%s", appName, cfg.Platform.ID)),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithLogger(slogAdapter{logger}),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

// buildService wires the KV-backed repositories into the ingestion service
func buildService(
	ctx context.Context,
	cfg *config.Config,
	natsClient *natsclient.Client,
	registry *metric.Registry,
	logger *slog.Logger,
) (*ingest.Service, error) {
	kvStreams, err := streambin.NewKVBin(ctx, natsClient, cfg.Buckets.Streams)
	if err != nil {
		return nil, fmt.Errorf("create stream repository: %w", err)
	}
	// Definitions are write-once, so the cache only needs latest-version
	// invalidation on writes
	streams := streambin.NewCachedBin(kvStreams, streambin.DefaultCacheSize)
	observers, err := streambin.NewKVObserverBin(ctx, natsClient, cfg.Buckets.Observers)
	if err != nil {
		return nil, fmt.Errorf("create observer repository: %w", err)
	}
	points, err := pointbin.NewKVBin(ctx, natsClient, cfg.Buckets.Points)
	if err != nil {
		return nil, fmt.Errorf("create point repository: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Ingest.RetryAttempts > 0 {
		retryCfg.MaxAttempts = cfg.Ingest.RetryAttempts
	}

	service, err := ingest.NewService(streams, observers, points,
		ingest.WithMetrics(registry.CoreMetrics()),
		ingest.WithRetryConfig(retryCfg),
		ingest.WithLimits(cfg.Ingest.MaxBatchSize, cfg.Ingest.MaxPayloadBytes),
		ingest.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create ingest service: %w", err)
	}

	slog.Info("Repositories ready",
		"streams_bucket", cfg.Buckets.Streams,
		"observers_bucket", cfg.Buckets.Observers,
		"points_bucket", cfg.Buckets.Points)
	return service, nil
}

// buildMonitor registers liveness checks for the NATS connection and the
// stream registry bucket
func buildMonitor(natsClient *natsclient.Client, service *ingest.Service) *health.Monitor {
	monitor := health.NewMonitor()
	monitor.RegisterCheck("nats", func(_ context.Context) error {
		if !natsClient.IsConnected() {
			return fmt.Errorf("not connected")
		}
		return nil
	})
	monitor.RegisterCheck("stream_registry", func(ctx context.Context) error {
		_, err := service.StreamIDs(ctx)
		return err
	})
	return monitor
}

// waitForShutdown blocks until a termination signal, then stops cleanly
func waitForShutdown(ctx context.Context, metricsServer *metric.Server, timeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("streambank started")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return nil
}

// slogAdapter bridges slog to the natsclient logger interface
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func (a slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error(fmt.Sprintf(format, v...))
}
