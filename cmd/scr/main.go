// Package main runs the service component runtime as a standalone process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/apache/karaf-sub011/component"
	"github.com/apache/karaf-sub011/config"
	"github.com/apache/karaf-sub011/configadmin"
	"github.com/apache/karaf-sub011/container"
	"github.com/apache/karaf-sub011/metric"
	"github.com/apache/karaf-sub011/natsclient"
	"github.com/apache/karaf-sub011/notify"
	"github.com/apache/karaf-sub011/registry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "scr"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Validate {
		fmt.Println("Configuration is valid")
		return nil
	}
	if cli.DumpConfig != "" {
		if err := config.Save(cfg, cli.DumpConfig); err != nil {
			return fmt.Errorf("dump config: %w", err)
		}
		fmt.Printf("Configuration written to %s\n", cli.DumpConfig)
		return nil
	}

	logger, closer, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()
	logger = logger.With("service", appName, "version", Version, "pid", os.Getpid())
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg, cli, logger)
}

func serve(ctx context.Context, cfg *config.Config, cli *CLIConfig, logger *slog.Logger) error {
	metrics := metric.NewMetricsRegistry()
	reg := registry.NewMemory(registry.WithLogger(logger), registry.WithMetrics(metrics.CoreMetrics()))

	var (
		nc       *natsclient.Client
		notifier component.StateListener
	)
	if cfg.NATS.Enabled() {
		var err error
		nc, err = natsclient.FromConfig(cfg.NATS,
			natsclient.WithLogger(logger),
			natsclient.WithMetrics(metrics.CoreMetrics()))
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		if err := nc.Connect(ctx); err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close(context.Background())
		notifier = notify.New(nc, cfg.NATS.EventsSubject, logger).ObserveState
	}

	rt, err := container.New(reg,
		container.WithLogger(logger),
		container.WithMetrics(metrics),
		container.WithStateListener(notify.Chain(availabilityLog(logger), notifier)),
		container.WithConfigurations(cfg.Components),
		container.WithEnableTimeout(cfg.Runtime.EnableTimeout))
	if err != nil {
		return err
	}

	if !cli.NoDemo {
		if err := registerDemo(rt); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics, rt.HealthFunc())
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = srv.Stop(stopCtx)
		}()
		logger.Info("Metrics server listening", "address", srv.Address())
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	if nc != nil {
		trackNATSHealth(nc, rt.Monitor())
	}

	if cli.ConfigPath != "" {
		go reloadOnHangup(ctx, cli.ConfigPath, config.NewSafeConfig(cfg), rt, logger)
	}

	if nc != nil {
		watcher, err := startConfigWatcher(ctx, nc, cfg, rt, logger)
		if err != nil {
			logger.Warn("Configuration watching disabled", "error", err)
		} else {
			defer watcher.Stop(5 * time.Second)
		}
	}

	logger.Info("Runtime ready", "components", rt.Names())
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
	defer stopCancel()
	if err := rt.Stop(stopCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func startConfigWatcher(
	ctx context.Context,
	nc *natsclient.Client,
	cfg *config.Config,
	rt *container.Runtime,
	logger *slog.Logger,
) (*configadmin.Watcher, error) {
	kv, err := nc.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.NATS.ConfigBucket,
		Description: "component configuration",
		History:     5,
	})
	if err != nil {
		return nil, err
	}

	w, err := configadmin.NewWatcher(kv, rt,
		configadmin.WithLogger(logger),
		configadmin.WithSeed(cfg.Components))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
