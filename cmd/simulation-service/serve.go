package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"simcontroller/internal/api"
	"simcontroller/internal/config"
	"simcontroller/internal/dispatcher"
	"simcontroller/internal/health"
	"simcontroller/internal/inputs"
	"simcontroller/internal/launcher"
	"simcontroller/internal/observability"
	"simcontroller/internal/output"
	"simcontroller/internal/simulation"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// processRuntime starts simulation processes and reports whether it can.
type processRuntime interface {
	simulation.Launcher
	health.ReadinessChecker
}

func newRuntime(ctx context.Context, cfg *config.ServiceConfig) (processRuntime, func(), error) {
	switch cfg.Runtime {
	case config.RuntimeExec:
		l, err := launcher.NewExec(launcher.ExecConfig{Binary: cfg.Binary, Args: cfg.BinaryArgs})
		if err != nil {
			return nil, nil, err
		}
		return l, func() {}, nil
	case config.RuntimeDocker:
		l, err := launcher.NewDocker(ctx, launcher.DockerConfig{Image: cfg.Image, Cmd: cfg.BinaryArgs})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to Docker daemon", "image", cfg.Image)
		return l, func() {
			if err := l.Close(); err != nil {
				slog.Warn("Docker client close error", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime %q (want %s or %s)", cfg.Runtime, config.RuntimeExec, config.RuntimeDocker)
	}
}

func serve(ctx context.Context, cfg *config.ServiceConfig) error {
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	eventDispatcher := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eventDispatcher.Close(ctx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}
	}()

	runtime, closeRuntime, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRuntime()

	registry, err := simulation.NewRegistry(simulation.Config{
		Dir:                 cfg.SimulationsDir,
		Preparer:            inputs.NewTemplatePreparer(),
		Converter:           output.NewCSVConverter(),
		Launcher:            runtime,
		MonitorInterval:     cfg.MonitorInterval,
		StopGracePeriod:     cfg.StopGracePeriod,
		AllowRerunCompleted: cfg.AllowRerunCompleted,
		Dispatcher:          eventDispatcher,
		Metrics:             metrics,
	})
	if err != nil {
		return err
	}

	slog.Info("Simulation registry ready",
		"dir", cfg.SimulationsDir,
		"runtime", cfg.Runtime,
		"monitorInterval", cfg.MonitorInterval,
	)

	healthChecker := health.NewChecker(
		health.Check{Name: "runtime", Checker: runtime},
		health.Check{Name: "workspace", Checker: registry},
	)

	router := api.NewRouter(api.RouterConfig{
		Simulations:   registry,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	for _, srv := range []struct {
		name   string
		server *http.Server
	}{
		{"API", apiServer},
		{"metrics", metricsServer},
	} {
		g.Go(func() error {
			slog.Info("Starting "+srv.name+" server", "addr", srv.server.Addr)
			if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", srv.name, err)
			}
			return nil
		})
	}

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	<-gctx.Done()
	healthChecker.SetShuttingDown()

	if sigCtx.Err() != nil {
		stop()
		slog.Info("Received shutdown signal")

		if cfg.ShutdownDrainWait > 0 {
			slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
			time.Sleep(cfg.ShutdownDrainWait)
		}
		slog.Info("Starting graceful shutdown")
		shutdown(25 * time.Second)
	} else {
		slog.Error("Server failed", "error", context.Cause(gctx))
		shutdown(5 * time.Second)
	}
	serveErr := g.Wait()

	// Running simulations are owned by this process; halt them before exit.
	slog.Info("Halting simulations")
	registryCtx, registryCancel := context.WithTimeout(context.Background(), cfg.StopGracePeriod+15*time.Second)
	defer registryCancel()
	if err := registry.Close(registryCtx); err != nil {
		slog.Warn("Registry shutdown error", "error", err)
	}

	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	if serveErr != nil {
		return serveErr
	}
	slog.Info("Shutdown complete")
	return nil
}
