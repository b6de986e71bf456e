// ABOUTME: Entry point for the agent-runtime supervisor daemon
// ABOUTME: Wires config, store, catalog, adapters, supervisor and the HTTP API

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shreyanshjain7174/agent-runtime/internal/adapter"
	"github.com/shreyanshjain7174/agent-runtime/internal/api"
	"github.com/shreyanshjain7174/agent-runtime/internal/config"
	"github.com/shreyanshjain7174/agent-runtime/internal/registry"
	"github.com/shreyanshjain7174/agent-runtime/internal/store"
	"github.com/shreyanshjain7174/agent-runtime/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the daemon config file.
// Priority: -config flag > AGENT_RUNTIME_CONFIG env var > ./agent-runtime.yaml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("AGENT_RUNTIME_CONFIG"); envPath != "" {
		return envPath
	}
	return "agent-runtime.yaml"
}

func main() {
	configFlag := flag.String("config", "", "path to config file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("agent-runtime", version)
		return
	}

	if err := run(getConfigPath(*configFlag)); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("agent-runtime starting", "version", version, "config", configPath)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	defs, err := registry.LoadCatalog(cfg.Catalog.Path, logger.With("component", "catalog"))
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	factory := adapter.NewFactory(logger.With("component", "adapters"))
	factory.Register(adapter.RuntimeInProcess, func() (adapter.Adapter, error) {
		return adapter.NewInProcess(echoHandler), nil
	})
	if cfg.Adapters.RemoteEndpoint != "" {
		factory.Register(adapter.RuntimeRemote, func() (adapter.Adapter, error) {
			return adapter.NewRemote(cfg.Adapters.RemoteEndpoint, cfg.Adapters.RemoteWriteTimeout,
				logger.With("component", "remote-adapter")), nil
		})
	}
	factory.Register(adapter.RuntimeBrowser, func() (adapter.Adapter, error) {
		return adapter.NewBrowser(), nil
	})

	sup := supervisor.New(st, defs, factory, supervisor.Config{
		TokenSecret:          cfg.Supervisor.TokenSecret,
		Consumers:            cfg.Supervisor.Consumers,
		QueuePollInterval:    cfg.Supervisor.QueuePollInterval,
		HeartbeatInterval:    cfg.Supervisor.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Supervisor.HeartbeatTimeout,
		RetryBackoffBase:     cfg.Supervisor.RetryBackoffBase,
		UninstallGracePeriod: cfg.Supervisor.UninstallGracePeriod,
	}, logger.With("component", "supervisor"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: api.NewRouter(sup).Engine(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	sup.Close()

	logger.Info("agent-runtime stopped")
	return nil
}

// echoHandler is the default in-process agent entrypoint: it acknowledges
// every event by echoing the payload back.
func echoHandler(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

// buildLogger constructs the process logger from config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
