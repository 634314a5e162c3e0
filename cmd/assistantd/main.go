// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command assistantd starts the Meridian assistant resilience service.
//
// The service hosts the circuit breaker registry, the mistake learning
// core, and the diagnostics API used by assistant front-ends.
//
// Usage:
//
//	go run ./cmd/assistantd
//	go run ./cmd/assistantd --config /etc/meridian/assistant.yaml
//	go run ./cmd/assistantd --port 9090 --debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8085/health
//
//	# Circuit breaker status
//	curl http://localhost:8085/v1/breakers | jq
//
//	# Learned lessons for prompt injection
//	curl http://localhost:8085/v1/mistakes/lessons
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/meridianops/meridian/pkg/logging"
	"github.com/meridianops/meridian/services/assistant/config"
	"github.com/meridianops/meridian/services/assistant/events"
	"github.com/meridianops/meridian/services/assistant/guard"
	"github.com/meridianops/meridian/services/assistant/mistakes"
	"github.com/meridianops/meridian/services/assistant/persistence"
	"github.com/meridianops/meridian/services/assistant/resilience"
	"github.com/meridianops/meridian/services/assistant/telemetry"
)

var (
	flagConfig string
	flagPort   int
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:          "assistantd",
	Short:        "Meridian assistant resilience and learning service",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "assistant.yaml", "Path to the YAML configuration file")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "Override the configured listen port")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "Enable debug logging and verbose HTTP output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "assistantd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "assistantd",
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slogger := logger.Slog()

	// Metrics: the OTel prometheus exporter registers with the default
	// prometheus registry, so promhttp.Handler() includes our metrics.
	exporter, err := promexporter.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer meterProvider.Shutdown(context.Background())
	meter := meterProvider.Meter("meridian.assistant")

	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return err
	}

	registry := resilience.NewRegistry(slogger)
	for key, override := range cfg.Breakers {
		registry.Configure(key, resilience.BreakerConfig{
			FailureThreshold:  override.FailureThreshold,
			RecoveryTimeout:   override.RecoveryTimeout,
			HalfOpenMaxCalls:  override.HalfOpenMaxCalls,
			SuccessThreshold:  override.SuccessThreshold,
			SuccessHealAmount: override.SuccessHealAmount,
		})
	}
	if err := telemetry.RegisterOpenCircuitsGauge(meter, registry); err != nil {
		return err
	}

	persist, closePersist, err := buildPersistence(ctx, cfg.Memory, logger)
	if err != nil {
		return err
	}
	if closePersist != nil {
		defer closePersist()
	}

	store := mistakes.NewStore(persist, slogger)
	hub := events.NewHub(slogger)
	defer hub.Close()

	sink := events.MultiSink{hub, events.NewLogSink(slogger), metrics.EventSink()}
	learner := mistakes.NewLearner(store, sink, slogger)
	advisor := mistakes.NewAdvisor(store)

	// The guard is what dependency wrappers embed; constructing it here
	// verifies the full wiring even though this process only serves the
	// diagnostics API.
	_ = guard.NewGuard(registry, learner, metrics, slogger)

	if persist != nil && cfg.Memory.SessionID != "" {
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		loaded := store.LoadFromPersistence(loadCtx, cfg.Memory.SessionID, cfg.Memory.UserID)
		cancel()
		logger.Info("loaded persisted lessons", "count", loaded)
	}

	if flagDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if flagDebug {
		router.Use(gin.Logger())
	}
	guard.SetupRoutes(router, registry, store, advisor, hub)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting assistant service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down assistant service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// buildPersistence creates the configured lesson backend. The returned
// close function may be nil.
func buildPersistence(ctx context.Context, cfg config.MemoryConfig, logger *logging.Logger) (mistakes.Persistence, func(), error) {
	switch cfg.Backend {
	case "weaviate":
		store, err := persistence.NewWeaviateStore(cfg.WeaviateURL, logger.Slog())
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			// The schema check needs a live server; lessons simply stay
			// session-local until it comes back.
			logger.Warn("lesson schema unavailable, persistence is best-effort", "error", err)
		}
		return store, nil, nil

	case "badger":
		store, err := persistence.NewBadgerStore(cfg.BadgerDir, logger.Slog())
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing lesson database", "error", err)
			}
		}, nil

	case "", "none":
		logger.Info("lesson persistence disabled, mistakes are session-local")
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
