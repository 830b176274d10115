// Package main provides the entry point for the proof committer service.
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

	"github.com/oklog/run"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	committer "github.com/blockproofs/committer"
	"github.com/blockproofs/committer/pkg/api"
	"github.com/blockproofs/committer/pkg/configuration"
	"github.com/blockproofs/committer/pkg/monitoring"
	"github.com/blockproofs/committer/pkg/pipeline"
)

const serverShutdownTimeout = 10 * time.Second

func main() {
	// Determine log level from environment variable, defaulting to "info"
	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(logLevelStr)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid LOG_LEVEL '%s', defaulting to 'info'\n", logLevelStr)
		zapLevel = zapcore.InfoLevel
	}
	lggr, err := logger.NewWith(func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(zapLevel)
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	lggr = logger.Named(lggr, "committer")
	sugaredLggr := logger.Sugared(lggr)

	filePath, ok := os.LookupEnv("COMMITTER_CONFIG_PATH")
	if !ok {
		filePath = configuration.DefaultConfigFile
	}
	if len(os.Args) > 1 {
		filePath = os.Args[1]
	}
	config, err := configuration.LoadConfig(filePath)
	if err != nil {
		sugaredLggr.Errorw("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		sugaredLggr.Errorw("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := config.LoadFromEnvironment(); err != nil {
		sugaredLggr.Errorw("Failed to load configuration from environment", "error", err)
		os.Exit(1)
	}
	sugaredLggr.Infow("Loaded configuration", "chains", len(config.ChainConfigs()))

	mon := setupMonitoring(sugaredLggr, config.Monitoring)

	registry, err := pipeline.NewRegistry(sugaredLggr, pipeline.NewDefaultFactory(sugaredLggr, mon))
	if err != nil {
		sugaredLggr.Errorw("Failed to create pipeline registry", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for chainID, chainCfg := range config.ChainConfigs() {
		// A startup failure is fatal to that chain only; siblings keep running.
		if err := registry.Add(ctx, chainID, chainCfg); err != nil {
			sugaredLggr.Errorw("Failed to start pipeline", "chainID", chainID, "error", err)
		}
	}
	if registry.Count() == 0 {
		sugaredLggr.Errorw("No pipelines started")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.API.Port),
		Handler:           api.NewV1API(sugaredLggr, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group
	{
		g.Add(func() error {
			sugaredLggr.Infow("health API listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				sugaredLggr.Errorw("failed to shut down health API", "error", err)
			}
		})
	}
	{
		sigCh := make(chan os.Signal, 1)
		cancelCh := make(chan struct{})
		g.Add(func() error {
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				return fmt.Errorf("received signal %s", sig)
			case <-cancelCh:
				return nil
			}
		}, func(error) {
			close(cancelCh)
		})
	}

	if err := g.Run(); err != nil {
		sugaredLggr.Infow("Shutting down", "reason", err)
	}

	if err := registry.StopAll(); err != nil {
		sugaredLggr.Errorw("Errors while stopping pipelines", "error", err)
	}
	sugaredLggr.Infow("Committer service shut down gracefully")
}

func setupMonitoring(lggr logger.Logger, config committer.MonitoringConfig) committer.Monitoring {
	if !config.Enabled || config.Type != "beholder" {
		return monitoring.NewNoopCommitterMonitoring()
	}
	mon, err := monitoring.InitMonitoring(config)
	if err != nil {
		lggr.Errorw("Failed to initialize monitoring, falling back to noop", "error", err)
		return monitoring.NewNoopCommitterMonitoring()
	}
	return mon
}
