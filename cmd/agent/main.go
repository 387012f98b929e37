package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/avolkov/loganalytics-agent/internal/config"
	"github.com/avolkov/loganalytics-agent/internal/daemon"
	"github.com/avolkov/loganalytics-agent/internal/logger"
	"github.com/avolkov/loganalytics-agent/internal/logging"
	"github.com/avolkov/loganalytics-agent/internal/logging/batch"
	"github.com/avolkov/loganalytics-agent/internal/logging/loganalytics"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "/etc/loganalytics-agent/agent.toml"))
	if err != nil {
		logger.Init("info", false)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)

	StartDaemon(ctx, cfg)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
}

func StartDaemon(ctx context.Context, cfg config.Config) {
	sink, err := loganalytics.NewSink(ctx, loganalytics.Config{
		WorkspaceID:    cfg.Workspace.ID,
		SharedKey:      cfg.Workspace.SharedKey,
		Offering:       cfg.Workspace.Offering,
		LogType:        cfg.Workspace.LogType,
		MaxMessageSize: cfg.Workspace.MaxMessageSize,
		NamingStrategy: cfg.Workspace.NamingStrategy,
		UseUTC:         cfg.Workspace.UseUTC,
	}, loganalytics.NewUploadChannel())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct workspace sink")
	}

	batchConfig := logging.Config{
		BatchSize:    cfg.Buffer.BatchSize,
		BatchTimeout: cfg.Buffer.BatchTimeout,
		MaxRetries:   cfg.Buffer.MaxRetries,
	}

	batchProcessor := batch.NewBatchProcessor(ctx, sink, batchConfig)
	batchProcessor.Start()

	serviceConfig := daemon.Config{
		LogRootPath:        cfg.Source.LogRootPath,
		ScanInterval:       cfg.Source.ScanInterval,
		MinWorkers:         cfg.Source.MinWorkers,
		MaxWorkers:         cfg.Source.MaxWorkers,
		FileQueueSize:      cfg.Source.QueueSize,
		FileBufferSize:     cfg.Source.FileBufferSize,
		ScaleUpThreshold:   cfg.Source.ScaleUpThreshold,
		ScaleDownThreshold: cfg.Source.ScaleDownThreshold,
		ScaleCheckInterval: cfg.Source.ScaleCheckInterval,
		FileIdleTimeout:    cfg.Source.FileIdleTimeout,
	}

	logDaemonService := daemon.NewLogDaemonService(ctx, serviceConfig, batchProcessor)

	logDaemonService.Start()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
