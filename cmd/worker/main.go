package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/pipeline"
	"github.com/dunamismax/resized/internal/probe"
	"github.com/dunamismax/resized/internal/storage"
	"github.com/dunamismax/resized/internal/store"
	"github.com/dunamismax/resized/internal/telemetry"
	"github.com/dunamismax/resized/internal/webhook"
	"github.com/dunamismax/resized/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName + "-worker",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	if err := probe.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer probe.Shutdown()

	redisClient := redis.NewClient(cfg.Queue.RedisOptions())
	defer redisClient.Close()

	var prober probe.Prober = probe.Default(cfg.Probe.Program)
	if cfg.Probe.Cache {
		cached, err := probe.NewCached(prober, redisClient, cfg.Probe.CacheTTL, "", logger)
		if err != nil {
			logger.Fatalf("probe cache setup failed: %v", err)
		}
		prober = cached
	}

	stageOpts, err := pipeline.StageOptions(cfg.Stages)
	if err != nil {
		logger.Fatalf("stage configuration invalid: %v", err)
	}
	stageOpts = append(stageOpts, pipeline.WithProber(prober))

	localProcessor, err := pipeline.NewLocalProcessor(cfg.Worker.LocalOutputDir, logger, stageOpts...)
	if err != nil {
		logger.Fatalf("local processor setup failed: %v", err)
	}
	processors := worker.Processors{Local: localProcessor}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		processors.Object = pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Store: storageClient, TempDir: cfg.Worker.SpoolDir},
			pipeline.ObjectStoreEmitter{Store: storageClient, OutputPrefix: cfg.Storage.OutputPrefix},
			logger,
			stageOpts...,
		)
	}

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, processors, webhookClient, jobStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s launcher=%s metrics=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Stages.Launcher,
		cfg.Worker.MetricsAddr,
	)

	go func() {
		<-ctx.Done()
		logger.Println("shutting down")
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
