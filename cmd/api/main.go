package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/resized/internal/api"
	"github.com/dunamismax/resized/internal/config"
	"github.com/dunamismax/resized/internal/queue"
	"github.com/dunamismax/resized/internal/ratelimit"
	"github.com/dunamismax/resized/internal/storage"
	"github.com/dunamismax/resized/internal/store"
	"github.com/dunamismax/resized/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName + "-api",
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("job store failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Printf("job store close error: %v", err)
		}
	}()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("ensure bucket %s failed, presigned uploads may not work: %v", storageClient.Bucket(), err)
	}

	app := api.NewServer(logger, queueClient, jobStore, storageClient, cfg.API.PresignExpiry)

	if cfg.Limits.Capacity > 0 {
		redisClient := redis.NewClient(cfg.Queue.RedisOptions())
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.Limits.Capacity, cfg.Limits.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		app.WithRateLimiter(limiter, cfg.Limits.ClientHeader)
		logger.Printf("rate limiting capacity=%d window=%s", cfg.Limits.Capacity, cfg.Limits.Window)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
