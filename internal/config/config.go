package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Stages   StagesConfig
	Probe    ProbeConfig
	Tracing  TracingConfig
	Webhook  WebhookConfig
	Limits   RateLimitConfig
}

type APIConfig struct {
	Addr          string
	PresignExpiry time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions returns options for a plain go-redis client on the queue's
// Redis instance.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	SpoolDir       string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	OutputPrefix string
}

type DatabaseConfig struct {
	DSN string
}

// StagesConfig selects how pipeline stages run. Launcher is "exec" for the
// external tools or "native" for the in-process stages.
type StagesConfig struct {
	Launcher   string
	Decoder    string
	Scaler     string
	Cutter     string
	Flipper    string
	Encoder    string
	BufferSize int
	Quality    int
}

type ProbeConfig struct {
	Program  string
	CacheTTL time.Duration
	Cache    bool
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

// RateLimitConfig bounds job submissions per client. A zero Capacity
// disables limiting.
type RateLimitConfig struct {
	Capacity     int
	Window       time.Duration
	ClientHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:          env("RESIZED_API_ADDR", ":8080"),
			PresignExpiry: envDuration("RESIZED_PRESIGN_EXPIRY", 15*time.Minute),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("ASYNC_MAX_RETRY", 5),
			TaskTimeout:   envDuration("ASYNC_TASK_TIMEOUT", 3*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.resized-output"),
			SpoolDir:       env("WORKER_SPOOL_DIR", ""),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:     env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:    env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:       env("MINIO_BUCKET", "resized-jobs"),
			UseSSL:       envBool("MINIO_USE_SSL", false),
			OutputPrefix: env("MINIO_OUTPUT_PREFIX", "outputs"),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Stages: StagesConfig{
			Launcher:   strings.ToLower(env("RESIZED_LAUNCHER", "exec")),
			Decoder:    env("RESIZED_DJPEG", ""),
			Scaler:     env("RESIZED_PAMSCALE", ""),
			Cutter:     env("RESIZED_PAMCUT", ""),
			Flipper:    env("RESIZED_PAMFLIP", ""),
			Encoder:    env("RESIZED_CJPEG", ""),
			BufferSize: envInt("RESIZED_BUFFER_SIZE", 32*1024),
			Quality:    envInt("RESIZED_QUALITY", 90),
		},
		Probe: ProbeConfig{
			Program:  env("RESIZED_JHEAD", ""),
			CacheTTL: envDuration("RESIZED_PROBE_CACHE_TTL", 24*time.Hour),
			Cache:    envBool("RESIZED_PROBE_CACHE", true),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "resized"),
			Exporter:     env("RESIZED_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("RESIZED_TRACE_SAMPLE_RATIO", 1),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("RESIZED_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("RESIZED_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("RESIZED_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("RESIZED_WEBHOOK_BACKOFF", time.Second),
			MaxBackoff:     envDuration("RESIZED_WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
		Limits: RateLimitConfig{
			Capacity:     envInt("RESIZED_RATE_LIMIT", 0),
			Window:       envDuration("RESIZED_RATE_LIMIT_WINDOW", time.Minute),
			ClientHeader: env("RESIZED_CLIENT_HEADER", "X-Client-ID"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
