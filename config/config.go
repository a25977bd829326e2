package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	DatabaseURL string

	MongoURI             string
	MongoDB              string
	MongoTasksCollection string

	RedisHost        string
	RedisPort        string
	AnalysisCacheTTL time.Duration

	AnalysisEngineURL string
	AnalysisTimeout   time.Duration

	TaskQueueURL      string
	PayloadBucket     string
	WorkerConcurrency int

	WatchTimeout   time.Duration
	WatchKeepAlive time.Duration

	LogFile  string
	LogLevel string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":5000"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:              getEnv("MONGO_DB", "ecoshop"),
		MongoTasksCollection: getEnv("MONGO_TASKS_COLLECTION", "tasks"),

		RedisHost:        getEnv("REDIS_HOST", "localhost"),
		RedisPort:        getEnv("REDIS_PORT", "6379"),
		AnalysisCacheTTL: getEnvDuration("ANALYSIS_CACHE_TTL", 24*time.Hour),

		AnalysisEngineURL: getEnv("ANALYSIS_ENGINE_URL", "http://localhost:8000"),
		AnalysisTimeout:   getEnvDuration("ANALYSIS_TIMEOUT", 90*time.Second),

		TaskQueueURL:      os.Getenv("TASK_QUEUE_URL"),
		PayloadBucket:     os.Getenv("PAYLOAD_BUCKET"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		WatchTimeout:   getEnvDuration("WATCH_TIMEOUT", 300*time.Second),
		WatchKeepAlive: getEnvDuration("WATCH_KEEPALIVE", 15*time.Second),

		LogFile:  getEnv("LOG_FILE", "logs/ecoshop.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WatchKeepAlive <= 0 {
		return nil, fmt.Errorf("WATCH_KEEPALIVE must be positive")
	}
	if cfg.WatchTimeout <= 0 {
		return nil, fmt.Errorf("WATCH_TIMEOUT must be positive")
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

// RedisAddr returns host:port for the analysis cache.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return d
}
