package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ckwflash/LiveHack2025/config"
	"github.com/ckwflash/LiveHack2025/handlers"
	"github.com/ckwflash/LiveHack2025/logging"
	"github.com/ckwflash/LiveHack2025/metrics"
	"github.com/ckwflash/LiveHack2025/repositories"
	"github.com/ckwflash/LiveHack2025/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg, "ecoshop-api")

	if err := run(cfg); err != nil {
		slog.Error("API exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repositories.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := repositories.Migrate(db); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}
	defer sqlDB.Close()

	var analysisRepo services.AnalysisRepository = repositories.NewDBRepository(db)
	healthChecks := []handlers.Option{
		handlers.WithHealthCheck("postgres", sqlDB.PingContext),
	}
	if cfg.AnalysisCacheTTL > 0 {
		redisClient := repositories.NewRedisClient(cfg.RedisAddr())
		defer redisClient.Close()
		analysisRepo = repositories.NewCachedAnalysisRepository(analysisRepo, redisClient, cfg.AnalysisCacheTTL)
		healthChecks = append(healthChecks, handlers.WithHealthCheck("redis", redisClient.Ping))
	}

	analysisService := services.NewAnalysisService(
		services.WithAnalysisRepository(analysisRepo),
		services.WithAnalyzer(repositories.NewAnalysisEngineClient(cfg.AnalysisEngineURL, cfg.AnalysisTimeout)),
	)

	mongoClient, err := repositories.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())
	taskRepo := repositories.NewMongoTaskRepository(mongoClient.Database(cfg.MongoDB).Collection(cfg.MongoTasksCollection))
	healthChecks = append(healthChecks, handlers.WithHealthCheck("mongo", func(ctx context.Context) error {
		return mongoClient.Ping(ctx, nil)
	}))

	watcher := services.NewTaskWatcher(
		services.WithTaskStore(taskRepo),
		services.WithKeepAlive(cfg.WatchKeepAlive),
		services.WithWatchTimeout(cfg.WatchTimeout),
	)

	opts := append([]handlers.Option{
		handlers.WithAnalysis(analysisService),
		handlers.WithWatcher(watcher),
	}, healthChecks...)

	if cfg.TaskQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("unable to load SDK config: %w", err)
		}
		taskOpts := []services.TaskOption{
			services.WithTaskRepository(taskRepo),
			services.WithTaskQueue(repositories.NewSQSClient(sqs.NewFromConfig(awsCfg)), cfg.TaskQueueURL),
		}
		if cfg.PayloadBucket != "" {
			taskOpts = append(taskOpts, services.WithPayloadArchive(repositories.NewS3Repository(awsCfg), cfg.PayloadBucket))
		}
		opts = append(opts, handlers.WithTasks(services.NewTaskService(taskOpts...)))
	} else {
		slog.Warn("TASK_QUEUE_URL not set, task endpoints disabled")
	}

	go metrics.ExposeMetrics(cfg.MetricsAddr)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.NewHandler(opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Open watch streams end when the process starts shutting down.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("API listening", "address", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}
