package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ckwflash/LiveHack2025/config"
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
	logging.Setup(cfg, "ecoshop-worker")

	if err := run(cfg); err != nil {
		slog.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.TaskQueueURL == "" {
		return errors.New("TASK_QUEUE_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repositories.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}
	defer sqlDB.Close()

	var analysisRepo services.AnalysisRepository = repositories.NewDBRepository(db)
	if cfg.AnalysisCacheTTL > 0 {
		redisClient := repositories.NewRedisClient(cfg.RedisAddr())
		defer redisClient.Close()
		analysisRepo = repositories.NewCachedAnalysisRepository(analysisRepo, redisClient, cfg.AnalysisCacheTTL)
	}

	mongoClient, err := repositories.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer mongoClient.Disconnect(context.Background())

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}
	sqsClient := repositories.NewSQSClient(sqs.NewFromConfig(awsCfg))

	taskService := services.NewTaskService(
		services.WithTaskRepository(repositories.NewMongoTaskRepository(
			mongoClient.Database(cfg.MongoDB).Collection(cfg.MongoTasksCollection),
		)),
		services.WithProcessor(services.NewAnalysisService(
			services.WithAnalysisRepository(analysisRepo),
			services.WithAnalyzer(repositories.NewAnalysisEngineClient(cfg.AnalysisEngineURL, cfg.AnalysisTimeout)),
		)),
	)

	consumer := services.NewTaskConsumer(
		services.WithMessageQueue(sqsClient, cfg.TaskQueueURL),
		services.WithTaskProcessor(taskService),
		services.WithConcurrency(cfg.WorkerConcurrency),
	)

	go metrics.ExposeMetrics(cfg.MetricsAddr)

	slog.Info("Task worker started", "queue", cfg.TaskQueueURL, "concurrency", cfg.WorkerConcurrency)
	consumer.Run(ctx)
	slog.Info("Shutdown complete")
	return nil
}
