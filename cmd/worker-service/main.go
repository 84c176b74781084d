package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/render-farm/internal/config"
	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/execx"
	"github.com/cuongbtq/render-farm/internal/gpu"
	"github.com/cuongbtq/render-farm/internal/objectstore"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/internal/render"
	"github.com/cuongbtq/render-farm/internal/worker"
	"github.com/cuongbtq/render-farm/shared/logger"
	"github.com/cuongbtq/render-farm/shared/rabbitmq"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Missing settings are fatal before the first poll
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
		slog.String("source_bucket", cfg.Storage.SourceBucket),
		slog.String("ack_policy", cfg.Worker.AckPolicy),
	)

	// Initialize object store
	objects, err := initObjectStore(&cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	taskQueue := queue.NewAMQP(&queue.AMQPConfig{
		Logger:            appLogger.Logger,
		Broker:            rabbitClient,
		VisibilityTimeout: cfg.RabbitMQ.Consumer.VisibilityTimeout,
		PollInterval:      cfg.RabbitMQ.Consumer.PollInterval,
	})
	// Unfinished deliveries go back to the queue before the connection closes
	defer taskQueue.Release()

	runner := execx.NewExecRunner(appLogger.Logger)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		WorkerID:     cfg.Worker.ID,
		Queue:        taskQueue,
		Objects:      objects,
		SourceBucket: cfg.Storage.SourceBucket,
		Renderer: render.NewEngine(&render.Config{
			Logger:     appLogger.Logger,
			Runner:     runner,
			BinaryPath: cfg.Renderer.BinaryPath,
			GPUScript:  cfg.Renderer.GPUScript,
		}),
		Selector: gpu.NewSelector(&gpu.Config{
			Logger:          appLogger.Logger,
			Runner:          runner,
			QueryCommand:    cfg.Renderer.GPUQueryCommand,
			QueryArgs:       cfg.Renderer.GPUQueryArgs,
			PreferredMarker: cfg.Renderer.PreferredMarker,
		}),
		AckPolicy:    domain.AckPolicy(cfg.Worker.AckPolicy),
		MaxMessages:  cfg.Worker.MaxMessages,
		PollWait:     cfg.Worker.PollWait,
		ErrorBackoff: cfg.Worker.ErrorBackoff,
		WorkDir:      cfg.Worker.WorkDir,
		TaskTimeout:  cfg.Worker.TaskTimeout,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop polling, the current task is allowed to finish
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initObjectStore initializes the configured object store
func initObjectStore(cfg *config.StorageConfig, logger *slog.Logger) (objectstore.Store, error) {
	if cfg.Provider == config.StorageLocalFS {
		return objectstore.NewLocalFS(cfg.LocalRoot), nil
	}
	return objectstore.NewS3(objectstore.S3Config{
		Endpoint:     cfg.S3.Endpoint,
		Region:       cfg.Region,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		SessionToken: cfg.S3.SessionToken,
		UseSSL:       cfg.S3.UseSSL,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
