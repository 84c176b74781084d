package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/render-farm/internal/api/handler"
	"github.com/cuongbtq/render-farm/internal/api/router"
	"github.com/cuongbtq/render-farm/internal/config"
	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/jobs"
	"github.com/cuongbtq/render-farm/internal/metadata"
	"github.com/cuongbtq/render-farm/internal/objectstore"
	"github.com/cuongbtq/render-farm/internal/queue"
	"github.com/cuongbtq/render-farm/shared/logger"
	"github.com/cuongbtq/render-farm/shared/postgresql"
	"github.com/cuongbtq/render-farm/shared/rabbitmq"
	"github.com/cuongbtq/render-farm/shared/redis"
	"github.com/gin-gonic/gin"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("metadata_backend", cfg.Metadata.Backend),
		slog.String("storage_provider", cfg.Storage.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthChecks := make(map[string]handler.HealthChecker)

	// Initialize job metadata store
	store, closeStore, err := initMetadata(ctx, cfg, appLogger.Logger, healthChecks)
	if err != nil {
		return fmt.Errorf("failed to initialize metadata store: %w", err)
	}
	defer closeStore()

	// Initialize object store for imported job specs
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
	healthChecks["rabbitmq"] = rabbitClient

	appLogger.Info("RabbitMQ connection established")

	taskQueue := queue.NewAMQP(&queue.AMQPConfig{
		Logger:            appLogger.Logger,
		Broker:            rabbitClient,
		VisibilityTimeout: cfg.RabbitMQ.Consumer.VisibilityTimeout,
		PollInterval:      cfg.RabbitMQ.Consumer.PollInterval,
	})

	decomposer := jobs.NewDecomposer(&jobs.Config{
		Logger:        appLogger.Logger,
		Store:         store,
		Queue:         taskQueue,
		OutputBucket:  cfg.Storage.OutputBucket,
		TTL:           cfg.Metadata.JobTTL,
		RetryAttempts: cfg.RabbitMQ.Publish.RetryAttempts,
		RetryInterval: cfg.RabbitMQ.Publish.RetryInterval,
		MaxFrames:     cfg.Jobs.MaxFrames,
	})

	if purger, ok := store.(metadata.Purger); ok && cfg.Metadata.PurgeInterval > 0 {
		go runPurger(ctx, purger, cfg.Metadata.PurgeInterval, appLogger.Logger)
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Submitter:    decomposer,
		Store:        store,
		Objects:      objects,
		HealthChecks: healthChecks,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initMetadata builds the configured job metadata store and registers its health check
func initMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger, checks map[string]handler.HealthChecker) (metadata.Store, func(), error) {
	switch cfg.Metadata.Backend {
	case config.MetadataPostgres:
		dbClient, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		store := metadata.NewPostgresStore(dbClient.GetDB(), logger)
		if err := store.EnsureSchema(ctx); err != nil {
			dbClient.Close()
			return nil, nil, err
		}
		checks["postgresql"] = dbClient
		logger.Info("Database connection established")
		return store, func() { dbClient.Close() }, nil

	case config.MetadataRedis:
		redisClient, err := redis.NewClient(&redis.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		checks["redis"] = redisClient
		logger.Info("Redis connection established")
		return metadata.NewRedisStore(redisClient.GetClient(), logger), func() { redisClient.Close() }, nil

	default:
		logger.Warn("Using in-memory job metadata, records are lost on restart")
		return metadata.NewMemoryStore(), func() {}, nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
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

// runPurger deletes expired job records until ctx is done
func runPurger(ctx context.Context, purger metadata.Purger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				logger.Error("Failed to purge expired jobs", domain.ErrorAttrs(err)...)
				continue
			}
			if n > 0 {
				logger.Info("Purged expired jobs", slog.Int64("count", n))
			}
		}
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
