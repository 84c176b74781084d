package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Environment variables that override file settings
const (
	EnvRegion       = "RENDER_REGION"
	EnvSourceBucket = "RENDER_SOURCE_BUCKET"
	EnvOutputBucket = "RENDER_OUTPUT_BUCKET"
	EnvQueue        = "RENDER_QUEUE"
	EnvBlenderPath  = "BLENDER_PATH"
	EnvLogLevel     = "LOG_LEVEL"
	EnvAckPolicy    = "RENDER_ACK_POLICY"
)

// Storage providers
const (
	StorageS3      = "s3"
	StorageLocalFS = "localfs"
)

// Metadata backends
const (
	MetadataPostgres = "postgres"
	MetadataRedis    = "redis"
	MetadataMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Storage  StorageConfig  `yaml:"storage"`
	Metadata MetadataConfig `yaml:"metadata"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Worker   WorkerConfig   `yaml:"worker"`
	Renderer RendererConfig `yaml:"renderer"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds batch publish settings
type PublishConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// ConsumerConfig holds polling consumer settings
type ConsumerConfig struct {
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// StorageConfig holds object store settings
type StorageConfig struct {
	Provider     string   `yaml:"provider"`
	Region       string   `yaml:"region"`
	SourceBucket string   `yaml:"source_bucket"`
	OutputBucket string   `yaml:"output_bucket"`
	LocalRoot    string   `yaml:"local_root"`
	S3           S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible endpoint settings. Empty keys fall back to AWS_* environment credentials.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// MetadataConfig holds job metadata store settings
type MetadataConfig struct {
	Backend       string        `yaml:"backend"`
	JobTTL        time.Duration `yaml:"job_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// JobsConfig holds job submission limits
type JobsConfig struct {
	MaxFrames int `yaml:"max_frames"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	AckPolicy       string        `yaml:"ack_policy"`
	MaxMessages     int           `yaml:"max_messages"`
	PollWait        time.Duration `yaml:"poll_wait"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	WorkDir         string        `yaml:"work_dir"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RendererConfig holds render engine settings
type RendererConfig struct {
	BinaryPath      string   `yaml:"binary_path"`
	GPUScript       string   `yaml:"gpu_script"`
	GPUQueryCommand string   `yaml:"gpu_query_command"`
	GPUQueryArgs    []string `yaml:"gpu_query_args"`
	PreferredMarker string   `yaml:"preferred_marker"`
}

// Load reads and parses the configuration file, then applies defaults and environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.ApplyEnv(os.LookupEnv)
	config.deriveS3Endpoint()
	return &config, nil
}

// deriveS3Endpoint points an unset S3 endpoint at the AWS regional endpoint.
// It runs after ApplyEnv so RENDER_REGION is honored.
func (c *Config) deriveS3Endpoint() {
	if c.Storage.Provider != StorageS3 || c.Storage.S3.Endpoint != "" || c.Storage.Region == "" {
		return
	}
	c.Storage.S3.Endpoint = fmt.Sprintf("s3.%s.amazonaws.com", c.Storage.Region)
	c.Storage.S3.UseSSL = true
}

func (c *Config) applyDefaults() {
	if c.Storage.Provider == "" {
		c.Storage.Provider = StorageS3
	}
	if c.Metadata.Backend == "" {
		c.Metadata.Backend = MetadataPostgres
	}
	if c.Metadata.JobTTL <= 0 {
		c.Metadata.JobTTL = domain.DefaultJobTTL
	}
	if c.Jobs.MaxFrames <= 0 {
		c.Jobs.MaxFrames = domain.MaxFrameCount
	}
	if c.Worker.AckPolicy == "" {
		c.Worker.AckPolicy = string(domain.AckAfterSuccess)
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.RabbitMQ.Consumer.VisibilityTimeout <= 0 {
		c.RabbitMQ.Consumer.VisibilityTimeout = 5 * time.Minute
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
}

// ApplyEnv overrides file settings with the environment variables that are set
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvRegion, &c.Storage.Region},
		{EnvSourceBucket, &c.Storage.SourceBucket},
		{EnvOutputBucket, &c.Storage.OutputBucket},
		{EnvQueue, &c.RabbitMQ.Queue.Name},
		{EnvBlenderPath, &c.Renderer.BinaryPath},
		{EnvLogLevel, &c.Logging.Level},
		{EnvAckPolicy, &c.Worker.AckPolicy},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && strings.TrimSpace(v) != "" {
			*o.target = strings.TrimSpace(v)
		}
	}
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort),
		}
	}

	var missing []string
	missing = append(missing, c.rabbitMQMissing()...)
	missing = append(missing, c.metadataMissing()...)
	missing = append(missing, c.storageMissing()...)
	if c.Storage.OutputBucket == "" {
		missing = append(missing, "storage.output_bucket ("+EnvOutputBucket+")")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}
	if c.Jobs.MaxFrames > domain.MaxFrameCount {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("jobs.max_frames %d exceeds the supported maximum %d", c.Jobs.MaxFrames, domain.MaxFrameCount),
		}
	}
	return c.validatePorts()
}

// ValidateWorkerConfig checks the settings the worker needs before it may poll
func (c *Config) ValidateWorkerConfig() error {
	var missing []string
	if c.Storage.Provider == StorageS3 && c.Storage.Region == "" {
		missing = append(missing, "storage.region ("+EnvRegion+")")
	}
	if c.Storage.SourceBucket == "" {
		missing = append(missing, "storage.source_bucket ("+EnvSourceBucket+")")
	}
	if c.RabbitMQ.Queue.Name == "" {
		missing = append(missing, "rabbitmq.queue.name ("+EnvQueue+")")
	}
	if c.Renderer.BinaryPath == "" {
		missing = append(missing, "renderer.binary_path ("+EnvBlenderPath+")")
	}
	if c.Logging.Level == "" {
		missing = append(missing, "logging.level ("+EnvLogLevel+")")
	}
	if c.RabbitMQ.Host == "" {
		missing = append(missing, "rabbitmq.host")
	}
	if c.RabbitMQ.Exchange.Name == "" {
		missing = append(missing, "rabbitmq.exchange.name")
	}
	missing = append(missing, c.storageMissing()...)
	if len(missing) > 0 {
		return &domain.ConfigurationError{Missing: missing}
	}

	if !domain.AckPolicy(c.Worker.AckPolicy).Valid() {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("unknown worker ack_policy %q (want %q or %q)",
				c.Worker.AckPolicy, domain.AckAfterSuccess, domain.AckAfterDecode),
		}
	}
	if err := c.validateTaskTimeout(); err != nil {
		return err
	}
	if err := c.validateStorageProvider(); err != nil {
		return err
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort),
		}
	}
	return nil
}

func (c *Config) rabbitMQMissing() []string {
	var missing []string
	if c.RabbitMQ.Host == "" {
		missing = append(missing, "rabbitmq.host")
	}
	if c.RabbitMQ.Exchange.Name == "" {
		missing = append(missing, "rabbitmq.exchange.name")
	}
	if c.RabbitMQ.Queue.Name == "" {
		missing = append(missing, "rabbitmq.queue.name ("+EnvQueue+")")
	}
	return missing
}

func (c *Config) metadataMissing() []string {
	switch c.Metadata.Backend {
	case MetadataPostgres:
		var missing []string
		if c.Database.Host == "" {
			missing = append(missing, "database.host")
		}
		if c.Database.Database == "" {
			missing = append(missing, "database.database")
		}
		return missing
	case MetadataRedis:
		if c.Redis.Addr == "" {
			return []string{"redis.addr"}
		}
	}
	return nil
}

func (c *Config) storageMissing() []string {
	switch {
	case c.Storage.Provider == StorageLocalFS && c.Storage.LocalRoot == "":
		return []string{"storage.local_root"}
	case c.Storage.Provider == StorageS3 && c.Storage.S3.Endpoint == "":
		return []string{"storage.s3.endpoint"}
	}
	return nil
}

// validateTaskTimeout rejects task timeouts that outlive the visibility timeout when
// acknowledging after success, since such frames would be redelivered mid-render
func (c *Config) validateTaskTimeout() error {
	if domain.AckPolicy(c.Worker.AckPolicy) != domain.AckAfterSuccess {
		return nil
	}
	visibility := c.RabbitMQ.Consumer.VisibilityTimeout
	if c.Worker.TaskTimeout > 0 && visibility > 0 && c.Worker.TaskTimeout > visibility {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("worker task_timeout %s exceeds rabbitmq consumer visibility_timeout %s",
				c.Worker.TaskTimeout, visibility),
		}
	}
	return nil
}

func (c *Config) validateStorageProvider() error {
	switch c.Storage.Provider {
	case StorageS3, StorageLocalFS:
		return nil
	}
	return &domain.ConfigurationError{Reason: fmt.Sprintf("unknown storage provider %q", c.Storage.Provider)}
}

func (c *Config) validatePorts() error {
	if err := c.validateStorageProvider(); err != nil {
		return err
	}

	switch c.Metadata.Backend {
	case MetadataPostgres:
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return &domain.ConfigurationError{
				Reason: fmt.Sprintf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort),
			}
		}
	case MetadataRedis, MetadataMemory:
	default:
		return &domain.ConfigurationError{Reason: fmt.Sprintf("unknown metadata backend %q", c.Metadata.Backend)}
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort),
		}
	}
	return nil
}
