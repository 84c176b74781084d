package config

import (
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every override so the host environment cannot leak into a test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvRegion, EnvSourceBucket, EnvOutputBucket, EnvQueue, EnvBlenderPath, EnvLogLevel, EnvAckPolicy} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "render_farm", cfg.Database.Database)
			assert.Equal(t, "render-frames", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 10*time.Minute, cfg.RabbitMQ.Consumer.VisibilityTimeout)
			assert.Equal(t, "us-west-2", cfg.Storage.Region)
			assert.Equal(t, "render-sources", cfg.Storage.SourceBucket)
			assert.Equal(t, "/bin/blender/3.6.2/blender", cfg.Renderer.BinaryPath)
			assert.Equal(t, 5*time.Minute, cfg.Metadata.JobTTL)
			assert.Equal(t, "after_success", cfg.Worker.AckPolicy)
			assert.Equal(t, "s3.us-west-2.amazonaws.com", cfg.Storage.S3.Endpoint, "endpoint derived from the region")
			assert.True(t, cfg.Storage.S3.UseSSL)
			assert.Equal(t, domain.MaxFrameCount, cfg.Jobs.MaxFrames)
			assert.NoError(t, cfg.ValidateAPIConfig())
			assert.NoError(t, cfg.ValidateWorkerConfig())
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("testdata/minimal_worker.yaml")
	require.NoError(t, err)

	assert.Equal(t, StorageLocalFS, cfg.Storage.Provider)
	assert.Equal(t, MetadataPostgres, cfg.Metadata.Backend)
	assert.Equal(t, domain.DefaultJobTTL, cfg.Metadata.JobTTL)
	assert.Equal(t, string(domain.AckAfterSuccess), cfg.Worker.AckPolicy)
	assert.Equal(t, 30*time.Second, cfg.Worker.ShutdownTimeout)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, 5*time.Minute, cfg.RabbitMQ.Consumer.VisibilityTimeout)
	assert.Empty(t, cfg.Storage.S3.Endpoint, "local storage has no S3 endpoint")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvRegion, "eu-central-1")
	t.Setenv(EnvSourceBucket, "scenes")
	t.Setenv(EnvQueue, "frames-eu")
	t.Setenv(EnvBlenderPath, "/opt/blender/blender")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvAckPolicy, "after_decode")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", cfg.Storage.Region)
	assert.Equal(t, "scenes", cfg.Storage.SourceBucket)
	assert.Equal(t, "frames-eu", cfg.RabbitMQ.Queue.Name)
	assert.Equal(t, "/opt/blender/blender", cfg.Renderer.BinaryPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "after_decode", cfg.Worker.AckPolicy)
	assert.Equal(t, "render-results", cfg.Storage.OutputBucket, "unset variables keep file values")
	assert.Equal(t, "s3.eu-central-1.amazonaws.com", cfg.Storage.S3.Endpoint)
}

func TestLoad_ShippedConfigs(t *testing.T) {
	for _, path := range []string{"../../configs/api-service/config.yaml", "../../configs/worker-service/config.yaml"} {
		t.Run(path, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(path)
			require.NoError(t, err)

			assert.NotEmpty(t, cfg.Storage.S3.Endpoint)
			assert.LessOrEqual(t, cfg.Worker.TaskTimeout, cfg.RabbitMQ.Consumer.VisibilityTimeout)
			assert.NoError(t, cfg.ValidateAPIConfig())
			assert.NoError(t, cfg.ValidateWorkerConfig())
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Logging: LoggingConfig{Level: "info"},
			RabbitMQ: RabbitMQConfig{
				Host:     "localhost",
				Port:     5672,
				Exchange: ExchangeConfig{Name: "render.tasks"},
				Queue:    QueueConfig{Name: "render-frames"},
			},
			Storage: StorageConfig{
				Provider:     StorageS3,
				Region:       "us-west-2",
				SourceBucket: "render-sources",
				S3:           S3Config{Endpoint: "s3.us-west-2.amazonaws.com"},
			},
			Worker:   WorkerConfig{AckPolicy: "after_success"},
			Renderer: RendererConfig{BinaryPath: "/bin/blender"},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantMissing []string
		wantReason  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "every required worker variable missing",
			mutate: func(c *Config) {
				c.Storage.Region = ""
				c.Storage.SourceBucket = ""
				c.RabbitMQ.Queue.Name = ""
				c.Renderer.BinaryPath = ""
				c.Logging.Level = ""
			},
			wantMissing: []string{
				"storage.region (RENDER_REGION)",
				"storage.source_bucket (RENDER_SOURCE_BUCKET)",
				"rabbitmq.queue.name (RENDER_QUEUE)",
				"renderer.binary_path (BLENDER_PATH)",
				"logging.level (LOG_LEVEL)",
			},
		},
		{
			name: "region not needed for local storage",
			mutate: func(c *Config) {
				c.Storage.Provider = StorageLocalFS
				c.Storage.Region = ""
				c.Storage.LocalRoot = "/data"
			},
		},
		{
			name: "local storage needs a root",
			mutate: func(c *Config) {
				c.Storage.Provider = StorageLocalFS
			},
			wantMissing: []string{"storage.local_root"},
		},
		{
			name:        "s3 storage needs an endpoint",
			mutate:      func(c *Config) { c.Storage.S3.Endpoint = "" },
			wantMissing: []string{"storage.s3.endpoint"},
		},
		{
			name: "task timeout longer than the visibility timeout",
			mutate: func(c *Config) {
				c.Worker.TaskTimeout = 2 * time.Hour
				c.RabbitMQ.Consumer.VisibilityTimeout = 10 * time.Minute
			},
			wantReason: "worker task_timeout 2h0m0s exceeds rabbitmq consumer visibility_timeout 10m0s",
		},
		{
			name: "task timeout within the visibility timeout",
			mutate: func(c *Config) {
				c.Worker.TaskTimeout = 10 * time.Minute
				c.RabbitMQ.Consumer.VisibilityTimeout = 10 * time.Minute
			},
		},
		{
			name: "long task timeout allowed when acknowledging after decode",
			mutate: func(c *Config) {
				c.Worker.AckPolicy = "after_decode"
				c.Worker.TaskTimeout = 2 * time.Hour
				c.RabbitMQ.Consumer.VisibilityTimeout = 10 * time.Minute
			},
		},
		{
			name:       "unknown ack policy",
			mutate:     func(c *Config) { c.Worker.AckPolicy = "whenever" },
			wantReason: `unknown worker ack_policy "whenever"`,
		},
		{
			name:       "unknown storage provider",
			mutate:     func(c *Config) { c.Storage.Provider = "ftp" },
			wantReason: `unknown storage provider "ftp"`,
		},
		{
			name:       "invalid rabbitmq port",
			mutate:     func(c *Config) { c.RabbitMQ.Port = 70000 },
			wantReason: "invalid rabbitmq port: 70000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantMissing == nil && tt.wantReason == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, domain.IsConfiguration(err))
			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantMissing, cfgErr.Missing)
			assert.Contains(t, cfgErr.Reason, tt.wantReason)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			Database: DatabaseConfig{Host: "localhost", Port: 5432, Database: "render_farm"},
			RabbitMQ: RabbitMQConfig{
				Host:     "localhost",
				Port:     5672,
				Exchange: ExchangeConfig{Name: "render.tasks"},
				Queue:    QueueConfig{Name: "render-frames"},
			},
			Storage: StorageConfig{
				Provider:     StorageS3,
				OutputBucket: "render-results",
				S3:           S3Config{Endpoint: "minio.internal:9000"},
			},
			Metadata: MetadataConfig{Backend: MetadataPostgres},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantMissing []string
		wantReason  string
	}{
		{name: "valid postgres config", mutate: func(c *Config) {}},
		{
			name:   "redis backend ignores database settings",
			mutate: func(c *Config) {
				c.Metadata.Backend = MetadataRedis
				c.Database = DatabaseConfig{}
				c.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:        "redis backend needs an address",
			mutate:      func(c *Config) { c.Metadata.Backend = MetadataRedis },
			wantMissing: []string{"redis.addr"},
		},
		{
			name:   "memory backend",
			mutate: func(c *Config) {
				c.Metadata.Backend = MetadataMemory
				c.Database = DatabaseConfig{}
			},
		},
		{
			name:        "missing database and output bucket",
			mutate:      func(c *Config) { c.Database.Host = ""; c.Storage.OutputBucket = "" },
			wantMissing: []string{"database.host", "storage.output_bucket (RENDER_OUTPUT_BUCKET)"},
		},
		{
			name:        "s3 storage needs an endpoint",
			mutate:      func(c *Config) { c.Storage.S3.Endpoint = "" },
			wantMissing: []string{"storage.s3.endpoint"},
		},
		{
			name:       "max frames above the supported maximum",
			mutate:     func(c *Config) { c.Jobs.MaxFrames = domain.MaxFrameCount + 1 },
			wantReason: "jobs.max_frames 100001 exceeds the supported maximum 100000",
		},
		{
			name:       "invalid server port",
			mutate:     func(c *Config) { c.Server.Port = 0 },
			wantReason: "invalid server port: 0",
		},
		{
			name:       "invalid database port",
			mutate:     func(c *Config) { c.Database.Port = 99999 },
			wantReason: "invalid database port: 99999",
		},
		{
			name:       "unknown metadata backend",
			mutate:     func(c *Config) { c.Metadata.Backend = "dynamo" },
			wantReason: `unknown metadata backend "dynamo"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantMissing == nil && tt.wantReason == "" {
				require.NoError(t, err)
				return
			}
			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantMissing, cfgErr.Missing)
			assert.Contains(t, cfgErr.Reason, tt.wantReason)
		})
	}
}

func TestConfig_ApplyEnvIgnoresBlankValues(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Region: "us-west-2"}}
	env := map[string]string{EnvRegion: "   ", EnvQueue: " frames "}

	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	assert.Equal(t, "us-west-2", cfg.Storage.Region)
	assert.Equal(t, "frames", cfg.RabbitMQ.Queue.Name)
}
