// Package config defines the export service configuration.
package config

import (
	"fmt"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/export-service/infrastructure/config"
	"github.com/jonesrussell/north-cloud/export-service/infrastructure/profiling"
)

// Default service configuration values.
const (
	defaultServiceName    = "export-service"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 9020
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
)

// Default connection values.
const (
	defaultRedisAddress     = "localhost:6379"
	defaultDBDriver         = "mysql"
	defaultDBMaxOpenConns   = 10
	defaultDBMaxIdleConns   = 5
	defaultDBConnLifetime   = 30 * time.Minute
	defaultMongoDatabase    = "payment"
	defaultMongoTimeout     = 10 * time.Second
	defaultStorageTimeout   = 2 * time.Minute
	defaultStorageAttempts  = 3
	defaultWorkerTimeout    = 30 * time.Minute
	defaultPaymentBillsType = "mongo"
)

// Default execution values.
const (
	defaultQueueConcurrency = 3
	defaultJobTimeout       = 30 * time.Minute
	defaultPopTimeout       = time.Second
	defaultLocalCacheTTL    = 60 * time.Second
	defaultCacheTTL         = time.Hour
	defaultFailureThreshold = 10
	defaultRecoveryTimeout  = 5 * time.Minute
	defaultBatchSize        = 1000
	defaultMaxWorkers       = 4
	defaultBulkConcurrency  = 4
	defaultSourceRateLimit  = 50.0
	defaultSourceBurst      = 10
)

// Config holds the application configuration.
type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	Redis          RedisConfig          `yaml:"redis"`
	Database       DatabaseConfig       `yaml:"database"`
	Mongo          MongoConfig          `yaml:"mongo"`
	Storage        StorageConfig        `yaml:"storage"`
	Worker         WorkerConfig         `yaml:"worker"`
	Queue          QueueConfig          `yaml:"queue"`
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Exports        ExportsConfig        `yaml:"exports"`
	Logging        LoggingConfig        `yaml:"logging"`
	Profiling      profiling.Config     `yaml:"profiling"`
}

// ServiceConfig holds service identity and runtime settings.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"EXPORT_SERVICE_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"           yaml:"debug"`
}

// RedisConfig holds the connection used by the queue, tracker and cache.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"  yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

// DatabaseConfig holds the relational connection. An empty DSN disables SQL sources.
type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER"    yaml:"driver"`
	DSN             string        `env:"DATABASE_DSN" yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// MongoConfig holds the document store connection. An empty URI disables Mongo sources.
type MongoConfig struct {
	URI            string        `env:"MONGO_URI"      yaml:"uri"`
	Database       string        `env:"MONGO_DATABASE" yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// StorageConfig points at the storage gateway that renders files.
type StorageConfig struct {
	URL         string        `env:"STORAGE_GATEWAY_URL" yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// WorkerConfig points at the remote worker. An empty URL runs exports in-process.
type WorkerConfig struct {
	URL     string        `env:"EXPORT_WORKER_URL" yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// QueueConfig controls the background job pool.
type QueueConfig struct {
	Concurrency int           `env:"MAX_CONCURRENT_EXPORTS" yaml:"concurrency"`
	JobTimeout  time.Duration `env:"JOB_TIMEOUT"            yaml:"job_timeout"`
	PopTimeout  time.Duration `yaml:"pop_timeout"`
}

// CacheConfig controls result caching.
type CacheConfig struct {
	LocalTTL   time.Duration `yaml:"local_ttl"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CircuitBreakerConfig applies to the data source and render breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int           `env:"CB_FAILURE_THRESHOLD" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `env:"CB_RECOVERY_TIMEOUT"  yaml:"recovery_timeout"`
}

// PipelineConfig controls extraction. SourceRateLimit is the process-wide
// number of data source queries per second.
type PipelineConfig struct {
	BatchSize       int     `yaml:"batch_size"`
	MaxWorkers      int     `yaml:"max_workers"`
	BulkConcurrency int     `yaml:"bulk_concurrency"`
	RenderEmpty     bool    `yaml:"render_empty"`
	SourceRateLimit float64 `env:"SOURCE_RATE_LIMIT" yaml:"source_rate_limit"`
	SourceBurst     int     `env:"SOURCE_BURST"      yaml:"source_burst"`
}

// ExportsConfig selects backends for the built-in export types.
type ExportsConfig struct {
	PaymentBillsDBType string `env:"PAYMENT_BILLS_DB_TYPE" yaml:"payment_bills_db_type"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from a YAML file, applies defaults, then env overrides.
func Load(path string) (*Config, error) {
	cfg, loadErr := infraconfig.LoadWithDefaults(path, SetDefaults)
	if loadErr != nil {
		return nil, fmt.Errorf("load config: %w", loadErr)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidateRequired("redis.address", c.Redis.Address); err != nil {
		return err
	}
	if err := infraconfig.ValidateOneOf("database.driver", c.Database.Driver, "mysql", "postgres"); err != nil {
		return err
	}
	if err := infraconfig.ValidateOneOf("exports.payment_bills_db_type", c.Exports.PaymentBillsDBType, "mongo", "sql"); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("queue.concurrency", c.Queue.Concurrency); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("pipeline.batch_size", c.Pipeline.BatchSize); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("circuit_breaker.failure_threshold", c.CircuitBreaker.FailureThreshold); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositive("pipeline.source_burst", c.Pipeline.SourceBurst); err != nil {
		return err
	}
	if c.Pipeline.SourceRateLimit < 0 {
		return &infraconfig.ValidationError{Field: "pipeline.source_rate_limit", Message: "must not be negative"}
	}
	return infraconfig.ValidateLogLevel(c.Logging.Level)
}

// SetDefaults applies default values to all configuration sections.
func SetDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setConnectionDefaults(cfg)
	setExecutionDefaults(cfg)
	setLoggingDefaults(&cfg.Logging)
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
	if s.Port == 0 {
		s.Port = defaultServicePort
	}
}

func setConnectionDefaults(cfg *Config) {
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaultDBDriver
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultDBMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = defaultDBMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = defaultDBConnLifetime
	}

	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaultMongoDatabase
	}
	if cfg.Mongo.ConnectTimeout == 0 {
		cfg.Mongo.ConnectTimeout = defaultMongoTimeout
	}

	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = defaultStorageTimeout
	}
	if cfg.Storage.MaxAttempts == 0 {
		cfg.Storage.MaxAttempts = defaultStorageAttempts
	}

	if cfg.Worker.Timeout == 0 {
		cfg.Worker.Timeout = defaultWorkerTimeout
	}
}

func setExecutionDefaults(cfg *Config) {
	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = defaultQueueConcurrency
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = defaultJobTimeout
	}
	if cfg.Queue.PopTimeout == 0 {
		cfg.Queue.PopTimeout = defaultPopTimeout
	}

	if cfg.Cache.LocalTTL == 0 {
		cfg.Cache.LocalTTL = defaultLocalCacheTTL
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = defaultCacheTTL
	}

	if cfg.CircuitBreaker.FailureThreshold == 0 {
		cfg.CircuitBreaker.FailureThreshold = defaultFailureThreshold
	}
	if cfg.CircuitBreaker.RecoveryTimeout == 0 {
		cfg.CircuitBreaker.RecoveryTimeout = defaultRecoveryTimeout
	}

	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = defaultBatchSize
	}
	if cfg.Pipeline.MaxWorkers == 0 {
		cfg.Pipeline.MaxWorkers = defaultMaxWorkers
	}
	if cfg.Pipeline.BulkConcurrency == 0 {
		cfg.Pipeline.BulkConcurrency = defaultBulkConcurrency
	}
	if cfg.Pipeline.SourceRateLimit == 0 {
		cfg.Pipeline.SourceRateLimit = defaultSourceRateLimit
	}
	if cfg.Pipeline.SourceBurst == 0 {
		cfg.Pipeline.SourceBurst = defaultSourceBurst
	}

	if cfg.Exports.PaymentBillsDBType == "" {
		cfg.Exports.PaymentBillsDBType = defaultPaymentBillsType
	}
}

func setLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	if l.Format == "" {
		l.Format = defaultLogFormat
	}
}
