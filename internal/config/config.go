package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for the auth store: ambient
// process concerns (server, database, redis, logging, metrics) plus the
// domain-specific sections spec.md's configuration surface names
// (security, ttl, resilience, observability, hybrid).
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Security      SecurityConfig      `mapstructure:"security"`
	TTL           TTLConfig           `mapstructure:"ttl"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Hybrid        HybridConfig        `mapstructure:"hybrid"`
}

// AppConfig holds process-identity configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig controls the admin HTTP surface (healthz/metrics/debug).
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds the cold-tier PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig holds the hot-tier Redis connection settings.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// LogConfig controls pkg/logger's slog + lumberjack setup.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// CompressionAlgorithm names the codec's pluggable compressor.
type CompressionAlgorithm string

const (
	CompressionNone   CompressionAlgorithm = "none"
	CompressionGzip   CompressionAlgorithm = "gzip"
	CompressionSnappy CompressionAlgorithm = "snappy"
	CompressionLZ4    CompressionAlgorithm = "lz4"
)

// SecurityConfig is spec.md's security{} option group: encryption and
// compression toggles plus key-rotation cadence.
type SecurityConfig struct {
	EnableEncryption     bool                 `mapstructure:"enable_encryption"`
	EnableCompression    bool                 `mapstructure:"enable_compression"`
	EncryptionAlgorithm  string               `mapstructure:"encryption_algorithm"`
	CompressionAlgorithm CompressionAlgorithm `mapstructure:"compression_algorithm"`
	KeyRotationDays      uint                 `mapstructure:"key_rotation_days"`
	EnableDebugLogging   bool                 `mapstructure:"enable_debug_logging"`
	Environment          string               `mapstructure:"environment"`
	MasterKey            string               `mapstructure:"master_key"`
}

// TTLConfig is spec.md's ttl{} option group: per-field hot-tier TTLs plus
// the session-lock TTL.
type TTLConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	CredsTTL   time.Duration `mapstructure:"creds_ttl"`
	KeysTTL    time.Duration `mapstructure:"keys_ttl"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

// ResilienceConfig is spec.md's resilience{} option group: operation
// timeout and retry policy for cold-tier calls.
type ResilienceConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`
}

// ObservabilityConfig is spec.md's observability{} option group.
type ObservabilityConfig struct {
	EnableMetrics      bool          `mapstructure:"enable_metrics"`
	EnableTracing      bool          `mapstructure:"enable_tracing"`
	EnableDetailedLogs bool          `mapstructure:"enable_detailed_logs"`
	MetricsInterval    time.Duration `mapstructure:"metrics_interval"`
}

// CircuitBreakerOptionsConfig is the Hybrid-specific circuit-breaker
// tuning nested under hybrid{}.
type CircuitBreakerOptionsConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeoutMs   time.Duration `mapstructure:"reset_timeout_ms"`
}

// HybridConfig is spec.md's hybrid{} option group: write-behind toggle,
// outbox batching, and circuit-breaker tuning.
type HybridConfig struct {
	EnableWriteBehind bool                        `mapstructure:"enable_write_behind"`
	QueueBatchSize    int                         `mapstructure:"queue_batch_size"`
	QueueMaxAttempts  int                         `mapstructure:"queue_max_attempts"`
	VisibilityTimeout time.Duration               `mapstructure:"visibility_timeout"`
	CircuitBreaker    CircuitBreakerOptionsConfig `mapstructure:"circuit_breaker"`
}

// LoadConfig loads configuration from built-in defaults, an optional YAML
// file, and environment variables, in that ascending priority order.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables and
// built-in defaults only, skipping any file lookup.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("app.name", "baileys-auth-store")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "15s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "baileys_auth_store")
	viper.SetDefault("database.username", "baileys_auth_store")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.min_connections", 2)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "5m")
	viper.SetDefault("database.connect_timeout", "10s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.key_prefix", "baileys:auth")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "baileys_auth_store")

	viper.SetDefault("security.enable_encryption", true)
	viper.SetDefault("security.enable_compression", false)
	viper.SetDefault("security.encryption_algorithm", "aes-256-gcm")
	viper.SetDefault("security.compression_algorithm", "none")
	viper.SetDefault("security.key_rotation_days", 90)
	viper.SetDefault("security.enable_debug_logging", false)
	viper.SetDefault("security.environment", "development")

	viper.SetDefault("ttl.default_ttl", "168h")
	viper.SetDefault("ttl.creds_ttl", "168h")
	viper.SetDefault("ttl.keys_ttl", "168h")
	viper.SetDefault("ttl.lock_ttl", "30s")

	viper.SetDefault("resilience.operation_timeout", "5s")
	viper.SetDefault("resilience.max_retries", 3)
	viper.SetDefault("resilience.retry_base_delay", "50ms")
	viper.SetDefault("resilience.retry_multiplier", 2.0)

	viper.SetDefault("observability.enable_metrics", true)
	viper.SetDefault("observability.enable_tracing", false)
	viper.SetDefault("observability.enable_detailed_logs", false)
	viper.SetDefault("observability.metrics_interval", "15s")

	viper.SetDefault("hybrid.enable_write_behind", false)
	viper.SetDefault("hybrid.queue_batch_size", 50)
	viper.SetDefault("hybrid.queue_max_attempts", 5)
	viper.SetDefault("hybrid.visibility_timeout", "30s")
	viper.SetDefault("hybrid.circuit_breaker.failure_threshold", 5)
	viper.SetDefault("hybrid.circuit_breaker.reset_timeout_ms", "30s")
}

// Validate checks the loaded configuration for internally-consistent,
// startable values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}
	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.Security.EnableEncryption && c.Security.Environment == "production" && c.Security.MasterKey == "" {
		return fmt.Errorf("security.master_key is required in production when encryption is enabled")
	}
	if c.Hybrid.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("hybrid.circuit_breaker.failure_threshold must be positive")
	}
	return nil
}

// GetDatabaseURL constructs the Postgres DSN from the discrete fields.
func (c *Config) GetDatabaseURL() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
