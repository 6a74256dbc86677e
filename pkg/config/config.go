package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	OTel   OTelConfig   `mapstructure:"otel"`
	Queue  QueueConfig  `mapstructure:"queue"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	ClientID    string   `mapstructure:"client_id"`
	EventsTopic string   `mapstructure:"events_topic"`
}

// JWTConfig holds admission token settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// QueueConfig holds waiting room tuning parameters.
//
// All durations and counts must be positive; Normalize restores the
// default for any value that is not, so a bad deploy degrades to the
// shipped defaults instead of stalling admissions.
type QueueConfig struct {
	WaitingMetaTTL   time.Duration `mapstructure:"waiting_meta_ttl"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	TicketTTL        time.Duration `mapstructure:"ticket_ttl"`
	BatchLimit       int           `mapstructure:"batch_limit"`
	InactivityGrace  time.Duration `mapstructure:"inactivity_grace"` // 0 disables the inactivity check
	DefaultSoftCap   int           `mapstructure:"default_soft_cap"`
}

const (
	defaultWaitingMetaTTL   = 30 * time.Second
	defaultScheduleInterval = time.Second
	defaultTicketTTL        = 60 * time.Second
	defaultBatchLimit       = 100
	defaultInactivityGrace  = 30 * time.Second
	defaultSoftCap          = 1000
)

// Normalize replaces invalid queue values with defaults.
// InactivityGrace is the exception: zero is a valid "disabled" setting,
// only negative values are replaced.
func (q *QueueConfig) Normalize() {
	if q.WaitingMetaTTL <= 0 {
		q.WaitingMetaTTL = defaultWaitingMetaTTL
	}
	if q.ScheduleInterval <= 0 {
		q.ScheduleInterval = defaultScheduleInterval
	}
	if q.TicketTTL <= 0 {
		q.TicketTTL = defaultTicketTTL
	}
	if q.BatchLimit <= 0 {
		q.BatchLimit = defaultBatchLimit
	}
	if q.InactivityGrace < 0 {
		q.InactivityGrace = defaultInactivityGrace
	}
	if q.DefaultSoftCap <= 0 {
		q.DefaultSoftCap = defaultSoftCap
	}
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// Read from .env file (optional)
	if err := v.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Only log if it's not a "file not found" error
			// We still continue because env vars might be set
		}
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	cfg.Queue.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	cfg.Queue.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "waitroom")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", false)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "waitroom")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "waitroom-events")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "waitroom")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", true)
	v.SetDefault("OTEL_SERVICE_NAME", "waitroom")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Queue defaults
	v.SetDefault("QUEUE_WAITING_META_TTL", "30s")
	v.SetDefault("QUEUE_SCHEDULE_INTERVAL", "1s")
	v.SetDefault("QUEUE_TICKET_TTL", "60s")
	v.SetDefault("QUEUE_BATCH_LIMIT", 100)
	v.SetDefault("QUEUE_INACTIVITY_GRACE", "30s")
	v.SetDefault("QUEUE_DEFAULT_SOFT_CAP", 1000)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	brokersStr := v.GetString("KAFKA_BROKERS")
	cfg.Kafka.Brokers = strings.Split(brokersStr, ",")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Queue
	cfg.Queue.WaitingMetaTTL = v.GetDuration("QUEUE_WAITING_META_TTL")
	cfg.Queue.ScheduleInterval = v.GetDuration("QUEUE_SCHEDULE_INTERVAL")
	cfg.Queue.TicketTTL = v.GetDuration("QUEUE_TICKET_TTL")
	cfg.Queue.BatchLimit = v.GetInt("QUEUE_BATCH_LIMIT")
	cfg.Queue.InactivityGrace = v.GetDuration("QUEUE_INACTIVITY_GRACE")
	cfg.Queue.DefaultSoftCap = v.GetInt("QUEUE_DEFAULT_SOFT_CAP")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	// Warn if using default JWT secret in production
	if c.App.Environment == "production" && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
