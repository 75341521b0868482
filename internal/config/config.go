package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is not set")
	ErrInvalidCodeLength  = errors.New("SHORT_CODE_LENGTH must be between 6 and 8")
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	App       AppConfig
	Cache     CacheConfig
	Broker    BrokerConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	QueryTimeout    time.Duration // bound applied to every store call
	AutoMigrate     bool
}

// CacheConfig configures the Redis resolve cache. An empty URL disables it.
type CacheConfig struct {
	URL string
	TTL time.Duration
}

// BrokerConfig configures the RabbitMQ event publisher. An empty URL disables it.
type BrokerConfig struct {
	URL      string
	Exchange string
}

// TelemetryConfig holds tracing and metrics configuration
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string // empty means spans are not exported
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	BaseURL          string // Base URL for generating short links
	Version          string
	Environment      string
	ShortCodeLen     int
	ShortCodeRetries int
}

// Load loads configuration from environment variables, reading a local
// .env file first when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			URL: getEnv("REDIS_URL", ""),
			TTL: getEnvDuration("CACHE_TTL", 10*time.Minute),
		},
		Broker: BrokerConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "links.events"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "linkboard"),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		},
		App: AppConfig{
			BaseURL:          getEnv("NEXT_PUBLIC_APP_URL", "http://localhost:3000"),
			Version:          getEnv("APP_VERSION", "0.1.0"),
			Environment:      getEnv("ENVIRONMENT", "development"),
			ShortCodeLen:     getEnvInt("SHORT_CODE_LENGTH", 6),
			ShortCodeRetries: getEnvInt("SHORT_CODE_MAX_RETRIES", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if c.App.ShortCodeLen < 6 || c.App.ShortCodeLen > 8 {
		return fmt.Errorf("%w: got %d", ErrInvalidCodeLength, c.App.ShortCodeLen)
	}
	if c.App.ShortCodeRetries < 1 {
		c.App.ShortCodeRetries = 1
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
