package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"HTTP_SERVER_PORT"` specify the environment variable
// name; `default` applies when the variable is unset and `required` makes it
// mandatory.
type Config struct {
	AppEnv     string `envconfig:"APP_ENV" default:"development"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port         string        `envconfig:"HTTP_SERVER_PORT" default:"8080"`
	TimeoutRead  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"15s"`
	TimeoutIdle  time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
}

// GrpcServerConfig holds the port for the gRPC health endpoint.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090"`
}

// PostgresConfig holds PostgreSQL database connection details.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	DBName   string `envconfig:"POSTGRES_DBNAME" required:"true"`
}

// RedisConfig holds the optional list-cache settings. An empty Addr disables
// the cache entirely.
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:""`
	CacheTTL time.Duration `envconfig:"REDIS_CACHE_TTL" default:"5m"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName)
}

var cfg Config

// Load initializes the configuration from environment variables.
// It should be called once during application startup.
func Load() (*Config, error) {
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	return &cfg, nil
}

// Get returns the loaded configuration.
// Panics if Load() has not been called successfully.
func Get() *Config {
	if cfg.Postgres.Host == "" {
		log.Fatal("configuration has not been loaded, call config.Load() first")
	}
	return &cfg
}
