// Package config provides typed configuration for the storefront cache
// service. Values come from code defaults, optional YAML files and
// environment variables, in increasing order of priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the complete service configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`
	Server      Server      `yaml:"server"`
	Cache       Cache       `yaml:"cache"`
	Logging     Logging     `yaml:"logging"`
	Tracing     Tracing     `yaml:"tracing"`
	Metrics     Metrics     `yaml:"metrics"`

	// ConfigDir is where the layered loader and the watcher look for files.
	ConfigDir string `yaml:"-"`
	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// Cache configures both cache tiers, the loaders and pagination.
type Cache struct {
	KeyPrefix           string        `yaml:"keyPrefix" validate:"required,excludesall=*?[]"`
	Dedupe              bool          `yaml:"dedupe"`
	StatsReportInterval time.Duration `yaml:"statsReportInterval" validate:"min=0"`
	SeedProducts        int           `yaml:"seedProducts" validate:"min=0"`

	Redis      Redis      `yaml:"redis"`
	Local      Local      `yaml:"local"`
	Batch      Batch      `yaml:"batch"`
	Pagination Pagination `yaml:"pagination"`
}

// Redis configures the remote tier.
type Redis struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host" validate:"required_if=Enabled true"`
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db" validate:"min=0,max=15"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" validate:"gt=0"`
	OpTimeout      time.Duration `yaml:"opTimeout" validate:"gt=0"`
	HealthInterval time.Duration `yaml:"healthInterval" validate:"gt=0"`
}

// Local configures the in-process tier.
type Local struct {
	MaxBytes      int64         `yaml:"maxBytes" validate:"min=1024"`
	SweepInterval time.Duration `yaml:"sweepInterval" validate:"gt=0"`
	MaxTTL        time.Duration `yaml:"maxTTL" validate:"min=0"`
}

// Batch configures the data loaders.
type Batch struct {
	Window       time.Duration `yaml:"window" validate:"gt=0"`
	MaxBatchSize int           `yaml:"maxBatchSize" validate:"min=1,max=10000"`
	MemoSize     int           `yaml:"memoSize" validate:"min=1"`
}

// Pagination configures the page cache.
type Pagination struct {
	DefaultLimit int           `yaml:"defaultLimit" validate:"min=1"`
	MaxLimit     int           `yaml:"maxLimit" validate:"min=1,gtefield=DefaultLimit"`
	SlowQuery    time.Duration `yaml:"slowQuery" validate:"gt=0"`
}

// Logging configures zap.
type Logging struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `yaml:"serviceName" validate:"required"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required,startswith=/"`
}

// Default returns a configuration that runs locally without any files or
// environment.
func Default(env Environment) *Config {
	if env == "" {
		env = Development
	}
	return &Config{
		Environment: env,
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Cache: Cache{
			KeyPrefix:           "storefront",
			Dedupe:              true,
			StatsReportInterval: 5 * time.Minute,
			Redis: Redis{
				Enabled:        true,
				Host:           "localhost",
				Port:           6379,
				ConnectTimeout: 5 * time.Second,
				OpTimeout:      250 * time.Millisecond,
				HealthInterval: 10 * time.Second,
			},
			Local: Local{
				MaxBytes:      100 * 1024 * 1024,
				SweepInterval: 5 * time.Minute,
			},
			Batch: Batch{
				Window:       2 * time.Millisecond,
				MaxBatchSize: 100,
				MemoSize:     1000,
			},
			Pagination: Pagination{
				DefaultLimit: 20,
				MaxLimit:     100,
				SlowQuery:    100 * time.Millisecond,
			},
		},
		Logging: Logging{Level: "info"},
		Tracing: Tracing{ServiceName: "storefront-cache"},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
	}
}

// LoadConfig builds the configuration from defaults and environment
// variables only.
func LoadConfig() Config {
	cfg := Default(Environment(strings.ToLower(getEnv("ENVIRONMENT", string(Development)))))
	applyEnv(cfg)
	cfg.applyEnvironmentDefaults()
	return *cfg
}

// applyEnv overlays environment variables on cfg. Unset or unparsable
// variables keep the current value.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	cfg.ConfigDir = getEnv("CONFIG_DIR", cfg.ConfigDir)

	cfg.Server.Address = getEnv("SERVER_ADDRESS", cfg.Server.Address)

	c := &cfg.Cache
	c.KeyPrefix = getEnv("CACHE_KEY_PREFIX", c.KeyPrefix)
	c.Dedupe = getEnvBool("CACHE_DEDUPE", c.Dedupe)
	c.StatsReportInterval = getEnvDuration("CACHE_STATS_INTERVAL", c.StatsReportInterval)
	c.SeedProducts = getEnvInt("SEED_PRODUCTS", c.SeedProducts)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Username = getEnv("REDIS_USERNAME", c.Redis.Username)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.ConnectTimeout = getEnvDuration("REDIS_CONNECT_TIMEOUT", c.Redis.ConnectTimeout)
	c.Redis.OpTimeout = getEnvDuration("REDIS_OP_TIMEOUT", c.Redis.OpTimeout)

	c.Local.MaxBytes = int64(getEnvInt("CACHE_L1_MAX_BYTES", int(c.Local.MaxBytes)))
	c.Local.SweepInterval = getEnvDuration("CACHE_L1_SWEEP_INTERVAL", c.Local.SweepInterval)
	c.Local.MaxTTL = getEnvDuration("CACHE_L1_MAX_TTL", c.Local.MaxTTL)

	c.Batch.Window = getEnvDuration("LOADER_BATCH_WINDOW", c.Batch.Window)
	c.Batch.MaxBatchSize = getEnvInt("LOADER_MAX_BATCH_SIZE", c.Batch.MaxBatchSize)
	c.Batch.MemoSize = getEnvInt("LOADER_MEMO_SIZE", c.Batch.MemoSize)

	c.Pagination.DefaultLimit = getEnvInt("PAGINATION_DEFAULT_LIMIT", c.Pagination.DefaultLimit)
	c.Pagination.MaxLimit = getEnvInt("PAGINATION_MAX_LIMIT", c.Pagination.MaxLimit)
	c.Pagination.SlowQuery = getEnvDuration("PAGINATION_SLOW_QUERY", c.Pagination.SlowQuery)

	cfg.Logging.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Logging.Level))

	cfg.Tracing.Enabled = getEnvBool("ENABLE_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", cfg.Tracing.ServiceName)

	cfg.Metrics.Enabled = getEnvBool("ENABLE_METRICS", cfg.Metrics.Enabled)
}

// applyEnvironmentDefaults fills values that depend on the environment and
// were not set explicitly.
func (c *Config) applyEnvironmentDefaults() {
	if os.Getenv("LOG_LEVEL") == "" && c.Environment == Development && c.Logging.Level == "info" {
		c.Logging.Level = "debug"
	}
}

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
