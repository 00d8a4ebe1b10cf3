package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/utafrali/ReviewGo/pkg/auth"
	pkgconfig "github.com/utafrali/ReviewGo/pkg/config"
	"github.com/utafrali/ReviewGo/pkg/database"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the review service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"REVIEW_HTTP_PORT" envDefault:"8010"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"reviews"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"reviews_secret"`
	PostgresDB   string `env:"REVIEW_DB_NAME" envDefault:"review_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Review rules
	MaxRating   float64 `env:"REVIEW_MAX_RATING" envDefault:"5"`
	AutoApprove bool    `env:"REVIEW_AUTO_APPROVE" envDefault:"true"`

	// Reviewable registry. Catalog entries map a type to the base URL
	// that answers GET {url}/{id}.
	ReviewableStrictTypes bool              `env:"REVIEWABLE_STRICT_TYPES" envDefault:"false"`
	ReviewableCatalog     map[string]string `env:"REVIEWABLE_CATALOG" envSeparator:"," envKeyValSeparator:"="`

	// Redis
	RedisEnabled        bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost           string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort           int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword       string `env:"REDIS_PASSWORD"`
	RedisDB             int    `env:"REDIS_DB" envDefault:"0"`
	RedisSummaryTTLSecs int    `env:"REDIS_SUMMARY_TTL_SECONDS" envDefault:"300"`
	IdempotencyTTLMins  int    `env:"IDEMPOTENCY_TTL_MINUTES" envDefault:"1440"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"review-service"`
	KafkaMaxRetries    int      `env:"KAFKA_MAX_RETRIES" envDefault:"3"`

	// Circuit breaker settings for reviewable lookups
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// JWT. With auth disabled the service trusts gateway identity headers.
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"true"`
	JWTSecret   string `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer   string `env:"JWT_ISSUER" envDefault:"user-service"`

	// Rate limiting of write routes
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load review config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if !(c.MaxRating > 0) {
		return fmt.Errorf("REVIEW_MAX_RATING must be positive, got %g", c.MaxRating)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.RedisEnabled && (c.RedisPort < 1 || c.RedisPort > 65535) {
		return fmt.Errorf("invalid REDIS_PORT: %d", c.RedisPort)
	}
	if c.RedisSummaryTTLSecs <= 0 {
		return fmt.Errorf("REDIS_SUMMARY_TTL_SECONDS must be positive, got %d", c.RedisSummaryTTLSecs)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.IdempotencyTTLMins <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_MINUTES must be positive, got %d", c.IdempotencyTTLMins)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// Outside development, require an explicitly set, strong JWT secret.
	if c.AuthEnabled && c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < auth.MinSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters long, got %d", auth.MinSecretLength, len(c.JWTSecret))
		}
	}

	for typ, rawURL := range c.ReviewableCatalog {
		if typ == "" {
			return fmt.Errorf("REVIEWABLE_CATALOG has an entry without a type")
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid REVIEWABLE_CATALOG url for %q: %w", typ, err)
		}
	}
	return nil
}

// Postgres returns the pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// IdempotencyTTL is how long a processed event id is remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMins) * time.Minute
}

// SummaryTTL is how long a cached summary stays valid.
func (c *Config) SummaryTTL() time.Duration {
	return time.Duration(c.RedisSummaryTTLSecs) * time.Second
}
