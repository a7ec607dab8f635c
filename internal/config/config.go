package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func init() {
	// Load .env file - ignore error if file doesn't exist
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Note: .env file not found or could not be loaded: %v\n", err)
	}
}

type Config struct {
	Primary       PrimaryConfig
	Database      DatabaseConfig
	Server        ServerConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Auth          AuthConfig
	Workflow      WorkflowConfig
	Observability *ObservabilityConfig
}

type PrimaryConfig struct {
	Env string
	// Storage selects the store backend: "postgres" or "memory".
	Storage string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
	MigrationsPath  string
}

type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	IdleTimeout        int
	CORSAllowedOrigins []string
}

type RedisConfig struct {
	Enabled        bool
	Address        string
	Password       string
	DB             int
	PoolSize       int
	MinIdleConns   int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	LockTTL        time.Duration
	KeyPrefix      string
	IdempotencyTTL time.Duration
	SubmitLimit    int64
	SubmitWindow   time.Duration
}

type KafkaConfig struct {
	Brokers []string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

type WorkflowConfig struct {
	// LenientPriceParse turns malformed request prices into 0 instead of
	// rejecting the submission.
	LenientPriceParse bool
	// ReservedMarker is the name prefix of infrastructure/test requests
	// hidden from the operator queue.
	ReservedMarker       string
	FallbackCategory     string
	DefaultCurrency      string
	DefaultCardBalance   decimal.Decimal
	BillingPeriodDays    int
	RenewalSchedule      string
	RenewalBatchSize     int
	AutoRenewalByDefault bool
}

type ObservabilityConfig struct {
	ServiceName  string
	Environment  string
	Logging      LoggingConfig
	NewRelic     NewRelicConfig
	HealthChecks HealthChecksConfig
}

type LoggingConfig struct {
	Level              string
	Format             string
	SlowQueryThreshold time.Duration
}

type NewRelicConfig struct {
	LicenseKey                string
	AppLogForwardingEnabled   bool
	DistributedTracingEnabled bool
	DebugLogging              bool
}

type HealthChecksConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	Checks   []string
}

// Helper functions for parsing env vars
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return fallback
}

func (c *ObservabilityConfig) GetLogLevel() string {
	if c.Logging.Level == "" {
		switch c.Environment {
		case "production":
			return "info"
		case "development":
			return "debug"
		default:
			return "info"
		}
	}
	return c.Logging.Level
}

func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Primary: PrimaryConfig{
			Env:     getEnv("DBO_ENV", "development"),
			Storage: getEnv("DBO_STORAGE", "postgres"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DBO_DB_HOST", "localhost"),
			Port:            getEnvInt("DBO_DB_PORT", 5432),
			User:            getEnv("DBO_DB_USER", "dbo"),
			Password:        getEnv("DBO_DB_PASSWORD", ""),
			Name:            getEnv("DBO_DB_NAME", "dbo"),
			SSLMode:         getEnv("DBO_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DBO_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DBO_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvInt("DBO_DB_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("DBO_DB_CONN_MAX_IDLE_TIME", 60),
			MigrationsPath:  getEnv("DBO_DB_MIGRATIONS_PATH", "file://internal/database/migrations"),
		},
		Server: ServerConfig{
			Port:               getEnv("DBO_SERVER_PORT", "8080"),
			ReadTimeout:        getEnvInt("DBO_SERVER_READ_TIMEOUT", 30),
			WriteTimeout:       getEnvInt("DBO_SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:        getEnvInt("DBO_SERVER_IDLE_TIMEOUT", 60),
			CORSAllowedOrigins: getEnvSlice("DBO_SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Enabled:        getEnvBool("DBO_REDIS_ENABLED", true),
			Address:        getEnv("DBO_REDIS_ADDRESS", "localhost:6379"),
			Password:       getEnv("DBO_REDIS_PASSWORD", ""),
			DB:             getEnvInt("DBO_REDIS_DB", 0),
			PoolSize:       getEnvInt("DBO_REDIS_POOL_SIZE", 10),
			MinIdleConns:   getEnvInt("DBO_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:    getEnvDuration("DBO_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:    getEnvDuration("DBO_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:   getEnvDuration("DBO_REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:        getEnvDuration("DBO_REDIS_LOCK_TTL", 30*time.Second),
			KeyPrefix:      getEnv("DBO_REDIS_KEY_PREFIX", "dbo:"),
			IdempotencyTTL: getEnvDuration("DBO_REDIS_IDEMPOTENCY_TTL", 24*time.Hour),
			SubmitLimit:    int64(getEnvInt("DBO_REDIS_SUBMIT_LIMIT", 10)),
			SubmitWindow:   getEnvDuration("DBO_REDIS_SUBMIT_WINDOW", time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("DBO_KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("DBO_JWT_SECRET", ""),
			Issuer:    getEnv("DBO_JWT_ISSUER", "finanspro-dbo"),
			TokenTTL:  getEnvDuration("DBO_JWT_TTL", 24*time.Hour),
		},
		Workflow: WorkflowConfig{
			LenientPriceParse:    getEnvBool("DBO_LENIENT_PRICE_PARSE", false),
			ReservedMarker:       getEnv("DBO_RESERVED_MARKER", "test-marker"),
			FallbackCategory:     getEnv("DBO_FALLBACK_CATEGORY", "Additional services"),
			DefaultCurrency:      getEnv("DBO_DEFAULT_CURRENCY", "RUB"),
			DefaultCardBalance:   getEnvDecimal("DBO_DEFAULT_CARD_BALANCE", decimal.NewFromInt(10000)),
			BillingPeriodDays:    getEnvInt("DBO_BILLING_PERIOD_DAYS", 30),
			RenewalSchedule:      getEnv("DBO_RENEWAL_SCHEDULE", "0 3 * * *"),
			RenewalBatchSize:     getEnvInt("DBO_RENEWAL_BATCH_SIZE", 200),
			AutoRenewalByDefault: getEnvBool("DBO_AUTO_RENEWAL_DEFAULT", true),
		},
		Observability: &ObservabilityConfig{
			ServiceName: "FinansPro-DBO",
			Environment: getEnv("DBO_ENV", "development"),
			Logging: LoggingConfig{
				Level:              getEnv("DBO_LOG_LEVEL", "debug"),
				Format:             getEnv("DBO_LOG_FORMAT", "console"),
				SlowQueryThreshold: getEnvDuration("DBO_LOG_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
			},
			NewRelic: NewRelicConfig{
				LicenseKey:                getEnv("DBO_NEWRELIC_LICENSE_KEY", ""),
				AppLogForwardingEnabled:   getEnvBool("DBO_NEWRELIC_LOG_FORWARDING", true),
				DistributedTracingEnabled: getEnvBool("DBO_NEWRELIC_DISTRIBUTED_TRACING", true),
				DebugLogging:              getEnvBool("DBO_NEWRELIC_DEBUG", false),
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  getEnvBool("DBO_HEALTHCHECK_ENABLED", true),
				Interval: getEnvDuration("DBO_HEALTHCHECK_INTERVAL", 30*time.Second),
				Timeout:  getEnvDuration("DBO_HEALTHCHECK_TIMEOUT", 5*time.Second),
				Checks:   getEnvSlice("DBO_HEALTHCHECK_CHECKS", []string{"database", "redis"}),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Primary.Storage != "postgres" && c.Primary.Storage != "memory" {
		return fmt.Errorf("DBO_STORAGE must be postgres or memory, got %q", c.Primary.Storage)
	}
	if c.Primary.Storage == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("DBO_DB_HOST is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DBO_DB_NAME is required")
		}
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("DBO_JWT_SECRET is required")
	}
	if len(c.Workflow.DefaultCurrency) != 3 {
		return fmt.Errorf("DBO_DEFAULT_CURRENCY must be a 3-letter code")
	}
	if c.Workflow.BillingPeriodDays <= 0 {
		return fmt.Errorf("DBO_BILLING_PERIOD_DAYS must be positive")
	}
	if c.Workflow.FallbackCategory == "" {
		return fmt.Errorf("DBO_FALLBACK_CATEGORY is required")
	}
	return nil
}
