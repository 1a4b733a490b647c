package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	ServiceName string `mapstructure:"SERVICE_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	// PostgreSQL configuration. An empty host runs the service on the in-memory repository.
	DatabaseHost     string `mapstructure:"DATABASE_HOST"`
	DatabasePort     int    `mapstructure:"DATABASE_PORT"`
	DatabaseUser     string `mapstructure:"DATABASE_USER"`
	DatabasePassword string `mapstructure:"DATABASE_PASSWORD"`
	DatabaseName     string `mapstructure:"DATABASE_NAME"`

	// Redis backs the idempotency ledger. Empty keeps the ledger in memory.
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	CatalogServiceURL  string `mapstructure:"CATALOG_SERVICE_URL"`
	BillingServiceURL  string `mapstructure:"BILLING_SERVICE_URL"`
	PaymentsServiceURL string `mapstructure:"PAYMENTS_SERVICE_URL"`
	StubCollaborators  bool   `mapstructure:"STUB_COLLABORATORS"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Currency                string        `mapstructure:"CURRENCY"`
	CallTimeout             time.Duration `mapstructure:"CALL_TIMEOUT"`
	RetryMaxAttempts        int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	PaymentRetryMaxAttempts int           `mapstructure:"PAYMENT_RETRY_MAX_ATTEMPTS"`
	RetryInitialBackoff     time.Duration `mapstructure:"RETRY_INITIAL_BACKOFF"`
	RetryMaxBackoff         time.Duration `mapstructure:"RETRY_MAX_BACKOFF"`

	CartTTL          time.Duration `mapstructure:"CART_TTL"`
	RecoveryInterval time.Duration `mapstructure:"RECOVERY_INTERVAL"`
	RecoveryGrace    time.Duration `mapstructure:"RECOVERY_GRACE"`
}

// LoadConfig reads app.env from path when present, then the environment.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVICE_NAME", "orders-service")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DATABASE_HOST", "")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "root")
	v.SetDefault("DATABASE_PASSWORD", "pass")
	v.SetDefault("DATABASE_NAME", "orders_db")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)

	v.SetDefault("CATALOG_SERVICE_URL", "http://catalog-service:8080")
	v.SetDefault("BILLING_SERVICE_URL", "http://billing-service:8080")
	v.SetDefault("PAYMENTS_SERVICE_URL", "http://payments-service:8080")
	v.SetDefault("STUB_COLLABORATORS", false)

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	v.SetDefault("CURRENCY", "USD")
	v.SetDefault("CALL_TIMEOUT", 3*time.Second)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("PAYMENT_RETRY_MAX_ATTEMPTS", 4)
	v.SetDefault("RETRY_INITIAL_BACKOFF", 100*time.Millisecond)
	v.SetDefault("RETRY_MAX_BACKOFF", 2*time.Second)

	v.SetDefault("CART_TTL", 72*time.Hour)
	v.SetDefault("RECOVERY_INTERVAL", 30*time.Second)
	v.SetDefault("RECOVERY_GRACE", time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults.")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Using config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// RetryPolicies builds one policy per collaborator from the shared knobs.
func (c Config) RetryPolicies() RetryPolicies {
	build := func(maxAttempts int) RetryPolicy {
		p := DefaultRetryPolicy()
		p.MaxAttempts = maxAttempts
		p.CallTimeout = c.CallTimeout
		p.InitialBackoff = c.RetryInitialBackoff
		p.MaxBackoff = c.RetryMaxBackoff
		return p
	}
	return RetryPolicies{
		Quote:   build(c.RetryMaxAttempts),
		Address: build(c.RetryMaxAttempts),
		Payment: build(c.PaymentRetryMaxAttempts),
		Refund:  build(c.PaymentRetryMaxAttempts),
	}
}

func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DatabaseUser, c.DatabasePassword, c.DatabaseHost, c.DatabasePort, c.DatabaseName)
}
