package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer")
		}
	}()

	mp, err := initMetrics(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down meter")
		}
	}()

	// Storage
	var (
		repository Repository
		locker     OrderLocker
	)
	if cfg.DatabaseHost != "" {
		dbPool, err := initDB(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer dbPool.Close()
		if err := runMigrations(cfg.DatabaseURL()); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		repository = NewPostgresRepository(dbPool)
		locker = NewPostgresOrderLocker(dbPool)
	} else {
		log.Warn().Msg("⚠️ DATABASE_HOST not set, orders are kept in memory")
		repository = NewMemoryRepository()
		locker = NewMemoryOrderLocker()
	}

	var ledger IdempotencyLedger
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("✅ Connected to Redis")
		ledger = NewRedisLedger(redisClient, cfg.IdempotencyTTL)
	} else {
		ledger = NewMemoryLedger(cfg.IdempotencyTTL)
	}

	// Collaborators
	metrics := newSagaMetrics()
	var (
		quotes    QuoteClient
		addresses AddressClient
		payments  PaymentClient
	)
	if cfg.StubCollaborators {
		log.Warn().Msg("⚠️ Using in-memory catalog, billing and payment collaborators")
		stubQuotes, stubAddresses := NewStubQuoteClient(), NewStubAddressClient()
		seedStubCatalog(stubQuotes, stubAddresses)
		quotes, addresses, payments = stubQuotes, stubAddresses, NewStubPaymentClient()
	} else {
		quotes = NewHTTPQuoteClient(cfg.CatalogServiceURL)
		addresses = NewHTTPAddressClient(cfg.BillingServiceURL)
		payments = NewHTTPPaymentClient(cfg.PaymentsServiceURL)
	}

	policies := cfg.RetryPolicies()
	policies.Payment.OnRetry = func(err error, wait time.Duration) {
		metrics.captureRetried(context.Background())
		log.Warn().Err(err).Dur("wait", wait).Msg("🔁 Retrying payment capture")
	}
	policies.Refund.OnRetry = func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("wait", wait).Msg("🔁 Retrying refund")
	}

	// Initialize dependencies
	carts := NewCartStore(repository)
	saga := NewSagaExecutor(repository, carts, quotes, addresses, payments, ledger, locker, policies, metrics, cfg.Currency)
	useCase := NewOrderUseCase(carts, saga, repository)
	handler := NewOrderHandler(useCase, tp.Tracer(cfg.ServiceName))

	recovery := NewRecoveryWorker(saga, carts, repository, cfg.RecoveryInterval, cfg.RecoveryGrace, cfg.CartTTL)
	go recovery.Run(ctx)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), otelgin.Middleware(cfg.ServiceName), accessLog())
	handler.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("🚀 Orders Service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
}

func initDB(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Info().Msg("✅ Connected to orders database with connection pool")
			return pool, nil
		}
		log.Info().Msgf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}
