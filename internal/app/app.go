package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/ReviewGo/internal/config"
	"github.com/utafrali/ReviewGo/internal/event"
	handler "github.com/utafrali/ReviewGo/internal/handler/http"
	"github.com/utafrali/ReviewGo/internal/repository"
	"github.com/utafrali/ReviewGo/internal/repository/postgres"
	"github.com/utafrali/ReviewGo/internal/repository/redis"
	"github.com/utafrali/ReviewGo/internal/reviewable"
	"github.com/utafrali/ReviewGo/internal/service"
	"github.com/utafrali/ReviewGo/migrations"
	"github.com/utafrali/ReviewGo/pkg/auth"
	"github.com/utafrali/ReviewGo/pkg/database"
	"github.com/utafrali/ReviewGo/pkg/health"
	"github.com/utafrali/ReviewGo/pkg/httpclient"
	pkgkafka "github.com/utafrali/ReviewGo/pkg/kafka"
	"github.com/utafrali/ReviewGo/pkg/middleware"
	"github.com/utafrali/ReviewGo/pkg/tracing"
)

// ServiceName identifies the review service in logs, metrics and traces.
const ServiceName = "review-service"

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	moderation     *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
	stopLimiter    context.CancelFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
		logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Optional Redis for the summary cache and consumer idempotency.
	var (
		redisClient      *goredis.Client
		summaryCache     repository.SummaryCache = redis.NopSummaryCache{}
		idempotencyStore pkgkafka.IdempotencyStore
	)
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		summaryCache = redis.NewSummaryCache(redisClient, cfg.SummaryTTL())
		idempotencyStore = pkgkafka.NewRedisIdempotencyStore(redisClient, "review-service:processed:", cfg.IdempotencyTTL())
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	} else {
		idempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL())
	}

	// Initialize Kafka producer with connection validation and retry.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	store := postgres.NewStore(pool)
	registry := NewRegistry(cfg, logger)
	eventProducer := event.NewProducer(producer, logger)
	reviewService := service.NewReviewService(store, registry, summaryCache, eventProducer, service.Config{
		MaxRating:   cfg.MaxRating,
		AutoApprove: cfg.AutoApprove,
	}, logger)

	// Moderation decisions arrive on Kafka.
	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	moderation := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaConsumerGroup + "-moderation",
		Topic:      event.TopicReviewModerated,
		MinBytes:   1,
		MaxBytes:   10e6,
		MaxRetries: cfg.KafkaMaxRetries,
	}, pkgkafka.IdempotentHandler(idempotencyStore, event.NewModerationHandler(reviewService, logger), logger), dlq, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	limiterCtx, stopLimiter := context.WithCancel(context.Background())
	router := handler.NewRouter(reviewService, healthHandler, handler.RouterConfig{
		ServiceName:  ServiceName,
		Authenticate: Authenticator(cfg),
		WriteLimit:   middleware.RateLimit(limiterCtx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger),
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dlq:            dlq,
		moderation:     moderation,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
		stopLimiter:    stopLimiter,
	}, nil
}

// NewRegistry builds the reviewable registry. Every catalog entry gets an
// HTTP resolver behind its own circuit breaker.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *reviewable.Registry {
	registry := reviewable.NewRegistry(cfg.ReviewableStrictTypes)
	client := httpclient.New(httpclient.DefaultConfig())

	for typ, baseURL := range cfg.ReviewableCatalog {
		name := typ + "-catalog"
		cb := httpclient.NewCircuitBreakerClient(client, httpclient.CircuitBreakerConfig{
			Name:         name,
			MaxRequests:  cfg.CBMaxRequests,
			Interval:     time.Duration(cfg.CBInterval) * time.Second,
			Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
			FailureRatio: cfg.CBFailureRatio,
			MinRequests:  cfg.CBMinRequests,
		}, logger)
		registry.Register(typ, reviewable.NewHTTPResolver(cb, baseURL, name))
	}

	logger.Info("reviewable registry initialized",
		slog.Any("types", registry.Types()),
		slog.Bool("strict", cfg.ReviewableStrictTypes),
	)
	return registry
}

// Authenticator returns JWT bearer authentication, or gateway header
// identity when auth is disabled.
func Authenticator(cfg *config.Config) func(http.Handler) http.Handler {
	if !cfg.AuthEnabled {
		return handler.HeaderIdentity
	}
	jwt := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, 0)
	return middleware.Auth(jwt.Validator())
}

// Run starts the HTTP server and the moderation consumer, then blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start Kafka consumer.
	go func() {
		if err := a.moderation.Start(ctx); err != nil {
			errCh <- fmt.Errorf("moderation consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// HTTP server, tracer, Kafka consumer, Kafka producers, Redis, PostgreSQL.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.stopLimiter()

	// Flush spans after the HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.moderation.Close(); err != nil {
		a.logger.Error("moderation consumer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := a.dlq.Close(); err != nil {
		a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pinger is the part of *pkgkafka.Producer pingKafkaWithRetry needs.
type pinger interface {
	Ping(ctx context.Context) error
}

const kafkaPingAttempts = 3

// pingKafkaWithRetry pings the producer with exponential backoff
// (1s/2s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer pinger, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < kafkaPingAttempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == kafkaPingAttempts-1 {
			break
		}

		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", kafkaPingAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", kafkaPingAttempts, lastErr)
}
