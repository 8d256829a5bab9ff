/**
 * @description
 * Entry point for the incorporation API. It loads configuration, connects to
 * PostgreSQL, Redis and RabbitMQ, selects the email transport and serves the
 * HTTP API until a termination signal arrives.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/scg/incorporation-service/internal/api"
	"github.com/scg/incorporation-service/internal/app"
	"github.com/scg/incorporation-service/internal/config"
	"github.com/scg/incorporation-service/internal/metrics"
	"github.com/scg/incorporation-service/internal/notify"
	"github.com/scg/incorporation-service/internal/store"
	rmrabbit "github.com/scg/incorporation-service/pkg/rabbitmq"
)

// eventBus is implemented by both the RabbitMQ producer and its logging fallback.
type eventBus interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishToQueue(ctx context.Context, queue string, body interface{}) error
	Close()
}

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with transaction poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)
	if err := repository.EnsureSchema(ctx); err != nil {
		logger.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	var bus eventBus = &rmrabbit.EventProducerFallback{}
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("RABBITMQ_URL not set; events will be logged only")
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "url", rmrabbit.MaskAMQPURL(cfg.RabbitMQURL), "error", err)
	} else {
		bus = producer
		logger.Info("rabbitmq producer connected")
	}
	defer bus.Close()

	var transport notify.Transport
	switch cfg.EmailTransport {
	case config.EmailTransportSMTP:
		transport = notify.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		logger.Info("email transport configured", "transport", "smtp", "host", cfg.SMTPHost)
	case config.EmailTransportQueue:
		transport = notify.NewQueueTransport(bus, cfg.MailQueue)
		logger.Info("email transport configured", "transport", "queue", "queue", cfg.MailQueue)
	default:
		logger.Warn("no email transport configured; payment emails will be simulated")
	}
	dispatcher := notify.NewDispatcher(transport, cfg.EmailFrom, logger)

	var rateLimiter api.RateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("REDIS_URL not set; order rate limiting disabled")
	} else if redisOptions, err := redis.ParseURL(cfg.RedisURL); err != nil {
		logger.Warn("redis url parse failed; order rate limiting disabled", "error", err)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if pingErr != nil {
			logger.Warn("redis ping failed; order rate limiting disabled", "error", pingErr)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
			logger.Info("redis connected")
		}
	}

	service := app.NewService(repository, bus, dispatcher, logger, app.Options{
		EventsExchange:      cfg.EventsExchange,
		AppBaseURL:          cfg.AppBaseURL,
		ReminderConcurrency: cfg.ReminderConcurrency,
		Metrics:             metrics.New(prometheus.DefaultRegisterer),
	})

	auth := api.NewAuthenticator(api.AuthOptions{
		JWKSURL: cfg.JWKSURL,
		Secret:  cfg.SessionJWTSecret,
		Issuer:  cfg.SessionIssuer,
	})
	handler := api.NewHandler(service, auth, cfg.LoginPath, api.ReminderDefaults{
		StaleAfter: time.Duration(cfg.ReminderStaleAfterHours) * time.Hour,
		BatchSize:  cfg.ReminderBatchSize,
	}, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		InternalAPIKey:      cfg.InternalAPIKey,
		RateLimiter:         rateLimiter,
		OrderLimitPerMinute: cfg.OrderRateLimitPerMinute,
		Logger:              logger,
	})
	if cfg.InternalAPIKey == "" {
		logger.Warn("INTERNAL_API_KEY not set; internal endpoints are unauthenticated")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped gracefully")
}
