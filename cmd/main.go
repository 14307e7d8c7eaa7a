/**
 * @description
 * This is the main entry point for the core service. It loads configuration, connects
 * to PostgreSQL (applying embedded migrations), RabbitMQ and Redis, wires the admin,
 * two-factor and payment services, starts the gateway status consumer and the stale
 * payment scheduler, and serves the HTTP API until it receives a shutdown signal.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/redis/go-redis/v9: Backing store of the distributed rate limiter.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/authprovider: Admin client of the external auth provider.
 * - pkg/rabbitmq: Client for RabbitMQ.
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
	"github.com/parivartan/core-service/internal/api"
	"github.com/parivartan/core-service/internal/app"
	"github.com/parivartan/core-service/internal/config"
	"github.com/parivartan/core-service/internal/domain"
	"github.com/parivartan/core-service/internal/store"
	"github.com/parivartan/core-service/pkg/authprovider"
	"github.com/parivartan/core-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; relying on environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if cfg.AuthJWTSecret == "" && cfg.AuthJWKSURL == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"a token verification key must be configured\" env=AUTH_JWT_SECRET,AUTH_JWKS_URL")
	}
	log.Printf("level=info component=bootstrap msg=\"starting core-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)
	poolConfig.MinConns = int32(cfg.DBMinConns)
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching so the service works behind transaction poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.RunMigrations {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
		err := store.RunMigrations(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database migration failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"database migrations applied\"")
	}

	var publisher rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	if cfg.AuthProviderURL == "" || cfg.AuthProviderServiceKey == "" {
		log.Printf("level=warn component=bootstrap msg=\"auth provider admin client not configured; user provisioning will fail\" url_set=%t key_set=%t",
			cfg.AuthProviderURL != "",
			cfg.AuthProviderServiceKey != "",
		)
	}
	providerClient := authprovider.NewClient(cfg.AuthProviderURL, cfg.AuthProviderServiceKey)

	repository := store.NewPostgresRepository(dbpool)
	events := app.NewEventPublisher(publisher, cfg.EventsExchange)

	adminService := app.NewAdminService(repository, providerClient, app.NewUserValidator(cfg.AllowedEmailDomain), events)
	twoFactorService := app.NewTwoFactorService(repository, cfg.TOTPIssuer)
	paymentService := app.NewPaymentService(repository, events)
	if redisClient != nil {
		limiter := app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		twoFactorService.SetRateLimiter(limiter, cfg.TwoFactorRateLimitPerMinute)
		paymentService.SetRateLimiter(limiter, cfg.PaymentInitRateLimitPerMinute)
	}

	// Gateway status events are optional; webhooks and verification still settle payments without them.
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; gateway status events disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		statusConsumer := app.NewPaymentStatusConsumer(paymentService)
		bindings := map[string]rabbitmq.MessageHandler{
			domain.EventGatewayStatusSuccess: statusConsumer.HandleMessage,
			domain.EventGatewayStatusFailed:  statusConsumer.HandleMessage,
			domain.EventGatewayStatusPending: statusConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.PaymentStatusQueue, bindings); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"gateway status consumer start failed\" err=%v", err)
		} else {
			log.Printf("level=info component=bootstrap msg=\"gateway status consumer started\" queue=%s", cfg.PaymentStatusQueue)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, events, logger, time.Duration(cfg.StalePaymentAgeMinutes)*time.Minute)
	scheduler := app.NewScheduler(jobs, logger, cfg.StalePaymentReportSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	verifier := api.NewTokenVerifier(api.AuthConfig{
		JWTSecret:        cfg.AuthJWTSecret,
		JWKSURL:          cfg.AuthJWKSURL,
		ExpectedAudience: cfg.AuthAudience,
		ExpectedIssuer:   cfg.AuthIssuer,
	})
	handler := api.NewHandler(adminService, twoFactorService, paymentService, cfg.PaymentWebhookSecret)
	router := api.NewRouter(handler, verifier, cfg.AllowedOrigins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
