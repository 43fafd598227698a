/**
 * @description
 * This is the main entry point for the alumni-service. It initializes configuration,
 * the database pool and migrations, the MTN MoMo client, Redis, RabbitMQ, the core
 * application service, the notification consumer, the reconciliation scheduler and
 * the HTTP server, then waits for a shutdown signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For local .env files.
 * - github.com/redis/go-redis/v9: Rate limiting for payment initiation.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/momoclient, pkg/rabbitmq, pkg/receipt: External clients and rendering.
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

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/alumniaid/alumni-service/internal/api"
	"github.com/alumniaid/alumni-service/internal/app"
	"github.com/alumniaid/alumni-service/internal/config"
	"github.com/alumniaid/alumni-service/internal/store"
	"github.com/alumniaid/alumni-service/pkg/momoclient"
	rmrabbit "github.com/alumniaid/alumni-service/pkg/rabbitmq"
	"github.com/alumniaid/alumni-service/pkg/receipt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using process environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting alumni-service\" port=%s", cfg.ServerPort)

	keyfunc, err := authKeyfunc(cfg)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"auth not configured\" err=%v", err)
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.MigrationsEnabled {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
		err := store.ApplyMigrations(migrateCtx, dbpool)
		cancelMigrate()
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	}

	var publisher rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var limiter app.RateLimiter
	if cfg.PaymentInitiateRateLimitPerMinute > 0 {
		if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		}
	}

	momoClient := momoclient.NewClient(momoclient.Config{
		BaseURL:           cfg.MTNBaseURL,
		SubscriptionKey:   cfg.MTNSubscriptionKey,
		APIUser:           cfg.MTNAPIUser,
		APIKey:            cfg.MTNAPIKey,
		TargetEnvironment: cfg.MTNTargetEnvironment,
		Currency:          cfg.MTNCurrency,
		Timeout:           cfg.MTNTimeout(),
	})
	if strings.TrimSpace(cfg.MTNCallbackURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"mtn callback url missing; relying on pending payment polling\" env=MTN_CALLBACK_URL")
	}

	repository := store.NewPostgresRepository(dbpool)
	alumniService := app.NewService(
		repository,
		momoClient,
		publisher,
		limiter,
		receipt.NewRenderer(cfg.ReceiptOrganisation),
		app.Options{
			EventsExchange:             cfg.EventsExchange,
			CallbackURL:                cfg.MTNCallbackURL,
			InitiateRateLimitPerMinute: cfg.PaymentInitiateRateLimitPerMinute,
		},
	)

	// In-app notifications are derived from our own events; the API keeps serving without them.
	notificationConsumer := app.NewNotificationConsumer(repository)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; in-app notifications disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.NotificationQueue, notificationConsumer.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"notification consumer start failed\" err=%v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	scheduler := app.NewScheduler(app.NewJobs(alumniService, logger, cfg), logger, cfg)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
	}

	handlers := api.NewHandlers(alumniService)
	auth := api.AuthMiddleware(keyfunc, api.AuthOptions{Audience: cfg.JWTAudience, Issuer: cfg.JWTIssuer})
	router := api.NewRouter(handlers, auth, cfg.AllowedOrigins())

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

// authKeyfunc prefers the JWKS endpoint and falls back to a shared HS256 secret.
func authKeyfunc(cfg config.Config) (jwt.Keyfunc, error) {
	if url := strings.TrimSpace(cfg.JWKSURL); url != "" {
		log.Printf("level=info component=bootstrap msg=\"jwt verification via jwks\" url=%s", url)
		return api.JWKSKeyfunc(url), nil
	}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		log.Println("level=info component=bootstrap msg=\"jwt verification via shared secret\"")
		return api.HMACKeyfunc([]byte(secret)), nil
	}
	return nil, fmt.Errorf("one of JWKS_URL or JWT_SECRET must be set")
}

// connectRedis returns nil when Redis is not configured or not reachable; rate
// limiting is then disabled rather than blocking startup.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; payment rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; payment rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; payment rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
