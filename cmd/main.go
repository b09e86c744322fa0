/**
 * @description
 * This is the main entry point for the issuance-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * issuance engine, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/oracleclient, pkg/tokenclient, pkg/rabbitmq: External system clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/issuance-service/internal/api"
	"github.com/transfa/issuance-service/internal/app"
	"github.com/transfa/issuance-service/internal/config"
	"github.com/transfa/issuance-service/internal/store"
	"github.com/transfa/issuance-service/pkg/oracleclient"
	rmrabbit "github.com/transfa/issuance-service/pkg/rabbitmq"
	"github.com/transfa/issuance-service/pkg/tokenclient"
)

func main() {
	// Load a local .env file if present; environment variables still win.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.OperatorAccount) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"operator account must be configured\" env=OPERATOR_ACCOUNT")
	}
	if strings.TrimSpace(cfg.TokenLedgerInternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"token ledger api key must be configured\" env=TOKEN_LEDGER_INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting issuance-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish observation events.
	// Event publishing is observational; issuance works without it.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the price oracle and companion token ledger clients.
	oracleClient := oracleclient.NewClient(cfg.OracleAPIBaseURL, cfg.OraclePair)
	tokenClient := tokenclient.NewClient(cfg.TokenLedgerURL, cfg.TokenLedgerInternalAPIKey)

	// Redis backs the distributed rate limiter. Missing or unreachable Redis
	// degrades to unlimited rather than blocking issuance.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core issuance engine with its dependencies.
	engine := app.NewEngine(
		repository,
		oracleClient,
		tokenClient,
		eventProducer,
		cfg.OperatorAccount,
		cfg.FeeRecipientAccount,
		cfg.MintingFeeBps,
		time.Duration(cfg.OracleMaxStalenessSeconds)*time.Second,
		time.Duration(cfg.RequestIdempotencyTTLMin)*time.Minute,
	)
	if redisClient != nil {
		engine.SetRateLimiter(
			app.NewRedisIssuanceRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.DepositRateLimitPerMinute,
			cfg.RedeemRateLimitPerMinute,
		)
	}

	// Start the processed-request sweeper so the replay registry stays bounded.
	sweeper := app.NewSweeper(repository, cfg.ProcessedRequestSweepSched)
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	// Initialize the API handlers.
	issuanceHandlers := api.NewIssuanceHandlers(engine)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/issuance", api.IssuanceRoutes(issuanceHandlers, cfg.JWKSURL))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
