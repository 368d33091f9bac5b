/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, optional .env)
  2. Open the SQL store (SQLite or PostgreSQL) and migrate
  3. Optionally switch receipt numbering to a Redis counter
  4. Create the fees service, API handler and router
  5. Start the audit scheduler and the HTTP server

CONFIGURATION:
  PORT, DATABASE_DRIVER, DATABASE_URL, REDIS_URL, JWT_SECRET,
  SWEEP_INTERVAL, SWEEP_REPAIR, BRANCHES, SCHOOL_NAME, ENABLE_SCENARIOS ...
  see config/config.go.
  The -db flag overrides DATABASE_URL; use ":memory:" for a throwaway ledger.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and the database

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqldb/sqldb.go: Database implementation
  - store/redisseq: Redis receipt counter
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/fee-ledger/api"
	"github.com/warp/fee-ledger/config"
	"github.com/warp/fee-ledger/fees"
	"github.com/warp/fee-ledger/ledger"
	"github.com/warp/fee-ledger/store/redisseq"
	"github.com/warp/fee-ledger/store/sqldb"
)

func main() {
	dbURL := flag.String("db", "", "database path or DSN (overrides DATABASE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	logger := newLogger(cfg)
	log.Logger = logger

	branches := make([]ledger.Branch, len(cfg.Branches))
	for i, b := range cfg.Branches {
		branches[i] = ledger.Branch(b)
	}
	ledger.SetBranches(branches)

	store, err := sqldb.Open(sqldb.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("failed to initialize database")
	}
	defer store.Close()

	if cfg.RedisURL != "" {
		rdb, err := useRedisReceipts(context.Background(), store, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up redis receipt counter")
		}
		defer rdb.Close()
	}

	svc := fees.NewService(store,
		fees.WithLogger(logger.With().Str("component", "fees").Logger()),
		fees.WithRetries(cfg.WriteRetries, 25*time.Millisecond),
	)

	handler := api.NewHandler(svc, store, cfg.SchoolName, logger.With().Str("component", "api").Logger())
	router := api.NewRouter(handler, api.RouterConfig{
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		JWTSecret:      cfg.JWTSecret,
		Scenarios:      cfg.EnableScenarios,
	})

	scheduler := api.NewAuditScheduler(svc, logger.With().Str("component", "audit").Logger())
	scheduler.Interval = cfg.SweepInterval
	scheduler.Repair = cfg.SweepRepair
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.Port).
			Str("driver", cfg.DatabaseDriver).
			Bool("auth", cfg.JWTSecret != "").
			Bool("scenarios", cfg.EnableScenarios).
			Msg("fee ledger listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}

// newLogger writes JSON in production and console output otherwise.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsProduction() {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// redisCloser is the part of the Redis client main needs after setup.
type redisCloser interface{ Close() error }

// useRedisReceipts seeds the Redis counter above every stored receipt and
// makes the store draw numbers from it.
func useRedisReceipts(ctx context.Context, store *sqldb.Store, url string, logger zerolog.Logger) (redisCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rdb, err := redisseq.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	highest, err := store.MaxReceipt(ctx)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	alloc := redisseq.New(rdb, redisseq.DefaultKey)
	current, err := alloc.Seed(ctx, highest)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	store.SetAllocator(alloc)

	logger.Info().Int64("counter", int64(current)).Msg("receipt numbers drawn from redis")
	return rdb, nil
}
