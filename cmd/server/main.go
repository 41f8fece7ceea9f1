/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from STOCKLEDGER_* environment variables
  2. Build the logrus logger
  3. Open the record store (memory, sqlite or mysql)
  4. Connect the optional Redis result cache
  5. Build classifier, validator and stock.Service
  6. Configure HTTP router, start the scheduler
  7. Start server with graceful shutdown

ENVIRONMENT:
  STOCKLEDGER_ADDR             listen address (default: :8080)
  STOCKLEDGER_DB_DRIVER        sqlite | mysql | memory (default: sqlite)
  STOCKLEDGER_SQLITE_PATH      SQLite path, ":memory:" for in-memory
  STOCKLEDGER_MYSQL_*          MySQL connection settings
  STOCKLEDGER_REDIS_ADDR       enables the result cache when set
  STOCKLEDGER_EPSILON          balance tolerance in kg (default: 0.001)
  STOCKLEDGER_CLASSIFICATION   code:Type overrides, e.g. "Damage:Wastage"
  STOCKLEDGER_SCHEDULE_ITEMS   items reconciled daily by the scheduler
  STOCKLEDGER_LOG_LEVEL        logrus level (default: info)
  See config/config.go for the full list.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (ShutdownTimeout)
  4. Close cache and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  STOCKLEDGER_SQLITE_PATH=./data/stock.db ./server

  # Run in memory with a demo scenario
  STOCKLEDGER_DB_DRIVER=memory ./server
  curl -XPOST localhost:8080/api/scenarios/load -d '{"scenario_id":"mixed-week"}'

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqldb/sqldb.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/stockledger/api"
	"github.com/warp/stockledger/cache"
	"github.com/warp/stockledger/config"
	"github.com/warp/stockledger/stock"
	"github.com/warp/stockledger/stock/store"
	"github.com/warp/stockledger/store/mysql"
	"github.com/warp/stockledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		config.LogError(logger, "main", "openStore", cfg.DBDriver, nil, err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	// Optional result cache
	var resultCache stock.ResultCache
	if cfg.CacheEnabled() {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis ping")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("redis close")
			}
		}()
		resultCache = cache.NewRedis(redisClient, cfg.CacheTTL)
	}

	// Engine
	classifier, err := cfg.Classifier()
	if err != nil {
		logger.WithError(err).Fatal("classification")
	}
	eps, err := cfg.EpsilonValue()
	if err != nil {
		logger.WithError(err).Fatal("epsilon")
	}
	svc := stock.NewService(records, stock.NewNormalizer(classifier), stock.NewValidator(eps), resultCache, logger)
	svc.Runs = records

	// Initialize handler
	handler := api.NewHandler(records, svc, classifier, logger)

	// Create router
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Production:     cfg.Production,
	})

	scheduler := api.NewReconciliationScheduler(svc, cfg.ScheduleItems, logger)
	scheduler.CheckInterval = cfg.ScheduleInterval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Addr, "db": cfg.DBDriver, "cache": cfg.CacheEnabled()}).
			Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}

	logger.Info("server stopped")
}

// openStore returns the record store for the configured driver and its closer.
func openStore(ctx context.Context, cfg *config.Config) (api.RecordStore, func() error, error) {
	switch cfg.DBDriver {
	case "memory":
		return store.NewMemory(), func() error { return nil }, nil
	case "mysql":
		s, err := mysql.New(ctx, cfg.MySQL())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
