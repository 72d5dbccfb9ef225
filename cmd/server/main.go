package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotIan11/TechELO/internal/auth"
	"github.com/NotIan11/TechELO/internal/config"
	"github.com/NotIan11/TechELO/internal/elo"
	"github.com/NotIan11/TechELO/internal/handler"
	"github.com/NotIan11/TechELO/internal/kafka"
	"github.com/NotIan11/TechELO/internal/memstore"
	"github.com/NotIan11/TechELO/internal/obslog"
	"github.com/NotIan11/TechELO/internal/postgres"
	"github.com/NotIan11/TechELO/internal/redis"
	"github.com/NotIan11/TechELO/internal/service"
	"github.com/NotIan11/TechELO/internal/websocket"
	"github.com/NotIan11/TechELO/internal/worker"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Load configuration; only a missing file falls back to defaults
	cfg, loaded, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv("TECHELO_JWT_SECRET")
	}

	logger := obslog.New(cfg.Log)
	defer logger.Sync()
	if !loaded {
		logger.Warn("config file not found, using defaults", zap.String("path", *configPath))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier, err := auth.NewVerifier(&cfg.Auth)
	if err != nil {
		return err
	}

	rounding, err := elo.ParseRounding(cfg.Match.Rounding)
	if err != nil {
		return err
	}
	engine, err := elo.New(cfg.Match.KFactor, rounding)
	if err != nil {
		return err
	}

	var checks []namedCheck

	// Select the store
	var store service.Store
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		logger.Warn("using in-memory store; every user id is accepted and data is lost on exit")
		store = memstore.New(memstore.WithOpenDirectory())
	default:
		logger.Info("connecting to PostgreSQL",
			zap.String("host", cfg.Postgres.Host),
			zap.String("database", cfg.Postgres.Database),
		)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		store = repo
		checks = append(checks, namedCheck{"postgres", repo.Ping})
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	// Events reach the hub directly, or through Kafka so every instance sees them
	var notifier service.Notifier = hub
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, delivering events locally", zap.Error(err))
		} else {
			defer producer.Close()
			notifier = producer

			// One group per instance so each instance sees every event
			groupID := fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, uuid.NewString()[:8])
			consumer, err = kafka.NewConsumer(&cfg.Kafka, groupID, hub, logger)
			if err != nil {
				return fmt.Errorf("creating Kafka consumer: %w", err)
			}
			if err := consumer.Start(); err != nil {
				return fmt.Errorf("starting Kafka consumer: %w", err)
			}
		}
	}

	matches := service.NewMatchService(store, engine, notifier, &cfg.Match, logger)

	// Optional Redis leaderboard cache
	var cache service.RatingCache
	var syncWorker *worker.SyncWorker
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", zap.String("addr", cfg.Redis.Addr))
		redisCache, err := redis.NewLeaderboardCache(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("failed to connect to Redis, serving leaderboards from the store", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
			matches.SetRatingCache(redisCache)
			checks = append(checks, namedCheck{"redis", redisCache.Ping})

			syncWorker = worker.NewSyncWorker(redisCache, store, &cfg.Sync, logger)
			if cfg.Sync.Enabled {
				if err := syncWorker.Start(ctx); err != nil {
					return fmt.Errorf("starting sync worker: %w", err)
				}
			} else if err := syncWorker.RunOnce(ctx); err != nil {
				logger.Warn("initial leaderboard rebuild failed", zap.Error(err))
			}
		}
	}

	leaderboards := service.NewLeaderboardService(cache, store, &cfg.Leaderboard, cfg.Match.InitialRating, logger)

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(matches, leaderboards, verifier, hub, logger)
	for _, c := range checks {
		httpHandler.AddReadinessCheck(c.name, c.check)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", zap.Error(err))
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", zap.Error(err))
		}
	}

	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}

type namedCheck struct {
	name  string
	check handler.ReadinessCheck
}
