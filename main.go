package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/internal/cache"
	"wallet-ledger/internal/config"
	"wallet-ledger/internal/db"
	"wallet-ledger/internal/events"
	"wallet-ledger/internal/logger"
	"wallet-ledger/internal/router"
	"wallet-ledger/internal/services"
	"wallet-ledger/internal/store"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := logger.InitLogger("info", true)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := logger.InitLogger(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("store", cfg.Store.Driver).Msg("Starting wallet ledger")

	st, err := openStore(cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	txCache := openCache(cfg.Cache, log)
	defer txCache.Close()

	publisher := openPublisher(cfg.Events, log)
	defer publisher.Close()

	accounts := services.NewAccountRegistry(st, cfg.Ledger, log)
	svc := router.Services{
		Users:        services.NewUserService(st, cfg.Ledger, log),
		Accounts:     accounts,
		Transactions: services.NewTransactionService(st, accounts, txCache, publisher, cfg.Ledger, log),
		Queries:      services.NewQueryService(st, txCache, cfg.Ledger, log),
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.SetupRouter(svc, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func openStore(cfg config.StoreConfig, log zerolog.Logger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		if cfg.WALPath == "" {
			log.Warn().Msg("WAL_PATH not set, ledger state will not survive a restart")
			return store.NewMemoryStore(), nil
		}
		wal, err := store.OpenWAL(cfg.WALPath)
		if err != nil {
			return nil, err
		}
		st, err := store.NewDurableMemoryStore(wal)
		if err != nil {
			wal.Close()
			return nil, err
		}
		log.Info().Str("wal", cfg.WALPath).Msg("Recovered ledger from WAL")
		return st, nil
	}

	database, err := db.InitDB(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(database, log); err != nil {
		database.Close()
		return nil, err
	}
	return store.NewMySQLStore(database), nil
}

func openCache(cfg config.CacheConfig, log zerolog.Logger) cache.TransactionCache {
	if cfg.RedisAddr == "" {
		return cache.NoopCache{}
	}

	client := cache.NewRedisClient(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, transaction cache disabled")
		client.Close()
		return cache.NoopCache{}
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	return cache.NewRedisTransactionCache(client, cfg.TTL)
}

func openPublisher(cfg config.EventsConfig, log zerolog.Logger) events.Publisher {
	if cfg.NATSURL == "" {
		return events.NoopPublisher{}
	}

	publisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("NATS unavailable, transaction events disabled")
		return events.NoopPublisher{}
	}

	log.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.SubjectPrefix).Msg("Connected to NATS")
	return publisher
}
