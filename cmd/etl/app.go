package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/trogers1052/market-data-etl/internal/config"
	"github.com/trogers1052/market-data-etl/internal/database"
	"github.com/trogers1052/market-data-etl/internal/extract"
	"github.com/trogers1052/market-data-etl/internal/kafka"
	"github.com/trogers1052/market-data-etl/internal/logger"
	"github.com/trogers1052/market-data-etl/internal/pipeline"
	"github.com/trogers1052/market-data-etl/internal/snapshot"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	closers []func() error
}

// newApp loads configuration, builds the logger and connects to the
// warehouse. On failure it returns nil and the exit code to use.
func newApp(configPath string, stderr io.Writer) (*app, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load configuration: %v\n", err)
		return nil, ExitConfigError
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to setup logging: %v\n", err)
		return nil, ExitConfigError
	}

	db, err := database.New(cfg.Warehouse.DSN())
	if err != nil {
		log.Error("warehouse unreachable", zap.Error(err))
		log.Sync()
		return nil, ExitConnectionErr
	}

	a := &app{cfg: cfg, logger: log, db: db}
	a.closers = append(a.closers, db.Close)
	return a, ExitSuccess
}

// pipeline wires the extractor, snapshot store and optional event producer
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	store := snapshot.NewStore(a.cfg.Storage.RawDir, a.cfg.Storage.StagedDir, a.logger)

	var primary extract.Source
	if !a.cfg.Source.Offline {
		primary = extract.NewStooqClient(a.cfg.Source, a.responseCache(), a.cfg.Redis.TTL, a.logger)
	}
	extractor := extract.NewExtractor(
		primary,
		extract.NewSyntheticGenerator(a.cfg.Source.SyntheticSeed),
		store,
		a.cfg.Extract.Concurrency,
		a.logger,
	)

	deps := pipeline.Deps{
		Warehouse: a.db,
		Extractor: extractor,
		Staged:    store,
		Logger:    a.logger,
	}
	if a.cfg.Kafka.Enabled {
		producer := kafka.NewProducer(a.cfg.Kafka.Brokers, a.cfg.Kafka.RunEventsTopic)
		a.closers = append(a.closers, producer.Close)
		deps.Events = producer
	}

	return pipeline.New(pipeline.SettingsFromConfig(a.cfg), deps)
}

// responseCache returns the Redis cache when enabled and reachable, else nil
func (a *app) responseCache() extract.ResponseCache {
	if !a.cfg.Redis.Enabled {
		return nil
	}

	cache := extract.NewRedisCache(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, "etl:")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		a.logger.Warn("redis unavailable, response cache disabled", zap.Error(err))
		cache.Close()
		return nil
	}

	a.closers = append(a.closers, cache.Close)
	return cache
}

// Close releases every wired resource in reverse order
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.logger.Sync()
	return errors.Join(errs...)
}
