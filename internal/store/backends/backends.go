// Package backends opens the record store selected by configuration.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ocx/agentrep/internal/config"
	"github.com/ocx/agentrep/internal/store"
	"github.com/ocx/agentrep/internal/store/badgerstore"
	"github.com/ocx/agentrep/internal/store/memory"
	"github.com/ocx/agentrep/internal/store/pgstore"
	"github.com/ocx/agentrep/internal/store/redisstore"
	"github.com/ocx/agentrep/internal/store/spannerstore"
)

// Open creates the store described by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "memory", "":
		logger.Warn("[Store] Using in-memory store, state is lost on restart")
		return memory.New(), nil

	case "badger":
		s, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case "redis":
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "postgres":
		s, err := pgstore.Open(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "spanner":
		s, err := spannerstore.Open(ctx, spannerstore.Config{
			Project:  cfg.Spanner.Project,
			Instance: cfg.Spanner.Instance,
			Database: cfg.Spanner.Database,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// RunMaintenance blocks until ctx is done, running periodic housekeeping for
// backends that need it. Today that is badger's value-log GC; for every other
// backend it returns immediately.
func RunMaintenance(ctx context.Context, s store.Store, cfg config.StoreConfig, logger *slog.Logger) {
	bs, ok := s.(*badgerstore.Store)
	if !ok || cfg.Badger.GCIntervalMinutes <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(time.Duration(cfg.Badger.GCIntervalMinutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := bs.RunGC(cfg.Badger.GCDiscardRatio); err != nil {
				logger.Warn("[Store] Badger value-log GC failed", "error", err)
			}
		}
	}
}
