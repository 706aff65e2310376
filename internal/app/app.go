// Package app assembles a store from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpattn/metarepo/internal/config"
	"github.com/rpattn/metarepo/internal/db"
	"github.com/rpattn/metarepo/internal/domain"
	"github.com/rpattn/metarepo/internal/logging"
	"github.com/rpattn/metarepo/internal/metrics"
	"github.com/rpattn/metarepo/internal/navigation"
	"github.com/rpattn/metarepo/internal/pubsub"
	"github.com/rpattn/metarepo/internal/repository"
	"github.com/rpattn/metarepo/internal/store"
	"github.com/rpattn/metarepo/internal/typeregistry"
)

// App holds the wired components of a running repository.
type App struct {
	Config    config.Config
	Types     *typeregistry.Catalogue
	Repo      repository.InstanceRepository
	Events    *pubsub.Broker[domain.InstanceEvent]
	Metrics   *metrics.StoreMetrics
	Store     *store.Store
	Navigator *navigation.Navigator
	Logger    *slog.Logger

	conn *db.Connection
}

// Open loads the type catalogue, opens the configured backend and builds the
// store. Metrics register with reg when it is non-nil.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	logger = logging.OrDefault(logger)
	types, err := typeregistry.LoadFiles(cfg.TypeDefPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load type definitions: %w", err)
	}

	a := &App{Config: cfg, Types: types, Logger: logger}
	a.Repo, a.conn, err = openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Events = pubsub.NewBrokerWithBuffer[domain.InstanceEvent](cfg.EventBuffer)
	opts := []store.Option{store.WithEvents(a.Events), store.WithLogger(logger)}
	if reg != nil {
		a.Metrics = metrics.NewStoreMetrics(reg, a.Events.Dropped)
		opts = append(opts, store.WithMetrics(a.Metrics))
	}

	a.Store = store.New(a.Repo, types, store.Config{
		Collection: domain.MetadataCollection{
			ID:   cfg.Repository.MetadataCollectionID,
			Name: cfg.Repository.MetadataCollectionName,
		},
		SoftDelete:            cfg.Repository.SoftDelete,
		HistoryRetention:      cfg.Repository.HistoryRetention,
		StrictReferenceCopies: cfg.Repository.StrictReferenceCopies,
	}, opts...)
	a.Navigator = navigation.NewNavigator(a.Store, a.Repo)

	logger.Info("repository opened",
		"backend", cfg.Repository.Backend,
		"metadata_collection_id", cfg.Repository.MetadataCollectionID,
		"types", types.Len())
	return a, nil
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.InstanceRepository, *db.Connection, error) {
	switch cfg.Repository.Backend {
	case config.BackendMemory:
		return repository.NewMemoryRepository(), nil, nil
	case config.BackendPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRepository(conn.Pool), conn, nil
	case config.BackendBadger:
		badgerCfg := cfg.Badger
		if badgerCfg.Logger == nil {
			badgerCfg.Logger = logger
		}
		repo, err := repository.OpenBadgerRepository(badgerCfg)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Repository.Backend)
	}
}

// Close stops event delivery and releases the backend.
func (a *App) Close() error {
	a.Events.Close()
	err := a.Repo.Close()
	if a.conn != nil {
		a.conn.Close()
	}
	if err != nil {
		return errors.Join(errors.New("failed to close repository"), err)
	}
	return nil
}
