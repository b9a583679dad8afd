package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/activitymap"
	"github.com/goliatone/go-socialauth/config"
	"github.com/goliatone/go-socialauth/memory"
	"github.com/goliatone/go-socialauth/metrics"
	"github.com/goliatone/go-socialauth/mongodb"
	"github.com/goliatone/go-socialauth/redisstore"
	"github.com/goliatone/go-socialauth/repository"
)

// backends is the set of stores selected by the config.
type backends struct {
	links        socialauth.LinkStore
	accounts     socialauth.AccountStore
	nonces       socialauth.NonceRepository
	associations socialauth.AssociationRepository
	// migrate is nil for stores without a schema step.
	migrate  func(ctx context.Context) ([]string, error)
	rollback func(ctx context.Context) ([]string, error)
	metrics  *metrics.Collector
	registry *prometheus.Registry
	closers  []func(ctx context.Context) error
}

func (b *backends) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}

func (b *backends) linker(a *app) *socialauth.Linker {
	opts := append(a.cfg.LinkerOptions(),
		socialauth.WithLinkerLogger(socialauth.NewZerologLogger(a.log)),
		socialauth.WithLinkerActivitySink(b.activitySink(a)),
	)
	return socialauth.NewLinker(b.links, b.accounts, opts...)
}

// activitySink counts every event and writes it to the audit log.
func (b *backends) activitySink(a *app) socialauth.ActivitySink {
	audit := activitymap.Sink(func(_ context.Context, record activitymap.Normalized) error {
		a.log.Info().
			Str("actor", record.ActorID).
			Str("verb", record.Verb).
			Str("object_type", record.ObjectType).
			Str("object_id", record.ObjectID).
			Fields(record.Metadata).
			Msg("activity")
		return nil
	}, activitymap.WithActorFallback("socialauthctl"))
	return metrics.Tee(b.metrics.Sink(), audit)
}

func openBackends(cmd *cobra.Command, a *app) (*backends, error) {
	ctx := cmd.Context()
	cfg := a.cfg

	registry := prometheus.NewRegistry()
	collector, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}
	b := &backends{metrics: collector, registry: registry}

	var storageNonces socialauth.NonceRepository
	var storageAssociations socialauth.AssociationRepository

	switch cfg.Storage.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		db, err := repository.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })

		mgr := repository.NewRepositoryManager(db)
		if err := mgr.Validate(); err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		b.links = mgr.Links()
		b.accounts = mgr.Accounts()
		storageNonces = mgr.Nonces()
		storageAssociations = mgr.Associations()
		b.migrate = func(ctx context.Context) ([]string, error) { return repository.Migrate(ctx, db) }
		b.rollback = func(ctx context.Context) ([]string, error) { return repository.Rollback(ctx, db) }

	case config.DriverMongo:
		client, err := mongodb.Connect(ctx, cfg.Storage.Mongo.URI)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Disconnect)

		db := client.Database(cfg.Storage.Mongo.Database)
		b.links = mongodb.NewLinkRepository(db)
		storageNonces = mongodb.NewNonceRepository(db)
		storageAssociations = mongodb.NewAssociationRepository(db)
		b.migrate = func(ctx context.Context) ([]string, error) {
			if err := mongodb.EnsureIndexes(ctx, db); err != nil {
				return nil, err
			}
			return []string{"indexes"}, nil
		}

	case config.DriverMemory:
		b.links = memory.NewLinkStore()
		b.accounts = memory.NewAccountStore()
		storageNonces = memory.NewNonceStore(memory.WithNonceStoreSkew(cfg.Nonces.Skew.Std()))
		storageAssociations = memory.NewAssociationStore(memory.WithAssociationGrace(cfg.Associations.Grace.Std()))

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	var redisOpts []redisstore.Option
	if cfg.Nonces.Backend == config.BackendRedis || cfg.Associations.Backend == config.BackendRedis {
		client, err := redisstore.NewClient(cfg.Redis.URL)
		if err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return client.Close() })
		if err := redisstore.Ping(ctx, client); err != nil {
			_ = b.Close(ctx)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		redisOpts = []redisstore.Option{
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithSkew(cfg.Nonces.Skew.Std()),
			redisstore.WithLogger(socialauth.NewZerologLogger(a.log)),
		}

		if cfg.Nonces.Backend == config.BackendRedis {
			b.nonces = redisstore.NewNonceRepository(client, redisOpts...)
		}
		if cfg.Associations.Backend == config.BackendRedis {
			b.associations = redisstore.NewAssociationRepository(client, redisOpts...)
		}
	}

	if b.nonces == nil {
		b.nonces = storageNonces
		if cfg.Nonces.Backend == config.BackendMemory {
			b.nonces = memory.NewNonceStore(memory.WithNonceStoreSkew(cfg.Nonces.Skew.Std()))
		}
	}
	if b.associations == nil {
		b.associations = storageAssociations
		if cfg.Associations.Backend == config.BackendMemory {
			b.associations = memory.NewAssociationStore(memory.WithAssociationGrace(cfg.Associations.Grace.Std()))
		}
	}

	b.nonces = collector.InstrumentNonceRepository(nonceStoreLabel(cfg), b.nonces)
	return b, nil
}

func nonceStoreLabel(cfg *config.Config) string {
	if cfg.Nonces.Backend == config.BackendStorage {
		return cfg.Storage.Driver
	}
	return cfg.Nonces.Backend
}
