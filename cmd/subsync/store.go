package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/config"
	fsstore "github.com/mihaimyh/subsync/storage/firestore"
	"github.com/mihaimyh/subsync/storage/memory"
	"github.com/mihaimyh/subsync/storage/postgres"
	redisstore "github.com/mihaimyh/subsync/storage/redis"
	"github.com/mihaimyh/subsync/storage/tiered"
)

// closableStore is the selected billing.Store plus its lifecycle hooks.
type closableStore struct {
	billing.Store
	pings   []func(context.Context) error
	closers []func()
}

func (s *closableStore) Ping(ctx context.Context) error {
	for _, ping := range s.pings {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases backends in reverse order of opening.
func (s *closableStore) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStore builds the configured backend. With REDIS_ADDR set, a durable
// backend gets a Redis hot cache in front of it.
func openStore(ctx context.Context, cfg *config.Config, logger billing.Logger) (*closableStore, error) {
	out := &closableStore{}

	switch cfg.Store {
	case config.StoreMemory:
		out.Store = memory.New()
		return out, nil

	case config.StoreRedis:
		store, err := openRedis(cfg.RedisAddr, redisstore.DefaultConfig(), out)
		if err != nil {
			return nil, err
		}
		out.Store = store
		return out, nil

	case config.StorePostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		out.pings = append(out.pings, store.Ping)
		out.closers = append(out.closers, store.Close)
		out.Store = store

	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		out.closers = append(out.closers, func() { _ = client.Close() })
		store, err := fsstore.New(client, fsstore.Config{})
		if err != nil {
			out.Close()
			return nil, err
		}
		out.Store = store

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.RedisAddr == "" {
		return out, nil
	}

	hot, err := openRedis(cfg.RedisAddr, redisstore.CacheConfig(), out)
	if err != nil {
		out.Close()
		return nil, err
	}
	cached, err := tiered.New(tiered.Config{
		Hot:  hot,
		Cold: out.Store,
		AsyncErrorHandler: func(err error) {
			logger.Warn("hot cache write failed", billing.F("error", err))
		},
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	out.closers = append(out.closers, func() { _ = cached.Close() })
	out.Store = cached
	logger.Info("redis hot cache enabled", billing.F("addr", cfg.RedisAddr))
	return out, nil
}

func openRedis(addr string, redisConfig redisstore.Config, out *closableStore) (*redisstore.Storage, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	store, err := redisstore.New(client, redisConfig)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}
	out.pings = append(out.pings, store.Ping)
	out.closers = append(out.closers, func() { _ = store.Close() })
	return store, nil
}
