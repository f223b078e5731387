package main

import (
	"context"
	"fmt"
	"time"

	passwordless "github.com/jtclabs/passwordless-entry"
	"github.com/jtclabs/passwordless-entry/badgerstore"
	"github.com/jtclabs/passwordless-entry/internal/config"
	"github.com/jtclabs/passwordless-entry/mongostore"
	"github.com/jtclabs/passwordless-entry/redisstore"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// backend holds the token store and user directory selected by
// configuration.
type backend struct {
	store  passwordless.Store
	users  passwordless.UserDirectory
	closer func(ctx context.Context) error
}

func (b *backend) Close(ctx context.Context) error {
	if b.closer == nil {
		return nil
	}
	return b.closer(ctx)
}

// openBackend opens the store of cfg. Users are read from MongoDB with the
// mongo backend, and from cfg.Users otherwise.
func openBackend(ctx context.Context, cfg *config.ServerConfig, log *zap.Logger) (*backend, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	b := &backend{users: memUsers(cfg)}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		b.store = passwordless.NewMemStore()

	case config.BackendMongo:
		client, mcfg, err := connectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := mongostore.New(client, mcfg)
		users := mongostore.NewUsers(client, mcfg)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure token indexes: %w", err)
		}
		if err := users.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure user indexes: %w", err)
		}
		b.store, b.users, b.closer = store, users, client.Disconnect

	case config.BackendBadger:
		store, err := badgerstore.Open(cfg.Store.Badger.Dir, log)
		if err != nil {
			return nil, err
		}
		b.store = store
		b.closer = func(context.Context) error { return store.Close() }

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		b.store = redisstore.New(client, cfg.Store.Redis.Prefix)
		b.closer = func(context.Context) error { return client.Close() }

	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}

	log.Info("store opened", zap.String("backend", cfg.Store.Backend))
	return b, nil
}

func connectMongo(ctx context.Context, cfg *config.ServerConfig) (*mongo.Client, mongostore.Config, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.Store.Mongo.URI))
	if err != nil {
		return nil, mongostore.Config{}, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, mongostore.Config{}, fmt.Errorf("ping mongo: %w", err)
	}
	return client, mongostore.Config{DBName: cfg.Store.Mongo.DB}, nil
}

func memUsers(cfg *config.ServerConfig) *passwordless.MemUsers {
	users := passwordless.NewMemUsers()
	for _, u := range cfg.Users {
		users.Add(&passwordless.User{ID: u.ID, Email: u.Email, Name: u.Name})
	}
	return users
}
