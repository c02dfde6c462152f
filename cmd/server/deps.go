package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tourneyaudit-server-go/internal/config"
	"tourneyaudit-server-go/internal/feed"
	"tourneyaudit-server-go/internal/logging"
	"tourneyaudit-server-go/internal/resolver"
	"tourneyaudit-server-go/internal/store"
)

type deps struct {
	cfg   *config.Config
	log   *zap.SugaredLogger
	db    *sql.DB
	store *store.Store
	redis *redis.Client
	feed  *feed.Service
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
	_ = d.log.Sync()
}

func buildDependencies(ctx context.Context) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database.URL, store.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	d := &deps{cfg: cfg, log: log, db: db, store: store.New(db, log.Named("store"))}

	var users resolver.UserLookup = d.store
	if cfg.Redis.Enabled {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := d.redis.Ping(ctx).Err(); err != nil {
			// The cache is optional; lookups fall through to Postgres.
			log.Warnw("redis unreachable, user cache degraded", "addr", cfg.Redis.Addr, "error", err)
		}
		users = resolver.NewCachedUsers(d.redis, d.store, cfg.Redis.TTL, log.Named("cache"))
	}
	res := resolver.New(d.store, users, log.Named("resolver"))

	types, err := cfg.Feed.EntityTypes()
	if err != nil {
		d.Close()
		return nil, err
	}
	dispatch, err := feed.ParseDispatch(cfg.Feed.Dispatch)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.feed = feed.NewService(d.store, res, feed.Config{
		DefaultLimit:       cfg.Feed.DefaultLimit,
		MaxLimit:           cfg.Feed.MaxLimit,
		DefaultEntityTypes: types,
		Dispatch:           dispatch,
	}, log.Named("feed"))
	return d, nil
}
