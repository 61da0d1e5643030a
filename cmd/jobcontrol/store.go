package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/jobcontrol/store"
	bunstore "github.com/xraph/jobcontrol/store/bun"
	"github.com/xraph/jobcontrol/store/memory"
	mongostore "github.com/xraph/jobcontrol/store/mongo"
	"github.com/xraph/jobcontrol/store/postgres"
	redisstore "github.com/xraph/jobcontrol/store/redis"
	"github.com/xraph/jobcontrol/store/sqlite"
)

// openStore connects the configured backend. The returned release func
// closes whatever connection openStore created.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, func(), error) {
	noop := func() {}

	switch cfg.Driver {
	case DriverMemory:
		return memory.New(), noop, nil

	case DriverSQLite:
		s, err := sqlite.Open(cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case DriverBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), func() { _ = db.Close() }, nil

	case DriverMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, noop, fmt.Errorf("connect mongo: %w", err)
		}
		release := func() { _ = client.Disconnect(context.Background()) }
		return mongostore.New(client.Database(cfg.Database), mongostore.WithLogger(logger)), release, nil

	case DriverRedis:
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		storeOpts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.KeyPrefix != "" {
			storeOpts = append(storeOpts, redisstore.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisstore.New(client, storeOpts...), func() { _ = client.Close() }, nil
	}

	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
