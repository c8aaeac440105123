package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/localbiz/membership/libs/config"
	"github.com/localbiz/membership/libs/db"
	"github.com/localbiz/membership/libs/runtime"
	"github.com/localbiz/membership/services/membership-service/internal/membership"
	"github.com/localbiz/membership/services/membership-service/internal/plans"
	"github.com/localbiz/membership/services/membership-service/internal/reconcile"
	"github.com/localbiz/membership/services/membership-service/internal/storage"
)

type store interface {
	membership.Store
	plans.Finder
	reconcile.Source
}

type openedStore struct {
	driver string
	store  store
	pool   *db.Pool
	checks []runtime.ReadyCheck
}

func (s openedStore) Close() {
	s.pool.Close()
}

// openStore picks the store from STORE_DRIVER: "postgres" (default) or
// "memory" for local runs without a database.
func openStore(ctx context.Context, logger *slog.Logger) (openedStore, error) {
	driver := strings.ToLower(config.String("STORE_DRIVER", "postgres"))
	switch driver {
	case "memory":
		logger.Warn("using in-memory store; state is lost on restart")
		return openedStore{driver: driver, store: storage.NewMemoryStore()}, nil
	case "postgres":
	default:
		return openedStore{}, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return openedStore{}, err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		return openedStore{}, fmt.Errorf("db connection failed: %w", err)
	}
	if config.Bool("MEMBERSHIP_AUTO_MIGRATE", false) {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return openedStore{}, err
		}
		logger.Info("schema applied")
	}
	return openedStore{
		driver: driver,
		store:  storage.NewRepository(pool),
		pool:   pool,
		checks: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
	}, nil
}
