package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibrahimkeyboad/gowallet/internal/adapter/middleware"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage/memory"
	"github.com/ibrahimkeyboad/gowallet/internal/adapter/storage/mongostore"
	"github.com/ibrahimkeyboad/gowallet/internal/core/config"
	"github.com/ibrahimkeyboad/gowallet/internal/core/domain"
	"github.com/ibrahimkeyboad/gowallet/internal/core/notifications"
	"github.com/ibrahimkeyboad/gowallet/internal/core/worker"
)

type jobQueue interface {
	notifications.Enqueuer
	worker.Queue
}

// backend is one storage driver's implementation of every store.
type backend struct {
	accounts  domain.AccountStore
	log       domain.TransactionLog
	requests  domain.RequestStore
	jobs      jobQueue
	responses middleware.ResponseCache
	ping      func(ctx context.Context) error
	close     func(ctx context.Context)
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case "postgres":
		dbPool, err := storage.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(ctx, dbPool); err != nil {
			dbPool.Close()
			return nil, err
		}
		return &backend{
			accounts:  storage.NewAccountRepository(dbPool),
			log:       storage.NewLedgerRepository(dbPool),
			requests:  storage.NewRequestRepository(dbPool),
			jobs:      storage.NewJobRepository(dbPool),
			responses: storage.NewIdempotencyRepository(dbPool),
			ping:      dbPool.Ping,
			close: func(context.Context) {
				dbPool.Close()
				slog.Info("✅ Database connection closed")
			},
		}, nil

	case "mongo":
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return &backend{
			accounts:  store,
			log:       store,
			requests:  store,
			jobs:      store.Jobs(),
			responses: store.ResponseCache(),
			ping:      store.Ping,
			close: func(ctx context.Context) {
				if err := store.Close(ctx); err != nil {
					slog.Error("Mongo disconnect failed", "error", err)
					return
				}
				slog.Info("✅ Mongo connection closed")
			},
		}, nil

	case "memory":
		slog.Warn("⚠️ Using the in-memory store, all data is lost on restart")
		store := memory.New()
		return &backend{
			accounts:  store,
			log:       store,
			requests:  store,
			jobs:      memory.NewJobQueue(),
			responses: memory.NewResponseCache(),
			close:     func(context.Context) {},
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
