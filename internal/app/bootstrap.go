package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-books/internal/accounting"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/masterdata"
	"github.com/odyssey-erp/odyssey-books/internal/observability"
	"github.com/odyssey-erp/odyssey-books/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
)

// Runtime holds the wired books and the connections behind them.
type Runtime struct {
	Books *accounting.Books
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

// Close releases the connections.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}

// OpenBooks connects the configured storage and wires the books. Redis is
// optional: when it cannot be reached, ledger queries run uncached.
func OpenBooks(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Runtime, error) {
	rt := &Runtime{}
	opts := accounting.Options{
		Logger:      logger,
		Location:    cfg.Location(),
		MaxAttempts: cfg.SequenceMaxAttempts,
	}
	if metrics != nil {
		opts.AllocationObserver = metrics
		opts.PostingObserver = metrics
	}

	var stores accounting.Stores
	switch cfg.AppStorage {
	case StorageMemory:
		logger.Warn("using in-memory storage, the books are lost on exit")
		stores = accounting.MemoryStores(memstore.New())
	default:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		if err := db.Migrate(ctx, pool); err != nil {
			rt.Close()
			return nil, err
		}
		stores = accounting.PostgresStores(pool)
		parties := masterdata.NewPartyDirectory(pool)
		opts.Parties = parties
		opts.PartyNames = parties
		opts.Documents = masterdata.DocumentResolvers(pool)
	}

	client, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, ledger cache disabled", slog.Any("error", err))
	} else if client != nil {
		rt.Redis = client
		opts.Cache = ledger.NewCache(client, cfg.LedgerCacheTTL)
	}

	books, err := accounting.New(stores, opts)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("app: wire books: %w", err)
	}
	rt.Books = books
	return rt, nil
}
