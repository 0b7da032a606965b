// Package accounting assembles the bookkeeping core: the account directory,
// voucher numbering, the posting engine, the ledger query service and the
// voucher builders.
package accounting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/vouchers"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// AuditStore records and lists audit rows.
type AuditStore interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
	List(ctx context.Context, entity, entityID string) ([]internalShared.AuditLog, error)
}

// ApprovalStore records and lists approval history.
type ApprovalStore interface {
	Record(ctx context.Context, log internalShared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]internalShared.ApprovalLog, error)
}

// Stores groups the persistence the books run on. Postgres and the in-memory
// store both satisfy it.
type Stores struct {
	Accounts    accounts.Repository
	Counters    sequences.CounterStore
	Journals    journals.Repository
	Ledger      ledger.Repository
	Idempotency vouchers.IdempotencyPort
	Audit       AuditStore
	Approvals   ApprovalStore
}

// PostgresStores backs the books with the database.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Accounts:    accounts.NewRepository(pool),
		Counters:    sequences.NewRepository(pool),
		Journals:    journals.NewRepository(pool),
		Ledger:      ledger.NewRepository(pool),
		Idempotency: internalShared.NewIdempotencyStore(pool),
		Audit:       internalShared.NewAuditLogger(pool),
		Approvals:   internalShared.NewApprovalRecorder(pool, slog.Default()),
	}
}

// MemoryStores backs the books with one in-memory store.
func MemoryStores(store *memstore.Store) Stores {
	return Stores{
		Accounts:    store,
		Counters:    store,
		Journals:    store,
		Ledger:      store,
		Idempotency: store,
		Audit:       store.Audit,
		Approvals:   store.Approvals,
	}
}

// Options tune the assembled books.
type Options struct {
	Logger             *slog.Logger
	Cache              *ledger.Cache
	Parties            ledger.PartyLookup
	PartyNames         vouchers.PartyNames
	Documents          map[string]ledger.DocumentResolver
	Location           *time.Location
	MaxAttempts        int
	AllocationObserver sequences.Observer
	PostingObserver    journals.Observer
	Now                func() time.Time
}

// Books is the wired bookkeeping core.
type Books struct {
	Directory *accounts.Directory
	Allocator *sequences.Allocator
	Engine    *journals.Engine
	Ledger    *ledger.Service
	Vouchers  *vouchers.Service

	stores Stores
	logger *slog.Logger
}

// New wires the books on top of stores.
func New(stores Stores, opts Options) (*Books, error) {
	if stores.Accounts == nil || stores.Counters == nil || stores.Journals == nil || stores.Ledger == nil {
		return nil, errors.New("accounting: account, counter, journal and ledger stores are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	directory, err := accounts.NewDirectory(stores.Accounts, logger)
	if err != nil {
		return nil, err
	}
	if stores.Audit != nil {
		directory.WithAudit(stores.Audit)
	}

	allocator := sequences.NewAllocator(stores.Counters, nil).WithMaxAttempts(opts.MaxAttempts)
	if opts.AllocationObserver != nil {
		allocator.WithObserver(opts.AllocationObserver)
	}

	var audit journals.AuditPort
	if stores.Audit != nil {
		audit = stores.Audit
	}
	engine := journals.NewEngine(stores.Journals, allocator, audit)
	engine.WithLogger(logger)
	if opts.Now != nil {
		engine.WithNow(opts.Now)
	}
	if stores.Approvals != nil {
		engine.WithApprovals(stores.Approvals)
	}
	if opts.PostingObserver != nil {
		engine.WithObserver(opts.PostingObserver)
	}

	query := ledger.NewService(stores.Ledger, directory, ledger.NewReconciler(opts.Parties),
		ledger.NewNumberResolver(opts.Documents), opts.Cache, logger)
	query.WithLocation(opts.Location)
	engine.WithNotifier(query)

	voucherService, err := vouchers.NewService(directory, engine, stores.Idempotency, logger)
	if err != nil {
		return nil, err
	}
	if opts.PartyNames != nil {
		voucherService.WithParties(opts.PartyNames)
	}
	if def, ok := voucherService.Catalog().Lookup(vouchers.TypeJournal); ok {
		engine.WithReversalSpec(def.Sequence())
	}
	directory.WithOpeningPoster(voucherService)

	return &Books{
		Directory: directory,
		Allocator: allocator,
		Engine:    engine,
		Ledger:    query,
		Vouchers:  voucherService,
		stores:    stores,
		logger:    logger,
	}, nil
}

// Handler returns the JSON API of the books.
func (b *Books) Handler() *Handler {
	var (
		audit     journals.AuditReader
		approvals journals.ApprovalReader
	)
	if b.stores.Audit != nil {
		audit = b.stores.Audit
	}
	if b.stores.Approvals != nil {
		approvals = b.stores.Approvals
	}
	return NewHandler(
		accounts.NewHandler(b.logger, b.Directory),
		journals.NewHandler(b.logger, b.Engine, audit, approvals),
		ledger.NewHandler(b.logger, b.Ledger),
		vouchers.NewHandler(b.logger, b.Vouchers),
	)
}
