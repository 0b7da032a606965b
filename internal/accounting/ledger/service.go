package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Directory is the slice of the account directory the ledger needs.
type Directory interface {
	GetLedger(ctx context.Context, orgID, id int64) (accounts.Ledger, error)
	FindLedgerByPath(ctx context.Context, orgID int64, path string) (accounts.Ledger, error)
	ListLedgers(ctx context.Context, orgID int64) ([]accounts.Ledger, error)
	ResolvePath(ctx context.Context, ledger accounts.Ledger) (string, error)
	EnsureChartOfAccount(ctx context.Context, ledger accounts.Ledger) (accounts.ChartOfAccount, error)
	ChartForPath(ctx context.Context, orgID int64, path string) (accounts.ChartOfAccount, error)
}

// Service answers balance, general ledger, day book and trial balance
// queries by reducing posted transactions.
type Service struct {
	repo       Repository
	directory  Directory
	reconciler *Reconciler
	numbers    *NumberResolver
	cache      *Cache
	location   *time.Location
	logger     *slog.Logger
}

// NewService constructs the query service. cache may be nil.
func NewService(repo Repository, directory Directory, reconciler *Reconciler, numbers *NumberResolver, cache *Cache, logger *slog.Logger) *Service {
	if reconciler == nil {
		reconciler = NewReconciler(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		directory:  directory,
		reconciler: reconciler,
		numbers:    numbers,
		cache:      cache,
		location:   time.UTC,
		logger:     logger,
	}
}

// WithLocation sets the organization calendar used by the day book.
func (s *Service) WithLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// Invalidate drops cached results of the organization.
func (s *Service) Invalidate(ctx context.Context, orgID int64) error {
	return s.cache.Invalidate(ctx, orgID)
}

// Balance reduces the posted lines of one account. The opening balance of the
// ledger is the base case; the opening journal lines posted for that ledger
// are left out of the sum so they are not counted twice.
func (s *Service) Balance(ctx context.Context, q BalanceQuery) (BalanceResult, error) {
	if q.OrgID == 0 {
		return BalanceResult{}, shared.Validation("ledger.balance", "organizationId", "organization required")
	}
	if q.LedgerID == 0 && strings.TrimSpace(q.AccountPath) == "" {
		return BalanceResult{}, shared.Validation("ledger.balance", "ledgerId", "ledger id or account path required")
	}
	subject := "path:" + accounts.Canonicalize(q.AccountPath)
	if q.LedgerID != 0 {
		subject = "id:" + strconv.FormatInt(q.LedgerID, 10)
	}
	return fetch(ctx, s, q.OrgID, q.Fresh, []string{"balance", subject, asOfKey(q.AsOf)}, func(ctx context.Context) (BalanceResult, error) {
		return s.balance(ctx, q)
	})
}

func (s *Service) balance(ctx context.Context, q BalanceQuery) (BalanceResult, error) {
	var (
		ledger *accounts.Ledger
		path   string
	)
	if q.LedgerID != 0 {
		l, err := s.directory.GetLedger(ctx, q.OrgID, q.LedgerID)
		if err != nil {
			return BalanceResult{}, err
		}
		resolved, err := s.directory.ResolvePath(ctx, l)
		if err != nil {
			return BalanceResult{}, err
		}
		ledger, path = &l, resolved
	} else {
		path = accounts.Canonicalize(q.AccountPath)
		l, err := s.directory.FindLedgerByPath(ctx, q.OrgID, path)
		switch {
		case err == nil:
			ledger = &l
		case !errors.Is(err, shared.ErrNotFound):
			return BalanceResult{}, err
		}
	}

	result := BalanceResult{ComputedPath: path, Type: s.accountType(ctx, q.OrgID, path, ledger)}
	var exclude int64
	if ledger != nil {
		result.LedgerID = ledger.ID
		result.OpeningBalance = ledger.OpeningBalance
		exclude = ledger.ID
	}

	totals, err := s.repo.SumByPaths(ctx, SumQuery{OrgID: q.OrgID, Paths: ledgerPaths(path, ledger), AsOf: q.AsOf, ExcludeOpeningFor: exclude})
	if err != nil {
		return BalanceResult{}, err
	}
	if countOf(totals) == 0 {
		candidates := s.reconciler.Candidates(ctx, q.OrgID, path, ledger)
		if len(candidates) > 0 {
			totals, err = s.repo.SumByPaths(ctx, SumQuery{OrgID: q.OrgID, Paths: candidates, AsOf: q.AsOf, ExcludeOpeningFor: exclude})
			if err != nil {
				return BalanceResult{}, err
			}
		}
	}
	for _, t := range totals {
		if t.Count == 0 {
			continue
		}
		result.Debit = result.Debit.Add(t.Debit)
		result.Credit = result.Credit.Add(t.Credit)
		result.MatchedPaths = append(result.MatchedPaths, t.Path)
	}
	result.Balance = signed(result.Type, result.OpeningBalance, result.Debit, result.Credit)
	return result, nil
}

func (s *Service) accountType(ctx context.Context, orgID int64, path string, ledger *accounts.Ledger) accounts.AccountType {
	var (
		chart accounts.ChartOfAccount
		err   error
	)
	if ledger != nil {
		chart, err = s.directory.EnsureChartOfAccount(ctx, *ledger)
	} else {
		chart, err = s.directory.ChartForPath(ctx, orgID, path)
	}
	if err == nil && chart.Type != "" {
		return chart.Type
	}
	return accounts.InferType(path)
}

// signed applies the sign convention of the account type.
func signed(typ accounts.AccountType, opening, debit, credit decimal.Decimal) decimal.Decimal {
	if typ.DebitNormal() {
		return opening.Add(debit).Sub(credit)
	}
	return opening.Add(credit).Sub(debit)
}

// ledgerPaths returns path followed by the other paths ledger has been posted
// under: its current path and the aliases left by renamed or moved groups.
func ledgerPaths(path string, ledger *accounts.Ledger) []string {
	out := []string{path}
	if ledger == nil {
		return out
	}
	seen := map[string]struct{}{strings.ToLower(path): {}}
	for _, p := range append([]string{ledger.Path}, ledger.PreviousPaths...) {
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup || p == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func countOf(totals []PathTotals) int {
	n := 0
	for _, t := range totals {
		n += t.Count
	}
	return n
}

// LedgerBalances returns the balance of every financial ledger. Inventory
// ledgers carry quantities for stock reporting and are left out.
func (s *Service) LedgerBalances(ctx context.Context, orgID int64, asOf *time.Time) ([]LedgerBalance, error) {
	ledgers, err := s.directory.ListLedgers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]LedgerBalance, 0, len(ledgers))
	for _, l := range ledgers {
		if l.Category == accounts.CategoryInventory {
			continue
		}
		bal, err := s.Balance(ctx, BalanceQuery{OrgID: orgID, LedgerID: l.ID, AsOf: asOf})
		if err != nil {
			return nil, fmt.Errorf("ledger balance %d: %w", l.ID, err)
		}
		out = append(out, LedgerBalance{Ledger: l, Balance: bal})
	}
	return out, nil
}

// GeneralLedger lists posted lines in date order. When filtered by account
// every row carries the running balance of that account.
func (s *Service) GeneralLedger(ctx context.Context, f GLFilter) ([]LedgerRow, error) {
	if f.OrgID == 0 {
		return nil, shared.Validation("ledger.general_ledger", "organizationId", "organization required")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, shared.Validation("ledger.general_ledger", "to", "to must not be before from")
	}
	paths, err := s.accountPaths(ctx, f.OrgID, f.Account)
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListJournals(ctx, JournalQuery{OrgID: f.OrgID, From: f.From, To: f.To, Paths: paths})
	if err != nil {
		return nil, err
	}

	var running *decimal.Decimal
	var typ accounts.AccountType
	if f.Account != "" {
		canonical := accounts.Canonicalize(f.Account)
		typ = s.accountType(ctx, f.OrgID, canonical, nil)
		start := decimal.Zero
		if f.From != nil {
			before := f.From.Add(-time.Nanosecond)
			totals, err := s.repo.SumByPaths(ctx, SumQuery{OrgID: f.OrgID, Paths: paths, AsOf: &before})
			if err != nil {
				return nil, err
			}
			for _, t := range totals {
				start = start.Add(signed(typ, decimal.Zero, t.Debit, t.Credit))
			}
		}
		running = &start
	}

	inPaths := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		inPaths[p] = struct{}{}
	}
	rows := make([]LedgerRow, 0)
	for _, j := range list {
		number := s.numbers.Resolve(ctx, j)
		for _, line := range j.Lines {
			if len(inPaths) > 0 {
				if _, ok := inPaths[line.AccountPath]; !ok {
					continue
				}
			}
			row := LedgerRow{
				JournalID:     j.ID,
				TransactionID: line.ID,
				Date:          j.Date,
				VoucherNumber: number,
				VoucherType:   InferVoucherType(number, j.Memo),
				Memo:          j.Memo,
				AccountPath:   line.AccountPath,
				Role:          line.Role,
				Meta:          line.Meta,
			}
			if line.Role == journals.RoleDebit {
				row.Debit = line.Amount
			} else {
				row.Credit = line.Amount
			}
			if running != nil {
				next := running.Add(signed(typ, decimal.Zero, row.Debit, row.Credit))
				running = &next
				rb := next
				row.RunningBalance = &rb
			}
			rows = append(rows, row)
			if f.Limit > 0 && len(rows) >= f.Limit {
				return rows, nil
			}
		}
	}
	return rows, nil
}

// accountPaths returns the canonical path of account plus the other paths its
// ledger was posted under, widened to the legacy candidates when nothing was
// posted under any of them.
func (s *Service) accountPaths(ctx context.Context, orgID int64, account string) ([]string, error) {
	if strings.TrimSpace(account) == "" {
		return nil, nil
	}
	canonical := accounts.Canonicalize(account)
	var ledger *accounts.Ledger
	if l, err := s.directory.FindLedgerByPath(ctx, orgID, canonical); err == nil {
		ledger = &l
	}
	paths := ledgerPaths(canonical, ledger)
	totals, err := s.repo.SumByPaths(ctx, SumQuery{OrgID: orgID, Paths: paths})
	if err != nil {
		return nil, err
	}
	if countOf(totals) > 0 {
		return paths, nil
	}
	return append(paths, s.reconciler.Candidates(ctx, orgID, canonical, ledger)...), nil
}

// DayBook groups posted journals by calendar day in the organization's
// location, one page of journals at a time.
func (s *Service) DayBook(ctx context.Context, f DayBookFilter) (DayBookPage, error) {
	if f.OrgID == 0 {
		return DayBookPage{}, shared.Validation("ledger.day_book", "organizationId", "organization required")
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	loc := f.Location
	if loc == nil {
		loc = s.location
	}
	paths, err := s.accountPaths(ctx, f.OrgID, f.Account)
	if err != nil {
		return DayBookPage{}, err
	}
	list, err := s.repo.ListJournals(ctx, JournalQuery{OrgID: f.OrgID, From: f.From, To: f.To, Paths: paths})
	if err != nil {
		return DayBookPage{}, err
	}

	entries := make([]DayBookEntry, 0, len(list))
	for _, j := range list {
		number := s.numbers.Resolve(ctx, j)
		label := InferVoucherType(number, j.Memo)
		if !matchesVoucherType(label, f.VoucherType) {
			continue
		}
		debit, credit := journals.Totals(j.Lines)
		entries = append(entries, DayBookEntry{
			JournalID:     j.ID,
			Date:          j.Date,
			VoucherNumber: number,
			VoucherType:   label,
			Memo:          j.Memo,
			Debit:         debit,
			Credit:        credit,
			Lines:         j.Lines,
		})
	}

	pagination := internalShared.NewPagination(f.Page, f.PageSize, len(entries))
	start, end := pagination.Bounds()
	return DayBookPage{Groups: GroupByDay(entries[start:end], loc), Pagination: pagination}, nil
}

// GroupByDay buckets entries by their calendar date in loc, keeping the first
// seen order of days.
func GroupByDay(entries []DayBookEntry, loc *time.Location) []DayBookGroup {
	if loc == nil {
		loc = time.UTC
	}
	index := make(map[string]int)
	groups := make([]DayBookGroup, 0)
	for _, e := range entries {
		day := e.Date.In(loc).Format(time.DateOnly)
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DayBookGroup{Date: day})
		}
		groups[i].Entries = append(groups[i].Entries, e)
		groups[i].Debit = groups[i].Debit.Add(e.Debit)
		groups[i].Credit = groups[i].Credit.Add(e.Credit)
	}
	return groups
}

// TrialBalance totals every posted path, typed through the chart of accounts.
// fresh forces a re-read; balance validation always passes true.
func (s *Service) TrialBalance(ctx context.Context, orgID int64, asOf *time.Time, fresh bool) (reports.TrialBalance, error) {
	if orgID == 0 {
		return reports.TrialBalance{}, shared.Validation("ledger.trial_balance", "organizationId", "organization required")
	}
	return fetch(ctx, s, orgID, fresh, []string{"trial-balance", asOfKey(asOf)}, func(ctx context.Context) (reports.TrialBalance, error) {
		totals, err := s.repo.TotalsByPath(ctx, orgID, asOf)
		if err != nil {
			return reports.TrialBalance{}, err
		}
		rows := make([]reports.AccountBalance, 0, len(totals))
		for _, t := range totals {
			row := reports.AccountBalance{Path: t.Path, Debit: t.Debit, Credit: t.Credit}
			chart, err := s.directory.ChartForPath(ctx, orgID, t.Path)
			if err == nil {
				row.Code, row.Type = chart.Code, string(chart.Type)
			} else {
				typ := accounts.InferType(t.Path)
				row.Code, row.Type = accounts.CodeFor(t.Path, typ), string(typ)
			}
			rows = append(rows, row)
		}
		return reports.BuildTrialBalance(rows), nil
	})
}

// fetch serves loader through the cache, collapsing identical concurrent
// queries. Cache failures fall back to the loader.
func fetch[T any](ctx context.Context, s *Service, orgID int64, fresh bool, parts []string, loader func(context.Context) (T, error)) (T, error) {
	if fresh || s.cache == nil {
		return loader(ctx)
	}
	key, err := s.cache.BuildKey(ctx, orgID, parts...)
	if err != nil {
		s.logger.Warn("ledger cache key", slog.Any("error", err))
		return loader(ctx)
	}
	val, err, _ := singleflightLoad(ctx, key, func(ctx context.Context) (any, error) {
		var out T
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			v, err := loader(ctx)
			if err != nil {
				return nil, loadError{err}
			}
			return v, nil
		})
		return out, err
	})
	var le loadError
	if errors.As(err, &le) {
		var zero T
		return zero, le.err
	}
	out, ok := val.(T)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("ledger cache fetch", slog.String("key", key), slog.Any("error", err))
		}
		return loader(ctx)
	}
	return out, nil
}

// loadError marks failures of the loader itself, as opposed to the cache.
type loadError struct{ err error }

func (e loadError) Error() string { return e.err.Error() }

func (e loadError) Unwrap() error { return e.err }

func asOfKey(asOf *time.Time) string {
	if asOf == nil {
		return "now"
	}
	return strconv.FormatInt(asOf.UTC().Unix(), 10)
}
