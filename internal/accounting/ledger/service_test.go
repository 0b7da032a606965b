package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

const org = int64(21)

type fixture struct {
	store     *memstore.Store
	directory *accounts.Directory
	engine    *journals.Engine
	service   *ledger.Service
}

func newFixture(t *testing.T, cache *ledger.Cache) fixture {
	t.Helper()
	store := memstore.New()
	directory, err := accounts.NewDirectory(store, nil)
	require.NoError(t, err)
	engine := journals.NewEngine(store, sequences.NewAllocator(store, nil), nil)
	service := ledger.NewService(store, directory, ledger.NewReconciler(nil), ledger.NewNumberResolver(nil), cache, nil)
	return fixture{store: store, directory: directory, engine: engine, service: service}
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func (f fixture) post(t *testing.T, date time.Time, number string, lines ...journals.PostingLine) journals.Journal {
	t.Helper()
	j, err := f.engine.Post(context.Background(), journals.PostingInput{
		OrgID:         org,
		Date:          date,
		VoucherType:   "journal",
		VoucherNumber: number,
		Lines:         lines,
	})
	require.NoError(t, err)
	return j
}

var day = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBalanceStartsFromOpeningBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	savings, err := f.directory.CreateLedger(ctx, accounts.LedgerInput{OrgID: org, GroupPath: "Assets:Bank", Name: "Savings", OpeningBalance: dec("100")})
	require.NoError(t, err)

	f.post(t, day, "", journals.Debit(savings.Path, dec("50"), nil), journals.Credit("Revenue:Sales", dec("50"), nil))
	f.post(t, day, "", journals.Debit("Expenses:Rent", dec("30"), nil), journals.Credit(savings.Path, dec("30"), nil))
	// synthetic opening lines are already represented by OpeningBalance
	f.post(t, day, "", journals.Debit(savings.Path, dec("100"), map[string]any{"openingFor": savings.ID}),
		journals.Credit("Equity:Opening Balance Equity", dec("100"), nil))

	byID, err := f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, LedgerID: savings.ID})
	require.NoError(t, err)
	require.True(t, byID.Balance.Equal(dec("120")), byID.Balance.String())
	require.True(t, byID.OpeningBalance.Equal(dec("100")))
	require.Equal(t, accounts.AccountTypeAsset, byID.Type)
	require.Equal(t, "Assets:Bank:Savings", byID.ComputedPath)

	byPath, err := f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, AccountPath: "Assets:Bank:Savings"})
	require.NoError(t, err)
	require.True(t, byPath.Balance.Equal(byID.Balance))
}

func TestBalanceSignFollowsAccountType(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, day, "", journals.Debit("Assets:Cash", dec("75"), nil), journals.Credit("Revenue:Sales", dec("75"), nil))

	sales, err := f.service.Balance(context.Background(), ledger.BalanceQuery{OrgID: org, AccountPath: "Revenue:Sales"})
	require.NoError(t, err)
	require.Equal(t, accounts.AccountTypeRevenue, sales.Type)
	require.True(t, sales.Balance.Equal(dec("75")))
	require.Zero(t, sales.LedgerID)
}

func TestBalanceReconcilesPartyIDLeaf(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	acme, err := f.directory.EnsurePartyLedger(ctx, org, accounts.PartyCustomer, "C-1", "Acme")
	require.NoError(t, err)

	f.post(t, day, "", journals.Debit("Accounts Receivable:C-1", dec("75"), nil), journals.Credit("Revenue:Sales", dec("75"), nil))

	bal, err := f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, LedgerID: acme.ID})
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(dec("75")))
	require.Equal(t, []string{"Accounts Receivable:C-1"}, bal.MatchedPaths)

	f.post(t, day, "", journals.Debit(acme.Path, dec("5"), nil), journals.Credit("Revenue:Sales", dec("5"), nil))
	bal, err = f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, LedgerID: acme.ID})
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(dec("5")), "canonical postings win over legacy forms")
}

func TestBalanceRespectsAsOfAndDrafts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.post(t, day, "", journals.Debit("Assets:Cash", dec("10"), nil), journals.Credit("Revenue:Sales", dec("10"), nil))
	f.post(t, day.AddDate(0, 0, 5), "", journals.Debit("Assets:Cash", dec("20"), nil), journals.Credit("Revenue:Sales", dec("20"), nil))
	_, err := f.engine.Post(ctx, journals.PostingInput{OrgID: org, Date: day, Status: journals.StatusDraft,
		Lines: []journals.PostingLine{journals.Debit("Assets:Cash", dec("999"), nil), journals.Credit("Revenue:Sales", dec("999"), nil)}})
	require.NoError(t, err)

	asOf := day.AddDate(0, 0, 1)
	early, err := f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, AccountPath: "Assets:Cash", AsOf: &asOf})
	require.NoError(t, err)
	require.True(t, early.Balance.Equal(dec("10")))

	all, err := f.service.Balance(ctx, ledger.BalanceQuery{OrgID: org, AccountPath: "Assets:Cash"})
	require.NoError(t, err)
	require.True(t, all.Balance.Equal(dec("30")))
}

func TestBalanceValidatesQuery(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.service.Balance(context.Background(), ledger.BalanceQuery{OrgID: org})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.service.Balance(context.Background(), ledger.BalanceQuery{OrgID: org, LedgerID: 404})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGeneralLedgerRunningBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.post(t, day, "JV-1", journals.Debit("Assets:Cash", dec("100"), nil), journals.Credit("Revenue:Sales", dec("100"), nil))
	f.post(t, day.AddDate(0, 0, 1), "JV-2", journals.Debit("Expenses:Rent", dec("40"), nil), journals.Credit("Assets:Cash", dec("40"), nil))
	f.post(t, day.AddDate(0, 0, 2), "JV-3", journals.Debit("Assets:Cash", dec("5"), nil), journals.Credit("Revenue:Sales", dec("5"), nil))

	rows, err := f.service.GeneralLedger(ctx, ledger.GLFilter{OrgID: org, Account: "Assets:Cash"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.True(t, rows[0].RunningBalance.Equal(dec("100")))
	require.True(t, rows[1].RunningBalance.Equal(dec("60")))
	require.True(t, rows[2].RunningBalance.Equal(dec("65")))
	require.Equal(t, ledger.LabelJournal, rows[0].VoucherType)

	from := day.AddDate(0, 0, 1)
	rows, err = f.service.GeneralLedger(ctx, ledger.GLFilter{OrgID: org, Account: "Assets:Cash", From: &from})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[0].RunningBalance.Equal(dec("60")))

	all, err := f.service.GeneralLedger(ctx, ledger.GLFilter{OrgID: org, Limit: 4})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Nil(t, all[0].RunningBalance)

	to := day
	_, err = f.service.GeneralLedger(ctx, ledger.GLFilter{OrgID: org, From: &from, To: &to})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDayBookGroupsAndPages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.post(t, day, "SV-00001", journals.Debit("Assets:Cash", dec("10"), nil), journals.Credit("Revenue:Sales", dec("10"), nil))
	f.post(t, day.Add(2*time.Hour), "JV-00001", journals.Debit("Expenses:Rent", dec("3"), nil), journals.Credit("Assets:Cash", dec("3"), nil))
	f.post(t, day.AddDate(0, 0, 1), "SV-00002", journals.Debit("Assets:Cash", dec("7"), nil), journals.Credit("Revenue:Sales", dec("7"), nil))

	page, err := f.service.DayBook(ctx, ledger.DayBookFilter{OrgID: org})
	require.NoError(t, err)
	require.Len(t, page.Groups, 2)
	require.Equal(t, "2026-03-01", page.Groups[0].Date)
	require.Len(t, page.Groups[0].Entries, 2)
	require.True(t, page.Groups[0].Debit.Equal(dec("13")))
	require.Equal(t, 3, page.Pagination.Total)

	sales, err := f.service.DayBook(ctx, ledger.DayBookFilter{OrgID: org, VoucherType: "sales"})
	require.NoError(t, err)
	require.Equal(t, 2, sales.Pagination.Total)

	second, err := f.service.DayBook(ctx, ledger.DayBookFilter{OrgID: org, Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, second.Groups, 1)
	require.Equal(t, "SV-00002", second.Groups[0].Entries[0].VoucherNumber)
	require.Equal(t, 2, second.Pagination.TotalPages)

	beyond, err := f.service.DayBook(ctx, ledger.DayBookFilter{OrgID: org, Page: 9})
	require.NoError(t, err)
	require.Empty(t, beyond.Groups)
}

func TestTrialBalanceIsBalanced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.directory.SeedDefaults(ctx, org)
	require.NoError(t, err)
	f.post(t, day, "", journals.Debit("Assets:Cash", dec("100"), nil), journals.Credit("Revenue:Sales", dec("100"), nil))
	f.post(t, day, "", journals.Debit("Expenses:General", dec("25.50"), nil), journals.Credit("Assets:Cash", dec("25.50"), nil))

	tb, err := f.service.TrialBalance(ctx, org, nil, true)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
	require.True(t, tb.TotalDebit.Equal(dec("125.50")))
	require.True(t, tb.TotalDebit.Equal(tb.TotalCredit))

	_, err = f.service.TrialBalance(ctx, 0, nil, true)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLedgerBalancesSkipInventory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.directory.EnsureItemLedger(ctx, org, "Widget")
	require.NoError(t, err)
	_, err = f.directory.EnsureAccountPath(ctx, org, "Assets:Cash")
	require.NoError(t, err)

	balances, err := f.service.LedgerBalances(ctx, org, nil)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, "Assets:Cash", balances[0].Ledger.Path)
}

func TestCachedBalanceRefreshesAfterInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, ledger.NewCache(client, time.Minute))
	ctx := context.Background()
	query := ledger.BalanceQuery{OrgID: org, AccountPath: "Assets:Cash"}

	f.post(t, day, "", journals.Debit("Assets:Cash", dec("10"), nil), journals.Credit("Revenue:Sales", dec("10"), nil))
	first, err := f.service.Balance(ctx, query)
	require.NoError(t, err)
	require.True(t, first.Balance.Equal(dec("10")))

	f.post(t, day, "", journals.Debit("Assets:Cash", dec("5"), nil), journals.Credit("Revenue:Sales", dec("5"), nil))
	stale, err := f.service.Balance(ctx, query)
	require.NoError(t, err)
	require.True(t, stale.Balance.Equal(dec("10")))

	fresh := query
	fresh.Fresh = true
	bypass, err := f.service.Balance(ctx, fresh)
	require.NoError(t, err)
	require.True(t, bypass.Balance.Equal(dec("15")))

	require.NoError(t, f.service.Invalidate(ctx, org))
	current, err := f.service.Balance(ctx, query)
	require.NoError(t, err)
	require.True(t, current.Balance.Equal(dec("15")))
}

func TestEngineNotifiesLedgerCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, ledger.NewCache(client, time.Minute))
	f.engine.WithNotifier(f.service)
	ctx := context.Background()

	first, err := f.service.TrialBalance(ctx, org, nil, false)
	require.NoError(t, err)
	require.True(t, first.TotalDebit.IsZero())

	f.post(t, day, "", journals.Debit("Assets:Cash", dec("8"), nil), journals.Credit("Revenue:Sales", dec("8"), nil))
	second, err := f.service.TrialBalance(ctx, org, nil, false)
	require.NoError(t, err)
	require.True(t, second.TotalDebit.Equal(dec("8")))
}
