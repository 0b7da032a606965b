package accounting_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/vouchers"
)

func TestNewRequiresCoreStores(t *testing.T) {
	_, err := accounting.New(accounting.Stores{}, accounting.Options{})
	require.Error(t, err)
}

func TestBooksPostAndReport(t *testing.T) {
	ctx := context.Background()
	books, err := accounting.New(accounting.MemoryStores(memstore.New()), accounting.Options{})
	require.NoError(t, err)

	res, err := books.Vouchers.Post(ctx, vouchers.PostRequest{
		Type:    vouchers.TypeOwnerInvestment,
		OrgID:   1,
		ActorID: 1,
		Payload: json.RawMessage(`{"amount":"500","method":"bank"}`),
	})
	require.NoError(t, err)
	require.Equal(t, "OIN-00001", res.VoucherNumber)

	bal, err := books.Ledger.Balance(ctx, ledger.BalanceQuery{OrgID: 1, AccountPath: "Assets:Bank"})
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(decimal.RequireFromString("500")), bal.Balance.String())

	tb, err := books.Ledger.TrialBalance(ctx, 1, nil, true)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
}

func TestDirectoryPostsOpeningThroughVouchers(t *testing.T) {
	ctx := context.Background()
	books, err := accounting.New(accounting.MemoryStores(memstore.New()), accounting.Options{})
	require.NoError(t, err)

	opening := decimal.RequireFromString("75")
	created, err := books.Directory.CreateLedger(ctx, accounts.LedgerInput{
		OrgID:          1,
		ActorID:        1,
		Name:           "Petty Cash",
		GroupPath:      "Assets:Bank",
		OpeningBalance: opening,
	})
	require.NoError(t, err)

	bal, err := books.Ledger.Balance(ctx, ledger.BalanceQuery{OrgID: 1, LedgerID: created.ID})
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(opening), bal.Balance.String())
}

func TestRenamedGroupKeepsLedgerHistory(t *testing.T) {
	ctx := context.Background()
	books, err := accounting.New(accounting.MemoryStores(memstore.New()), accounting.Options{})
	require.NoError(t, err)
	_, err = books.Directory.SeedDefaults(ctx, 1)
	require.NoError(t, err)

	_, err = books.Vouchers.Post(ctx, vouchers.PostRequest{
		Type:    vouchers.TypeOwnerInvestment,
		OrgID:   1,
		ActorID: 1,
		Payload: json.RawMessage(`{"amount":"500","method":"bank"}`),
	})
	require.NoError(t, err)

	bank, err := books.Directory.FindLedgerByPath(ctx, 1, "Assets:Bank")
	require.NoError(t, err)
	assets, err := books.Directory.EnsureGroupPath(ctx, 1, "Assets")
	require.NoError(t, err)
	_, err = books.Directory.RenameGroup(ctx, 1, assets.ID, "Current Assets")
	require.NoError(t, err)

	want := decimal.RequireFromString("500")
	byID, err := books.Ledger.Balance(ctx, ledger.BalanceQuery{OrgID: 1, LedgerID: bank.ID, Fresh: true})
	require.NoError(t, err)
	require.Equal(t, "Current Assets:Bank", byID.ComputedPath)
	require.True(t, byID.Balance.Equal(want), byID.Balance.String())
	require.Equal(t, []string{"Assets:Bank"}, byID.MatchedPaths)

	byPath, err := books.Ledger.Balance(ctx, ledger.BalanceQuery{OrgID: 1, AccountPath: "Current Assets:Bank", Fresh: true})
	require.NoError(t, err)
	require.True(t, byPath.Balance.Equal(want), byPath.Balance.String())

	rows, err := books.Ledger.GeneralLedger(ctx, ledger.GLFilter{OrgID: 1, Account: "Current Assets:Bank"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Debit.Equal(want))

	charts, err := books.Directory.ListChartOfAccounts(ctx, 1)
	require.NoError(t, err)
	active := 0
	for _, c := range charts {
		if c.Name == "Bank" && c.IsActive {
			active++
			require.Equal(t, "Current Assets:Bank", c.Path)
		}
	}
	require.Equal(t, 1, active)

	tb, err := books.Ledger.TrialBalance(ctx, 1, nil, true)
	require.NoError(t, err)
	require.True(t, tb.Balanced)
}
