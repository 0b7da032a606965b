package accounts_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

const org = int64(7)

type openingStub struct {
	posted []accounts.Ledger
	err    error
}

func (o *openingStub) PostOpening(_ context.Context, ledger accounts.Ledger, _ int64) error {
	if o.err != nil {
		return o.err
	}
	o.posted = append(o.posted, ledger)
	return nil
}

func newDirectory(t *testing.T) (*accounts.Directory, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	dir, err := accounts.NewDirectory(store, nil)
	require.NoError(t, err)
	dir.WithAudit(store.Audit)
	return dir, store
}

func TestSeedDefaultsIsRepeatable(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	n, err := dir.SeedDefaults(ctx, org)
	require.NoError(t, err)
	require.Equal(t, len(dir.Catalog().Accounts), n)
	first, err := dir.ListLedgers(ctx, org)
	require.NoError(t, err)

	_, err = dir.SeedDefaults(ctx, org)
	require.NoError(t, err)
	second, err := dir.ListLedgers(ctx, org)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = dir.SeedDefaults(ctx, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestEnsureChartOfAccountIsIdempotent(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	ledger, err := dir.EnsureAccountPath(ctx, org, "Liabilities:Tax Payable")
	require.NoError(t, err)
	require.Equal(t, "Liabilities:Tax Payable", ledger.Path)

	a, err := dir.EnsureChartOfAccount(ctx, ledger)
	require.NoError(t, err)
	b, err := dir.EnsureChartOfAccount(ctx, ledger)
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, accounts.AccountTypeLiability, a.Type)

	charts, err := dir.ListChartOfAccounts(ctx, org)
	require.NoError(t, err)
	require.Len(t, charts, 1)
}

func TestPartyLedgersLiveUnderControlGroups(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	customer, err := dir.EnsurePartyLedger(ctx, org, accounts.PartyCustomer, "C-1", "Acme")
	require.NoError(t, err)
	require.Equal(t, "Assets:Accounts Receivable:Acme", customer.Path)
	require.Equal(t, accounts.CategoryCustomer, customer.Category)

	again, err := dir.EnsurePartyLedger(ctx, org, accounts.PartyCustomer, "C-1", "Acme Renamed")
	require.NoError(t, err)
	require.Equal(t, customer.ID, again.ID)

	supplier, err := dir.EnsurePartyLedger(ctx, org, accounts.PartySupplier, "", "Globex")
	require.NoError(t, err)
	require.Equal(t, "Liabilities:Accounts Payable:Globex", supplier.Path)

	_, err = dir.EnsurePartyLedger(ctx, org, accounts.PartySupplier, "S-9", "Acme")
	require.ErrorIs(t, err, shared.ErrAccountResolution)
}

func TestEnsureLedgerRejectsNameAtDifferentPath(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	_, err := dir.EnsureAccountPath(ctx, org, "Assets:Bank:Checking")
	require.NoError(t, err)
	_, err = dir.EnsureAccountPath(ctx, org, "Assets:Bank:Checking")
	require.NoError(t, err)
	_, err = dir.EnsureAccountPath(ctx, org, "Expenses:Checking")
	require.ErrorIs(t, err, shared.ErrAccountResolution)
}

func TestCreateLedgerPostsOpeningBalance(t *testing.T) {
	dir, store := newDirectory(t)
	poster := &openingStub{}
	dir.WithOpeningPoster(poster)
	ctx := context.Background()

	ledger, err := dir.CreateLedger(ctx, accounts.LedgerInput{
		OrgID:          org,
		GroupPath:      "Assets:Bank",
		Name:           "Savings",
		OpeningBalance: decimal.NewFromInt(500),
		ActorID:        3,
	})
	require.NoError(t, err)
	require.Equal(t, "Assets:Bank:Savings", ledger.Path)
	require.Len(t, poster.posted, 1)
	require.Equal(t, []string{"ledger.create"}, store.Audit.Actions())

	_, err = dir.CreateLedger(ctx, accounts.LedgerInput{OrgID: org, GroupPath: "Assets:Bank", Name: "savings"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateLedgerRollsBackWhenOpeningFails(t *testing.T) {
	dir, store := newDirectory(t)
	dir.WithOpeningPoster(&openingStub{err: errors.New("posting down")})
	ctx := context.Background()

	_, err := dir.CreateLedger(ctx, accounts.LedgerInput{
		OrgID:          org,
		GroupPath:      "Assets:Bank",
		Name:           "Savings",
		OpeningBalance: decimal.NewFromInt(500),
	})
	require.ErrorContains(t, err, "posting down")

	_, err = dir.FindLedgerByPath(ctx, org, "Assets:Bank:Savings")
	require.ErrorIs(t, err, shared.ErrNotFound)
	charts, err := dir.ListChartOfAccounts(ctx, org)
	require.NoError(t, err)
	require.Empty(t, charts)
	groups, err := store.ListGroups(ctx, org)
	require.NoError(t, err)
	require.Empty(t, groups)
	require.Empty(t, store.Audit.Actions())
}

func TestFailedCreateKeepsGroupsInUse(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()
	cash, err := dir.EnsureAccountPath(ctx, org, "Assets:Cash")
	require.NoError(t, err)

	dir.WithOpeningPoster(&openingStub{err: errors.New("posting down")})
	_, err = dir.CreateLedger(ctx, accounts.LedgerInput{
		OrgID:          org,
		GroupPath:      "Assets:Bank",
		Name:           "Savings",
		OpeningBalance: decimal.NewFromInt(500),
	})
	require.Error(t, err)

	groups, err := store.ListGroups(ctx, org)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, cash.GroupID, groups[0].ID)
	charts, err := dir.ListChartOfAccounts(ctx, org)
	require.NoError(t, err)
	require.Len(t, charts, 1)
	require.Equal(t, "Assets:Cash", charts[0].Path)
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, internalShared.AuditLog) error {
	return errors.New("audit table locked")
}

func TestCreateLedgerLogsAuditFailure(t *testing.T) {
	var logs bytes.Buffer
	dir, err := accounts.NewDirectory(memstore.New(), slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	dir.WithAudit(failingAudit{})

	ledger, err := dir.CreateLedger(context.Background(), accounts.LedgerInput{OrgID: org, GroupPath: "Expenses", Name: "Postage"})
	require.NoError(t, err)
	require.Equal(t, "Expenses:Postage", ledger.Path)
	require.Contains(t, logs.String(), "record ledger audit")
	require.Contains(t, logs.String(), "audit table locked")
}

func TestCreateLedgerValidatesInput(t *testing.T) {
	dir, _ := newDirectory(t)
	_, err := dir.CreateLedger(context.Background(), accounts.LedgerInput{OrgID: org, GroupPath: "Assets"})
	var ledgerErr *shared.Error
	require.ErrorAs(t, err, &ledgerErr)
	require.Equal(t, "name", ledgerErr.Field)
}

func TestMoveGroupRejectsCycles(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	child, err := dir.EnsureGroupPath(ctx, org, "Assets:Current:Bank")
	require.NoError(t, err)
	current, err := dir.EnsureGroupPath(ctx, org, "Assets:Current")
	require.NoError(t, err)

	_, err = dir.MoveGroup(ctx, org, current.ID, &child.ID)
	require.ErrorIs(t, err, accounts.ErrGroupCycle)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = dir.MoveGroup(ctx, org, current.ID, &current.ID)
	require.ErrorIs(t, err, accounts.ErrGroupCycle)
}

func TestRenameGroupRefreshesLedgerPaths(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	ledger, err := dir.EnsureAccountPath(ctx, org, "Assets:Current:Petty Cash")
	require.NoError(t, err)

	_, err = dir.RenameGroup(ctx, org, ledger.GroupID, "Current Assets")
	require.NoError(t, err)

	moved, err := dir.GetLedger(ctx, org, ledger.ID)
	require.NoError(t, err)
	require.Equal(t, "Assets:Current Assets:Petty Cash", moved.Path)

	found, err := dir.FindLedgerByPath(ctx, org, "Assets:Current Assets:Petty Cash")
	require.NoError(t, err)
	require.Equal(t, ledger.ID, found.ID)

	require.Equal(t, []string{"Assets:Current:Petty Cash"}, moved.PreviousPaths)
	old, err := dir.FindLedgerByPath(ctx, org, "Assets:Current:Petty Cash")
	require.NoError(t, err)
	require.Equal(t, ledger.ID, old.ID)

	charts, err := dir.ListChartOfAccounts(ctx, org)
	require.NoError(t, err)
	active := map[string]bool{}
	for _, c := range charts {
		active[c.Path] = c.IsActive
	}
	require.Equal(t, map[string]bool{"Assets:Current:Petty Cash": false, "Assets:Current Assets:Petty Cash": true}, active)
}

func TestMoveGroupBackReactivatesChart(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()

	ledger, err := dir.EnsureAccountPath(ctx, org, "Assets:Current:Deposits")
	require.NoError(t, err)
	current, err := store.GetGroup(ctx, org, ledger.GroupID)
	require.NoError(t, err)
	other, err := dir.EnsureGroupPath(ctx, org, "Assets:Long Term")
	require.NoError(t, err)

	_, err = dir.MoveGroup(ctx, org, current.ID, &other.ID)
	require.NoError(t, err)
	moved, err := dir.GetLedger(ctx, org, ledger.ID)
	require.NoError(t, err)
	require.Equal(t, "Assets:Long Term:Current:Deposits", moved.Path)

	_, err = dir.MoveGroup(ctx, org, current.ID, current.ParentID)
	require.NoError(t, err)
	back, err := dir.GetLedger(ctx, org, ledger.ID)
	require.NoError(t, err)
	require.Equal(t, "Assets:Current:Deposits", back.Path)
	require.Equal(t, []string{"Assets:Current:Deposits", "Assets:Long Term:Current:Deposits"}, back.PreviousPaths)

	charts, err := dir.ListChartOfAccounts(ctx, org)
	require.NoError(t, err)
	require.Len(t, charts, 2)
	for _, c := range charts {
		require.Equal(t, c.Path == "Assets:Current:Deposits", c.IsActive, c.Path)
	}
}

func TestDeleteGroupRequiresEmptyGroup(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	ledger, err := dir.EnsureAccountPath(ctx, org, "Expenses:Travel")
	require.NoError(t, err)
	err = dir.DeleteGroup(ctx, org, ledger.GroupID)
	require.ErrorIs(t, err, accounts.ErrGroupInUse)

	empty, err := dir.CreateGroup(ctx, accounts.GroupInput{OrgID: org, Name: "Scratch"})
	require.NoError(t, err)
	require.NoError(t, dir.DeleteGroup(ctx, org, empty.ID))
	require.ErrorIs(t, dir.DeleteGroup(ctx, org, empty.ID), shared.ErrNotFound)
}

func TestItemLedgersUseInventoryPath(t *testing.T) {
	dir, _ := newDirectory(t)
	ledger, err := dir.EnsureItemLedger(context.Background(), org, "Widget")
	require.NoError(t, err)
	require.Equal(t, "Assets:Inventory:Widget", ledger.Path)
	require.Equal(t, accounts.CategoryInventory, ledger.Category)
}

func TestOrganizationsAreIsolated(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	_, err := dir.EnsureAccountPath(ctx, org, "Assets:Cash")
	require.NoError(t, err)
	_, err = dir.FindLedgerByPath(ctx, org+1, "Assets:Cash")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
