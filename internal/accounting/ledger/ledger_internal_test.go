package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
)

func TestInferVoucherType(t *testing.T) {
	cases := []struct {
		number string
		memo   string
		want   string
	}{
		{"SV-00012", "", LabelSales},
		{"SRV-00001", "", LabelSalesReturn},
		{"SR-00001", "", LabelSalesReturn},
		{"PRV-00003", "", LabelPurchaseReturn},
		{"PaV-00001", "", LabelPayment},
		{"RcV-00001", "", LabelReceipt},
		{"OB-00001", "", LabelOpening},
		{"", "Sales return for INV 4", LabelSalesReturn},
		{"", "Opening balance for Savings", LabelOpening},
		{"", "Office expense", LabelExpense},
		{"", "Contra transfer to bank", LabelContra},
		{"X-1", "misc adjustment", LabelJournal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, InferVoucherType(tc.number, tc.memo), tc.number+"|"+tc.memo)
	}
}

func TestMatchesVoucherType(t *testing.T) {
	require.True(t, matchesVoucherType(LabelSalesReturn, "sales_return"))
	require.True(t, matchesVoucherType(LabelSalesReturn, "Sales Return"))
	require.True(t, matchesVoucherType(LabelOpening, "opening"))
	require.True(t, matchesVoucherType(LabelSales, ""))
	require.False(t, matchesVoucherType(LabelSales, "purchase"))
}

func TestNumberResolverFallbacks(t *testing.T) {
	calls := 0
	resolver := NewNumberResolver(map[string]DocumentResolver{
		"salesVoucherId": DocumentResolverFunc(func(_ context.Context, _ int64, id string) (string, error) {
			calls++
			if id == "missing" {
				return "", errors.New("not found")
			}
			return "SV-" + id, nil
		}),
	})
	ctx := context.Background()

	require.Equal(t, "JV-1", resolver.Resolve(ctx, journals.Journal{VoucherNumber: "JV-1"}))
	require.Equal(t, "PV-9", resolver.Resolve(ctx, journals.Journal{
		Lines: []journals.Transaction{{Meta: map[string]any{"voucherNumber": "PV-9"}}},
	}))
	require.Zero(t, calls)

	require.Equal(t, "SV-42", resolver.Resolve(ctx, journals.Journal{Meta: map[string]any{"salesVoucherId": "42"}}))
	require.Equal(t, "", resolver.Resolve(ctx, journals.Journal{Meta: map[string]any{"salesVoucherId": "missing"}}))
	require.Equal(t, 2, calls)

	var none *NumberResolver
	require.Equal(t, "", none.Resolve(ctx, journals.Journal{}))
}

type partyLookupStub map[string]string

func (p partyLookupStub) FindPartyID(_ context.Context, _ int64, kind accounts.PartyKind, name string) (string, error) {
	id, ok := p[string(kind)+"/"+name]
	if !ok {
		return "", errors.New("unknown party")
	}
	return id, nil
}

func TestCandidatesCoverLegacyForms(t *testing.T) {
	r := NewReconciler(nil)
	got := r.Candidates(context.Background(), 1, "Assets:Accounts Receivable:Acme", &accounts.Ledger{PartyID: "C-1"})

	require.NotContains(t, got, "Assets:Accounts Receivable:Acme")
	require.Contains(t, got, "Accounts Receivable:Acme")
	require.Contains(t, got, "Accounts Receivable:C-1")
	require.Contains(t, got, "Assets:Accounts Receivable:C-1")
	require.Contains(t, got, "Assets:Accounts Receivable:acme")
	require.Contains(t, got, "Assets:Accounts Receivable:ACME")
	require.Contains(t, got, "Assets/Accounts Receivable/Acme")
}

func TestCandidatesLookUpPartyByName(t *testing.T) {
	r := NewReconciler(partyLookupStub{"supplier/Globex": "S-7"})
	got := r.Candidates(context.Background(), 1, "Liabilities:Accounts Payable:Globex", nil)
	require.Contains(t, got, "Accounts Payable:S-7")

	plain := r.Candidates(context.Background(), 1, "Expenses:Rent", nil)
	require.Contains(t, plain, "Expenses:rent")
	require.NotContains(t, plain, "Expenses:S-7")
}

func TestGroupByDayUsesLocation(t *testing.T) {
	entry := func(ts string, amount int64) DayBookEntry {
		d, err := time.Parse(time.RFC3339, ts)
		require.NoError(t, err)
		v := decimal.NewFromInt(amount)
		return DayBookEntry{Date: d, Debit: v, Credit: v}
	}
	entries := []DayBookEntry{
		entry("2026-03-01T10:00:00Z", 10),
		entry("2026-03-01T22:30:00Z", 20),
		entry("2026-03-02T09:00:00Z", 30),
	}

	utc := GroupByDay(entries, nil)
	require.Len(t, utc, 2)
	require.Equal(t, "2026-03-01", utc[0].Date)
	require.Len(t, utc[0].Entries, 2)
	require.True(t, utc[0].Debit.Equal(decimal.NewFromInt(30)))

	plus7 := GroupByDay(entries, time.FixedZone("UTC+7", 7*3600))
	require.Len(t, plus7, 2)
	require.Equal(t, "2026-03-01", plus7[0].Date)
	require.Len(t, plus7[0].Entries, 1)
	require.Equal(t, "2026-03-02", plus7[1].Date)
	require.True(t, plus7[1].Credit.Equal(decimal.NewFromInt(50)))
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheFetchJSONUsesStoredValue(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, 5, "balance", "id:1")
	require.NoError(t, err)
	require.Equal(t, "ledger:5:balance:id:1:v1", key)

	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return BalanceResult{Balance: decimal.NewFromInt(120)}, nil
	}
	var first, second BalanceResult
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 1, loads)
	require.True(t, second.Balance.Equal(decimal.NewFromInt(120)))
}

func TestCacheInvalidateBumpsVersion(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, 5, "trial-balance")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 5))
	after, err := cache.BuildKey(ctx, 5, "trial-balance")
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	other, err := cache.BuildKey(ctx, 6, "trial-balance")
	require.NoError(t, err)
	require.Equal(t, "ledger:6:trial-balance:v1", other)

	version, err := mr.Get(versionKey(5))
	require.NoError(t, err)
	require.Equal(t, "2", version)
}

func TestNilCacheIsDisabled(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	require.NoError(t, cache.Invalidate(ctx, 1))
	key, err := cache.BuildKey(ctx, 1, "balance")
	require.NoError(t, err)
	require.Equal(t, "ledger:1:balance", key)

	var out int
	require.NoError(t, cache.FetchJSON(ctx, key, &out, func(context.Context) (any, error) { return 3, nil }))
	require.Equal(t, 3, out)
}
