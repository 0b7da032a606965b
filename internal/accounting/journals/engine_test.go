package journals_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

const org = int64(11)

var journalSpec = sequences.Spec{Type: "journal", Prefix: "JV-", Padding: 5}

type notifierStub struct{ calls int }

func (n *notifierStub) Invalidate(context.Context, int64) error {
	n.calls++
	return nil
}

type observerStub struct{ outcomes []string }

func (o *observerStub) ObservePosting(voucherType, status string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = shared.KindName(err)
	}
	o.outcomes = append(o.outcomes, voucherType+"/"+status+"/"+outcome)
}

// blindRepo never reports a number as used so collisions surface at commit.
type blindRepo struct{ *memstore.Store }

func (blindRepo) NumberInUse(context.Context, int64, string, string) (bool, error) {
	return false, nil
}

func newEngine(t *testing.T) (*journals.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	engine := journals.NewEngine(store, sequences.NewAllocator(store, nil), store.Audit)
	engine.WithApprovals(store.Approvals)
	engine.WithReversalSpec(journalSpec)
	return engine, store
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func cashSale(v string) []journals.PostingLine {
	return []journals.PostingLine{
		journals.Debit("Assets:Cash", amount(v), nil),
		journals.Credit("Revenue:Sales", amount(v), nil),
	}
}

func totals(t *testing.T, store *memstore.Store) map[string]decimal.Decimal {
	t.Helper()
	rows, err := store.TotalsByPath(context.Background(), org, nil)
	require.NoError(t, err)
	out := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		out[r.Path] = r.Debit.Sub(r.Credit)
	}
	return out
}

func TestPostAllocatesNumberAndCommits(t *testing.T) {
	engine, store := newEngine(t)
	spec := journalSpec

	journal, err := engine.Post(context.Background(), journals.PostingInput{
		OrgID:    org,
		Memo:     "cash sale",
		Sequence: &spec,
		Lines:    cashSale("150.00"),
		PostedBy: 4,
	})
	require.NoError(t, err)
	require.Equal(t, "JV-00001", journal.VoucherNumber)
	require.Equal(t, "journal", journal.VoucherType)
	require.Equal(t, journals.StatusPosted, journal.Status)
	require.Equal(t, "MANUAL", journal.SourceModule)
	require.NotEqual(t, uuid.Nil, journal.SourceID)
	require.Len(t, journal.Lines, 2)

	got := totals(t, store)
	require.True(t, got["Assets:Cash"].Equal(amount("150")))
	require.True(t, got["Revenue:Sales"].Equal(amount("-150")))
	require.Equal(t, []string{"journal.post"}, store.Audit.Actions())
}

func TestPostRejectsImbalanceWithoutSideEffects(t *testing.T) {
	engine, store := newEngine(t)
	spec := journalSpec

	_, err := engine.Post(context.Background(), journals.PostingInput{
		OrgID:    org,
		Sequence: &spec,
		Lines: []journals.PostingLine{
			journals.Debit("Assets:Cash", amount("100.00"), nil),
			journals.Credit("Revenue:Sales", amount("99.99"), nil),
		},
	})
	require.ErrorIs(t, err, shared.ErrImbalanced)

	var ledgerErr *shared.Error
	require.ErrorAs(t, err, &ledgerErr)
	require.NotNil(t, ledgerErr.Totals)
	require.True(t, ledgerErr.Totals.Debit.Equal(amount("100")))
	require.True(t, ledgerErr.Totals.Credit.Equal(amount("99.99")))
	require.Equal(t, org, ledgerErr.OrgID)

	require.Empty(t, totals(t, store))
	counter, err := store.Peek(context.Background(), org, "journal")
	require.NoError(t, err)
	require.Zero(t, counter)
	require.Empty(t, store.Audit.Actions())
}

func TestPostValidatesLines(t *testing.T) {
	engine, _ := newEngine(t)
	cases := map[string][]journals.PostingLine{
		"empty":     nil,
		"zero":      {journals.Debit("Assets:Cash", decimal.Zero, nil), journals.Credit("Revenue:Sales", decimal.Zero, nil)},
		"negative":  {journals.Debit("Assets:Cash", amount("-5"), nil), journals.Credit("Revenue:Sales", amount("-5"), nil)},
		"precision": {journals.Debit("Assets:Cash", amount("1.005"), nil), journals.Credit("Revenue:Sales", amount("1.005"), nil)},
		"no path":   {journals.Debit(" ", amount("5"), nil), journals.Credit("Revenue:Sales", amount("5"), nil)},
		"bad role":  {{AccountPath: "Assets:Cash", Role: "both", Amount: amount("5")}},
	}
	for name, lines := range cases {
		_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Lines: lines})
		require.ErrorIs(t, err, shared.ErrValidation, name)
	}
}

func TestRandomBalancedPostingsKeepBooksBalanced(t *testing.T) {
	engine, store := newEngine(t)
	rng := rand.New(rand.NewSource(42))
	accountsPool := []string{"Assets:Cash", "Assets:Bank", "Expenses:Rent", "Revenue:Sales", "Liabilities:Tax Payable"}

	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(4)
		lines := make([]journals.PostingLine, 0, 2*n)
		total := decimal.Zero
		for j := 0; j < n; j++ {
			cents := decimal.New(int64(1+rng.Intn(100000)), -2)
			total = total.Add(cents)
			lines = append(lines, journals.Debit(accountsPool[rng.Intn(len(accountsPool))], cents, nil))
		}
		// split the credit side unevenly across two accounts when possible
		first := total.Mul(decimal.NewFromFloat(0.3)).Round(2)
		if first.IsPositive() && first.LessThan(total) {
			lines = append(lines,
				journals.Credit(accountsPool[rng.Intn(len(accountsPool))], first, nil),
				journals.Credit(accountsPool[rng.Intn(len(accountsPool))], total.Sub(first), nil))
		} else {
			lines = append(lines, journals.Credit(accountsPool[rng.Intn(len(accountsPool))], total, nil))
		}
		_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Lines: lines})
		require.NoError(t, err)
	}

	rows, err := store.TotalsByPath(context.Background(), org, nil)
	require.NoError(t, err)
	var debit, credit decimal.Decimal
	for _, r := range rows {
		debit = debit.Add(r.Debit)
		credit = credit.Add(r.Credit)
	}
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
}

func TestPostRejectsDuplicateSource(t *testing.T) {
	engine, store := newEngine(t)
	source := uuid.New()
	in := journals.PostingInput{OrgID: org, SourceModule: "SALES", SourceID: source, VoucherType: "sales", VoucherNumber: "SV-1", Lines: cashSale("10")}

	_, err := engine.Post(context.Background(), in)
	require.NoError(t, err)

	in.VoucherNumber = "SV-2"
	_, err = engine.Post(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrSourceAlreadyLinked)

	used, err := store.NumberInUse(context.Background(), org, "sales", "SV-2")
	require.NoError(t, err)
	require.False(t, used)
	require.True(t, totals(t, store)["Assets:Cash"].Equal(amount("10")))
}

func TestExplicitNumberConflict(t *testing.T) {
	engine, _ := newEngine(t)
	in := journals.PostingInput{OrgID: org, VoucherType: "journal", VoucherNumber: "JV-7", Lines: cashSale("10")}
	_, err := engine.Post(context.Background(), in)
	require.NoError(t, err)

	_, err = engine.Post(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrVoucherNumberConflict)
}

func TestCommitConflictReallocates(t *testing.T) {
	store := memstore.New()
	engine := journals.NewEngine(blindRepo{store}, sequences.NewAllocator(store, nil), nil)
	spec := journalSpec

	_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, VoucherType: "journal", VoucherNumber: "JV-00001", Lines: cashSale("1")})
	require.NoError(t, err)

	journal, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Sequence: &spec, Lines: cashSale("2")})
	require.NoError(t, err)
	require.Equal(t, "JV-00002", journal.VoucherNumber)
}

func TestCommitConflictExhausts(t *testing.T) {
	store := memstore.New()
	engine := journals.NewEngine(blindRepo{store}, sequences.NewAllocator(store, nil).WithMaxAttempts(2), nil)
	spec := journalSpec
	for _, n := range []string{"JV-00001", "JV-00002", "JV-00003"} {
		_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, VoucherType: "journal", VoucherNumber: n, Lines: cashSale("1")})
		require.NoError(t, err)
	}

	_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Sequence: &spec, Lines: cashSale("2")})
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
}

// flakyUsageRepo answers NumberInUse truthfully only on every other call, so
// the allocator hands out taken numbers that then collide at commit.
type flakyUsageRepo struct {
	*memstore.Store
	calls int
}

func (r *flakyUsageRepo) NumberInUse(ctx context.Context, orgID int64, voucherType, number string) (bool, error) {
	r.calls++
	if r.calls%2 == 0 {
		return false, nil
	}
	return r.Store.NumberInUse(ctx, orgID, voucherType, number)
}

func TestCommitConflictsShareOneAllocationBudget(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	seeder := journals.NewEngine(store, nil, nil)
	for i := int64(1); i <= 10; i++ {
		_, err := seeder.Post(ctx, journals.PostingInput{OrgID: org, VoucherType: "journal", VoucherNumber: sequences.Format("JV-", i, 5), Lines: cashSale("1")})
		require.NoError(t, err)
	}

	const maxAttempts = 3
	engine := journals.NewEngine(&flakyUsageRepo{Store: store}, sequences.NewAllocator(store, nil).WithMaxAttempts(maxAttempts), nil)
	spec := journalSpec
	_, err := engine.Post(ctx, journals.PostingInput{OrgID: org, Sequence: &spec, Lines: cashSale("2")})
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)

	counter, err := store.Peek(ctx, org, "journal")
	require.NoError(t, err)
	require.LessOrEqual(t, counter, int64(maxAttempts))
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, internalShared.AuditLog) error {
	return errors.New("audit table locked")
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	store := memstore.New()
	engine := journals.NewEngine(store, sequences.NewAllocator(store, nil), failingAudit{})
	var logs bytes.Buffer
	engine.WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	spec := journalSpec

	journal, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Sequence: &spec, Lines: cashSale("5")})
	require.NoError(t, err)
	require.Equal(t, journals.StatusPosted, journal.Status)
	require.Contains(t, logs.String(), "record journal audit")
	require.Contains(t, logs.String(), "audit table locked")
}

func TestAllocatorSkipsNumbersTakenByJournals(t *testing.T) {
	engine, _ := newEngine(t)
	spec := journalSpec
	_, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, VoucherType: "journal", VoucherNumber: "JV-00001", Lines: cashSale("1")})
	require.NoError(t, err)

	journal, err := engine.Post(context.Background(), journals.PostingInput{OrgID: org, Sequence: &spec, Lines: cashSale("2")})
	require.NoError(t, err)
	require.Equal(t, "JV-00002", journal.VoucherNumber)
}

func TestDraftApproveLifecycle(t *testing.T) {
	engine, store := newEngine(t)
	notifier := &notifierStub{}
	observer := &observerStub{}
	engine.WithNotifier(notifier)
	engine.WithObserver(observer)
	ctx := context.Background()

	draft, err := engine.Post(ctx, journals.PostingInput{OrgID: org, VoucherType: "contra", Status: journals.StatusDraft, Lines: cashSale("40"), PostedBy: 2})
	require.NoError(t, err)
	require.Equal(t, journals.StatusDraft, draft.Status)
	require.Empty(t, totals(t, store))
	require.Zero(t, notifier.calls)

	approved, err := engine.Approve(ctx, journals.ApproveInput{OrgID: org, JournalID: draft.ID, ActorID: 3, Note: "ok"})
	require.NoError(t, err)
	require.Equal(t, journals.StatusPosted, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.Equal(t, int64(3), *approved.ApprovedBy)
	require.True(t, totals(t, store)["Assets:Cash"].Equal(amount("40")))
	require.Equal(t, 1, notifier.calls)

	_, err = engine.Approve(ctx, journals.ApproveInput{OrgID: org, JournalID: draft.ID, ActorID: 3})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	history, err := store.Approvals.List(ctx, "journal", draft.SourceID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, internalShared.ApprovalSubmit, history[0].Action)
	require.Equal(t, internalShared.ApprovalApprove, history[1].Action)
	require.Equal(t, []string{"contra/DRAFT/ok"}, observer.outcomes)
}

func TestDiscardOnlyAppliesToDrafts(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	draft, err := engine.Post(ctx, journals.PostingInput{OrgID: org, Status: journals.StatusDraft, Lines: cashSale("40")})
	require.NoError(t, err)
	voided, err := engine.Discard(ctx, journals.DiscardInput{OrgID: org, JournalID: draft.ID, ActorID: 2, Reason: "duplicate"})
	require.NoError(t, err)
	require.Equal(t, journals.StatusVoid, voided.Status)

	_, err = engine.Approve(ctx, journals.ApproveInput{OrgID: org, JournalID: draft.ID, ActorID: 2})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	posted, err := engine.Post(ctx, journals.PostingInput{OrgID: org, Lines: cashSale("5")})
	require.NoError(t, err)
	_, err = engine.Discard(ctx, journals.DiscardInput{OrgID: org, JournalID: posted.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	_, err = engine.Discard(ctx, journals.DiscardInput{OrgID: org, JournalID: 9999})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.True(t, totals(t, store)["Assets:Cash"].Equal(amount("5")))
}

func TestReverseFlipsRolesOnce(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	original, err := engine.Post(ctx, journals.PostingInput{
		OrgID:         org,
		VoucherType:   "sales",
		VoucherNumber: "SV-00001",
		Lines: []journals.PostingLine{
			journals.Debit("Assets:Cash", amount("80"), map[string]any{"openingFor": 5}),
			journals.Credit("Revenue:Sales", amount("80"), nil),
		},
	})
	require.NoError(t, err)

	reversal, err := engine.Reverse(ctx, journals.ReverseInput{OrgID: org, JournalID: original.ID, ActorID: 1, Date: &date})
	require.NoError(t, err)
	require.Equal(t, journals.SourceReversal, reversal.SourceModule)
	require.Equal(t, "JV-00001", reversal.VoucherNumber)
	require.Equal(t, "Reversal of SV-00001", reversal.Memo)
	require.True(t, reversal.Date.Equal(date))
	for _, line := range reversal.Lines {
		require.NotContains(t, line.Meta, "openingFor")
		if line.AccountPath == "Assets:Cash" {
			require.Equal(t, journals.RoleCredit, line.Role)
		}
	}
	for path, balance := range totals(t, store) {
		require.True(t, balance.IsZero(), path)
	}

	_, err = engine.Reverse(ctx, journals.ReverseInput{OrgID: org, JournalID: original.ID})
	require.ErrorIs(t, err, shared.ErrSourceAlreadyLinked)

	draft, err := engine.Post(ctx, journals.PostingInput{OrgID: org, Status: journals.StatusDraft, Lines: cashSale("1")})
	require.NoError(t, err)
	_, err = engine.Reverse(ctx, journals.ReverseInput{OrgID: org, JournalID: draft.ID})
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestJournalsFeedLedgerReads(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()
	_, err := engine.Post(ctx, journals.PostingInput{OrgID: org, Lines: cashSale("12.50")})
	require.NoError(t, err)

	list, err := store.ListJournals(ctx, ledger.JournalQuery{OrgID: org, Paths: []string{"Revenue:Sales"}})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = store.ListJournals(ctx, ledger.JournalQuery{OrgID: org + 1})
	require.NoError(t, err)
	require.Empty(t, list)
}
