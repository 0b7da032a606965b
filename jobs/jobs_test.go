package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/reports"
)

type fakeSource struct {
	orgs       []int64
	unbalanced map[int64][]UnbalancedJournal
}

func (f fakeSource) Organizations(context.Context) ([]int64, error) { return f.orgs, nil }

func (f fakeSource) UnbalancedJournals(_ context.Context, orgID int64) ([]UnbalancedJournal, error) {
	return f.unbalanced[orgID], nil
}

type fakeLedger struct {
	balanced map[int64]bool
	err      error
}

func (f fakeLedger) TrialBalance(_ context.Context, orgID int64, _ *time.Time, fresh bool) (reports.TrialBalance, error) {
	if f.err != nil {
		return reports.TrialBalance{}, f.err
	}
	if !fresh {
		return reports.TrialBalance{}, errors.New("integrity checks must bypass the cache")
	}
	tb := reports.TrialBalance{TotalDebit: decimal.NewFromInt(100), TotalCredit: decimal.NewFromInt(100), Balanced: true}
	if !f.balanced[orgID] {
		tb.TotalCredit = decimal.NewFromInt(90)
		tb.Balanced = false
	}
	return tb, nil
}

func TestGLIntegrityReportsEveryOrganization(t *testing.T) {
	source := fakeSource{
		orgs: []int64{1, 2, 3},
		unbalanced: map[int64][]UnbalancedJournal{
			2: {{JournalID: 7, VoucherNumber: "JV-00007", Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(5)}},
		},
	}
	job := NewGLIntegrityJob(source, fakeLedger{balanced: map[int64]bool{1: true, 2: true}}, nil, nil)

	got, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(1), got[0].OrgID)
	require.Zero(t, got[0].Issues())
	require.Equal(t, 1, got[1].Issues())
	require.Equal(t, int64(7), got[1].Unbalanced[0].JournalID)
	require.False(t, got[2].TBBalanced)
	require.Equal(t, 1, got[2].Issues())
}

func TestGLIntegrityScopedToRequestedOrganizations(t *testing.T) {
	job := NewGLIntegrityJob(fakeSource{orgs: []int64{1, 2, 3}}, fakeLedger{balanced: map[int64]bool{2: true}}, nil, nil)
	got, err := job.Run(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].OrgID)
	require.True(t, got[0].TBBalanced)
}

func TestGLIntegrityPropagatesFailures(t *testing.T) {
	job := NewGLIntegrityJob(fakeSource{orgs: []int64{1}}, fakeLedger{err: errors.New("db down")}, nil, nil)
	_, err := job.Run(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestGLIntegrityHandleDecodesPayload(t *testing.T) {
	task, err := NewGLIntegrityTask(1)
	require.NoError(t, err)
	job := NewGLIntegrityJob(fakeSource{}, fakeLedger{balanced: map[int64]bool{1: true}}, nil, nil)
	require.NoError(t, job.Handle(context.Background(), task))
}

type fakeCharts struct {
	mu   sync.Mutex
	seen []int64
}

func (f *fakeCharts) SyncCharts(_ context.Context, orgID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, orgID)
	return 2, nil
}

func TestCOASyncVisitsAllOrganizations(t *testing.T) {
	charts := &fakeCharts{}
	job := NewCOASyncJob(fakeSource{orgs: []int64{4, 5}}, charts, nil, nil)
	total, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, []int64{4, 5}, charts.seen)
}

type fakeKeys struct{ olderThan time.Duration }

func (f *fakeKeys) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, nil
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	keys := &fakeKeys{}
	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	job := &IdempotencyCleanupJob{Keys: keys}
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, keys.olderThan)
}
