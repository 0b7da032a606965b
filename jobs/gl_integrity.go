package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/odyssey-books/internal/jobs"
)

// Integrity checks reported to metrics.
const (
	CheckUnbalancedJournal = "unbalanced_journal"
	CheckTrialBalance      = "trial_balance"
)

// IntegritySource lists organizations and the posted journals whose lines do
// not balance.
type IntegritySource interface {
	Organizations(ctx context.Context) ([]int64, error)
	UnbalancedJournals(ctx context.Context, orgID int64) ([]UnbalancedJournal, error)
}

// TrialBalancer computes an uncached trial balance.
type TrialBalancer interface {
	TrialBalance(ctx context.Context, orgID int64, asOf *time.Time, fresh bool) (reports.TrialBalance, error)
}

// UnbalancedJournal is one journal failing the balance invariant.
type UnbalancedJournal struct {
	JournalID     int64
	VoucherNumber string
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// IntegrityReport summarises the findings for one organization.
type IntegrityReport struct {
	OrgID      int64
	Unbalanced []UnbalancedJournal
	TBDebit    decimal.Decimal
	TBCredit   decimal.Decimal
	TBBalanced bool
}

// Issues counts the problems found.
func (r IntegrityReport) Issues() int {
	n := len(r.Unbalanced)
	if !r.TBBalanced {
		n++
	}
	return n
}

// GLIntegrityJob verifies the books of every organization concurrently.
type GLIntegrityJob struct {
	Source      IntegritySource
	Ledger      TrialBalancer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewGLIntegrityJob initialises the integrity check handler.
func NewGLIntegrityJob(source IntegritySource, ledger TrialBalancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Source: source, Ledger: ledger, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle executes TaskGLIntegrity.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl integrity: handler not configured")
	}
	payload, err := decodeOrgPayload(t)
	if err != nil {
		return asynq.SkipRetry
	}
	_, err = j.Run(ctx, payload.OrgIDs...)
	return err
}

// Run checks the given organizations, or every organization when none is
// given, and returns one report per organization ordered as checked.
func (j *GLIntegrityJob) Run(ctx context.Context, orgIDs ...int64) (_ []IntegrityReport, resultErr error) {
	if j.Source == nil || j.Ledger == nil {
		return nil, errors.New("gl integrity: source and ledger required")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger()

	if len(orgIDs) == 0 {
		all, err := j.Source.Organizations(ctx)
		if err != nil {
			return nil, fmt.Errorf("gl integrity: list organizations: %w", err)
		}
		orgIDs = all
	}

	out := make([]IntegrityReport, len(orgIDs))
	var mu sync.Mutex
	issues := 0
	g, gctx := errgroup.WithContext(ctx)
	limit := j.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, orgID := range orgIDs {
		g.Go(func() error {
			report, err := j.check(gctx, orgID)
			if err != nil {
				return fmt.Errorf("gl integrity: org %d: %w", orgID, err)
			}
			out[i] = report
			mu.Lock()
			issues += report.Issues()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("gl integrity check failed", slog.Any("error", err))
		return nil, err
	}
	logger.Info("gl integrity check completed", slog.Int("organizations", len(orgIDs)), slog.Int("issues", issues))
	return out, nil
}

func (j *GLIntegrityJob) check(ctx context.Context, orgID int64) (IntegrityReport, error) {
	report := IntegrityReport{OrgID: orgID}
	unbalanced, err := j.Source.UnbalancedJournals(ctx, orgID)
	if err != nil {
		return report, err
	}
	report.Unbalanced = unbalanced
	tb, err := j.Ledger.TrialBalance(ctx, orgID, nil, true)
	if err != nil {
		return report, err
	}
	report.TBDebit, report.TBCredit, report.TBBalanced = tb.TotalDebit, tb.TotalCredit, tb.Balanced

	logger := j.logger().With(slog.Int64("org_id", orgID))
	for _, u := range unbalanced {
		logger.Warn("unbalanced journal",
			slog.Int64("journal_id", u.JournalID),
			slog.String("voucher_number", u.VoucherNumber),
			slog.String("debit", u.Debit.StringFixed(2)),
			slog.String("credit", u.Credit.StringFixed(2)))
	}
	if !tb.Balanced {
		logger.Warn("trial balance does not balance",
			slog.String("debit", tb.TotalDebit.StringFixed(2)),
			slog.String("credit", tb.TotalCredit.StringFixed(2)))
	}
	j.Metrics.AddIssues(CheckUnbalancedJournal, orgID, len(unbalanced))
	if !tb.Balanced {
		j.Metrics.AddIssues(CheckTrialBalance, orgID, 1)
	}
	return report, nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger.With(slog.String("job", "gl_integrity"))
}

// PGIntegritySource reads integrity data straight from Postgres.
type PGIntegritySource struct {
	Pool *pgxpool.Pool
}

// Organizations lists every organization with journals or ledgers.
func (s PGIntegritySource) Organizations(ctx context.Context) ([]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT org_id FROM journals UNION SELECT org_id FROM ledgers ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnbalancedJournals returns posted journals whose lines do not balance.
func (s PGIntegritySource) UnbalancedJournals(ctx context.Context, orgID int64) ([]UnbalancedJournal, error) {
	rows, err := s.Pool.Query(ctx, `SELECT j.id, j.voucher_number,
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'debit'), 0),
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'credit'), 0)
FROM journals j
LEFT JOIN journal_transactions t ON t.journal_id = j.id
WHERE j.org_id = $1 AND j.status = 'POSTED'
GROUP BY j.id, j.voucher_number
HAVING COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'debit'), 0) <> COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'credit'), 0)
    OR COUNT(t.id) = 0
ORDER BY j.id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedJournal
	for rows.Next() {
		var u UnbalancedJournal
		if err := rows.Scan(&u.JournalID, &u.VoucherNumber, &u.Debit, &u.Credit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
