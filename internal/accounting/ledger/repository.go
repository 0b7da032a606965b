package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
)

// Repository reads posted journals. DRAFT and VOID journals never leave it.
type Repository interface {
	SumByPaths(ctx context.Context, q SumQuery) ([]PathTotals, error)
	ListJournals(ctx context.Context, q JournalQuery) ([]journals.Journal, error)
	TotalsByPath(ctx context.Context, orgID int64, asOf *time.Time) ([]PathTotals, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres ledger reader.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) SumByPaths(ctx context.Context, q SumQuery) ([]PathTotals, error) {
	if len(q.Paths) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT t.account_path,
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'debit'), 0),
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'credit'), 0),
  COUNT(*)
FROM journal_transactions t
JOIN journals j ON j.id = t.journal_id
WHERE t.org_id = $1
  AND j.status = 'POSTED'
  AND t.account_path = ANY($2)
  AND ($3::timestamptz IS NULL OR j.date <= $3)
  AND ($4::bigint = 0 OR COALESCE(t.meta->>'openingFor', '') <> $4::bigint::text)
GROUP BY t.account_path
ORDER BY t.account_path`, q.OrgID, q.Paths, q.AsOf, q.ExcludeOpeningFor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PathTotals
	for rows.Next() {
		var pt PathTotals
		if err := rows.Scan(&pt.Path, &pt.Debit, &pt.Credit, &pt.Count); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (r *repository) TotalsByPath(ctx context.Context, orgID int64, asOf *time.Time) ([]PathTotals, error) {
	rows, err := r.db.Query(ctx, `SELECT t.account_path,
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'debit'), 0),
  COALESCE(SUM(t.amount) FILTER (WHERE t.role = 'credit'), 0),
  COUNT(*)
FROM journal_transactions t
JOIN journals j ON j.id = t.journal_id
WHERE t.org_id = $1 AND j.status = 'POSTED' AND ($2::timestamptz IS NULL OR j.date <= $2)
GROUP BY t.account_path
ORDER BY t.account_path`, orgID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PathTotals
	for rows.Next() {
		var pt PathTotals
		if err := rows.Scan(&pt.Path, &pt.Debit, &pt.Credit, &pt.Count); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (r *repository) ListJournals(ctx context.Context, q JournalQuery) ([]journals.Journal, error) {
	var (
		where = []string{"j.org_id = $1", "j.status = 'POSTED'"}
		args  = []any{q.OrgID}
	)
	if q.From != nil {
		args = append(args, *q.From)
		where = append(where, fmt.Sprintf("j.date >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		where = append(where, fmt.Sprintf("j.date <= $%d", len(args)))
	}
	if len(q.Paths) > 0 {
		args = append(args, q.Paths)
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM journal_transactions f WHERE f.journal_id = j.id AND f.account_path = ANY($%d))", len(args)))
	}
	rows, err := r.db.Query(ctx, `SELECT j.id, j.org_id, j.date, j.memo, j.voucher_type, j.voucher_number, j.status, j.source_module, j.source_id,
  COALESCE(j.posted_by, 0), j.meta, j.created_at, j.approved_at, j.approved_by,
  t.id, t.account_path, t.role, t.amount, t.meta, t.created_at
FROM journals j
JOIN journal_transactions t ON t.journal_id = j.id
WHERE `+strings.Join(where, " AND ")+`
ORDER BY j.date ASC, j.id ASC, t.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []journals.Journal
	for rows.Next() {
		var j journals.Journal
		var t journals.Transaction
		if err := rows.Scan(&j.ID, &j.OrgID, &j.Date, &j.Memo, &j.VoucherType, &j.VoucherNumber, &j.Status, &j.SourceModule, &j.SourceID,
			&j.PostedBy, &j.Meta, &j.CreatedAt, &j.ApprovedAt, &j.ApprovedBy,
			&t.ID, &t.AccountPath, &t.Role, &t.Amount, &t.Meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.JournalID = j.ID
		t.OrgID = j.OrgID
		if n := len(out); n > 0 && out[n-1].ID == j.ID {
			out[n-1].Lines = append(out[n-1].Lines, t)
			continue
		}
		j.Lines = []journals.Transaction{t}
		out = append(out, j)
	}
	return out, rows.Err()
}
