package journals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-books/internal/platform/db"
)

// Repository encapsulates DB operations for journals.
type Repository interface {
	GetJournal(ctx context.Context, orgID, id int64) (Journal, error)
	NumberInUse(ctx context.Context, orgID int64, voucherType, number string) (bool, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	// InsertJournal returns shared.ErrVoucherNumberConflict when the number is
	// already used for the voucher type.
	InsertJournal(ctx context.Context, in PostingInput) (Journal, error)
	InsertTransactions(ctx context.Context, journal Journal, lines []PostingLine) ([]Transaction, error)
	// LinkSource returns shared.ErrSourceConflict when the source is linked.
	LinkSource(ctx context.Context, orgID int64, module string, ref uuid.UUID, journalID int64) error
	GetJournalForUpdate(ctx context.Context, orgID, id int64) (Journal, error)
	UpdateStatus(ctx context.Context, orgID, id int64, status Status, approvedBy *int64, approvedAt *time.Time) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres journal repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const journalColumns = `id, org_id, date, memo, voucher_type, voucher_number, status, source_module, source_id,
COALESCE(posted_by, 0), meta, created_at, approved_at, approved_by`

func scanJournal(row pgx.Row) (Journal, error) {
	var j Journal
	err := row.Scan(&j.ID, &j.OrgID, &j.Date, &j.Memo, &j.VoucherType, &j.VoucherNumber, &j.Status, &j.SourceModule, &j.SourceID,
		&j.PostedBy, &j.Meta, &j.CreatedAt, &j.ApprovedAt, &j.ApprovedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, shared.ErrNotFound
		}
		return Journal{}, err
	}
	return j, nil
}

func loadJournal(ctx context.Context, q querier, orgID, id int64, lock bool) (Journal, error) {
	sql := `SELECT ` + journalColumns + ` FROM journals WHERE org_id=$1 AND id=$2`
	if lock {
		sql += ` FOR UPDATE`
	}
	j, err := scanJournal(q.QueryRow(ctx, sql, orgID, id))
	if err != nil {
		return Journal{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, journal_id, org_id, account_path, role, amount, meta, created_at
FROM journal_transactions WHERE journal_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Journal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.JournalID, &t.OrgID, &t.AccountPath, &t.Role, &t.Amount, &t.Meta, &t.CreatedAt); err != nil {
			return Journal{}, err
		}
		j.Lines = append(j.Lines, t)
	}
	return j, rows.Err()
}

func (r *repository) GetJournal(ctx context.Context, orgID, id int64) (Journal, error) {
	return loadJournal(ctx, r.db, orgID, id, false)
}

func (r *repository) NumberInUse(ctx context.Context, orgID int64, voucherType, number string) (bool, error) {
	var used bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journals WHERE org_id=$1 AND voucher_type=$2 AND voucher_number=$3)`,
		orgID, voucherType, number).Scan(&used)
	return used, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertJournal(ctx context.Context, in PostingInput) (Journal, error) {
	j := Journal{
		OrgID:         in.OrgID,
		Date:          in.Date,
		Memo:          in.Memo,
		VoucherType:   in.VoucherType,
		VoucherNumber: in.VoucherNumber,
		Status:        in.Status,
		SourceModule:  in.SourceModule,
		SourceID:      in.SourceID,
		PostedBy:      in.PostedBy,
		Meta:          in.Meta,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO journals (org_id, date, memo, voucher_type, voucher_number, status, source_module, source_id, posted_by, meta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		in.OrgID, in.Date, in.Memo, in.VoucherType, in.VoucherNumber, in.Status, in.SourceModule, in.SourceID, nullInt(in.PostedBy), in.Meta).
		Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_journals_voucher" {
			return Journal{}, shared.ErrVoucherNumberConflict
		}
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) InsertTransactions(ctx context.Context, journal Journal, lines []PostingLine) ([]Transaction, error) {
	out := make([]Transaction, 0, len(lines))
	for _, line := range lines {
		t := Transaction{
			JournalID:   journal.ID,
			OrgID:       journal.OrgID,
			AccountPath: line.AccountPath,
			Role:        line.Role,
			Amount:      line.Amount,
			Meta:        line.Meta,
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_transactions (journal_id, org_id, account_path, role, amount, meta)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`, journal.ID, journal.OrgID, line.AccountPath, line.Role, line.Amount, line.Meta).
			Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *txRepository) LinkSource(ctx context.Context, orgID int64, module string, ref uuid.UUID, journalID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (org_id, module, ref_id, journal_id) VALUES ($1,$2,$3,$4)`, orgID, module, ref, journalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return shared.ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, orgID, id int64) (Journal, error) {
	return loadJournal(ctx, r.tx, orgID, id, true)
}

func (r *txRepository) UpdateStatus(ctx context.Context, orgID, id int64, status Status, approvedBy *int64, approvedAt *time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journals SET status=$3, approved_by=COALESCE($4, approved_by), approved_at=COALESCE($5, approved_at)
WHERE org_id=$1 AND id=$2`, orgID, id, status, approvedBy, approvedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
