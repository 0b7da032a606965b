package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// ErrDuplicate indicates a unique constraint hit on insert.
var ErrDuplicate = errors.New("accounts: duplicate")

// Repository persists groups, ledgers and chart of account rows.
type Repository interface {
	GetGroup(ctx context.Context, orgID, id int64) (LedgerGroup, error)
	FindGroup(ctx context.Context, orgID int64, parentID *int64, name string) (LedgerGroup, error)
	InsertGroup(ctx context.Context, group LedgerGroup) (LedgerGroup, error)
	UpdateGroup(ctx context.Context, group LedgerGroup) error
	DeleteGroup(ctx context.Context, orgID, id int64) error
	CountGroupDependents(ctx context.Context, orgID, id int64) (int, error)
	ListGroups(ctx context.Context, orgID int64) ([]LedgerGroup, error)

	GetLedger(ctx context.Context, orgID, id int64) (Ledger, error)
	FindLedgerByName(ctx context.Context, orgID int64, name string) (Ledger, error)
	FindLedgerByPath(ctx context.Context, orgID int64, path string) (Ledger, error)
	FindLedgerByParty(ctx context.Context, orgID int64, category Category, partyID string) (Ledger, error)
	InsertLedger(ctx context.Context, ledger Ledger) (Ledger, error)
	// UpdateLedgerPath stores the new path and keeps the old one as an alias.
	UpdateLedgerPath(ctx context.Context, orgID, id int64, path string) error
	DeleteLedger(ctx context.Context, orgID, id int64) error
	ListLedgers(ctx context.Context, orgID int64) ([]Ledger, error)

	FindChartByCode(ctx context.Context, orgID int64, code string) (ChartOfAccount, error)
	FindChartsByName(ctx context.Context, orgID int64, name string) ([]ChartOfAccount, error)
	// InsertChart inserts unless the code already exists; inserted is false on
	// conflict.
	InsertChart(ctx context.Context, chart ChartOfAccount) (ChartOfAccount, bool, error)
	ListCharts(ctx context.Context, orgID int64) ([]ChartOfAccount, error)
	SetChartActive(ctx context.Context, orgID int64, code string, active bool) error
	DeleteChart(ctx context.Context, orgID, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const groupColumns = `id, org_id, name, parent_id, created_at, updated_at`

func scanGroup(row pgx.Row) (LedgerGroup, error) {
	var g LedgerGroup
	err := row.Scan(&g.ID, &g.OrgID, &g.Name, &g.ParentID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerGroup{}, shared.ErrNotFound
		}
		return LedgerGroup{}, err
	}
	return g, nil
}

func (r *repository) GetGroup(ctx context.Context, orgID, id int64) (LedgerGroup, error) {
	return scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM ledger_groups WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *repository) FindGroup(ctx context.Context, orgID int64, parentID *int64, name string) (LedgerGroup, error) {
	return scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM ledger_groups
WHERE org_id=$1 AND COALESCE(parent_id, 0)=COALESCE($2, 0) AND lower(name)=lower($3)`, orgID, parentID, name))
}

func (r *repository) InsertGroup(ctx context.Context, group LedgerGroup) (LedgerGroup, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO ledger_groups (org_id, name, parent_id)
VALUES ($1,$2,$3) ON CONFLICT DO NOTHING RETURNING `+groupColumns, group.OrgID, group.Name, group.ParentID)
	inserted, err := scanGroup(row)
	if errors.Is(err, shared.ErrNotFound) {
		return LedgerGroup{}, ErrDuplicate
	}
	return inserted, err
}

func (r *repository) UpdateGroup(ctx context.Context, group LedgerGroup) error {
	cmd, err := r.db.Exec(ctx, `UPDATE ledger_groups SET name=$3, parent_id=$4, updated_at=NOW() WHERE org_id=$1 AND id=$2`,
		group.OrgID, group.ID, group.Name, group.ParentID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) DeleteGroup(ctx context.Context, orgID, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM ledger_groups WHERE org_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountGroupDependents(ctx context.Context, orgID, id int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM ledger_groups WHERE org_id=$1 AND parent_id=$2) +
  (SELECT COUNT(*) FROM ledgers WHERE org_id=$1 AND group_id=$2)`, orgID, id).Scan(&count)
	return count, err
}

func (r *repository) ListGroups(ctx context.Context, orgID int64) ([]LedgerGroup, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM ledger_groups WHERE org_id=$1 ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []LedgerGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

const ledgerColumns = `id, org_id, group_id, name, opening_balance, description, path, category, party_id, previous_paths, created_at, updated_at`

func scanLedger(row pgx.Row) (Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.OrgID, &l.GroupID, &l.Name, &l.OpeningBalance, &l.Description, &l.Path, &l.Category, &l.PartyID, &l.PreviousPaths, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, shared.ErrNotFound
		}
		return Ledger{}, err
	}
	return l, nil
}

func (r *repository) GetLedger(ctx context.Context, orgID, id int64) (Ledger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *repository) FindLedgerByName(ctx context.Context, orgID int64, name string) (Ledger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND lower(name)=lower($2)`, orgID, name))
}

func (r *repository) FindLedgerByPath(ctx context.Context, orgID int64, path string) (Ledger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND lower(path)=lower($2)
ORDER BY id LIMIT 1`, orgID, path))
}

func (r *repository) FindLedgerByParty(ctx context.Context, orgID int64, category Category, partyID string) (Ledger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 AND category=$2 AND party_id=$3
ORDER BY id LIMIT 1`, orgID, category, partyID))
}

func (r *repository) InsertLedger(ctx context.Context, ledger Ledger) (Ledger, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO ledgers (org_id, group_id, name, opening_balance, description, path, category, party_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+ledgerColumns,
		ledger.OrgID, ledger.GroupID, ledger.Name, ledger.OpeningBalance, ledger.Description, ledger.Path, ledger.Category, ledger.PartyID)
	inserted, err := scanLedger(row)
	if err != nil && isUniqueViolation(err) {
		return Ledger{}, ErrDuplicate
	}
	return inserted, err
}

func (r *repository) UpdateLedgerPath(ctx context.Context, orgID, id int64, path string) error {
	_, err := r.db.Exec(ctx, `UPDATE ledgers SET
  previous_paths = CASE
    WHEN path = '' OR path = $3 OR path = ANY(previous_paths) THEN previous_paths
    ELSE array_append(previous_paths, path)
  END,
  path = $3,
  updated_at = NOW()
WHERE org_id=$1 AND id=$2`, orgID, id, path)
	return err
}

func (r *repository) DeleteLedger(ctx context.Context, orgID, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM ledgers WHERE org_id=$1 AND id=$2`, orgID, id)
	return err
}

func (r *repository) ListLedgers(ctx context.Context, orgID int64) ([]Ledger, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE org_id=$1 ORDER BY path`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ledgers []Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

const chartColumns = `id, org_id, code, path, name, type, subtype, is_active, created_at`

func scanChart(row pgx.Row) (ChartOfAccount, error) {
	var c ChartOfAccount
	err := row.Scan(&c.ID, &c.OrgID, &c.Code, &c.Path, &c.Name, &c.Type, &c.Subtype, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChartOfAccount{}, shared.ErrNotFound
		}
		return ChartOfAccount{}, err
	}
	return c, nil
}

func (r *repository) FindChartByCode(ctx context.Context, orgID int64, code string) (ChartOfAccount, error) {
	return scanChart(r.db.QueryRow(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts WHERE org_id=$1 AND code=$2`, orgID, code))
}

func (r *repository) FindChartsByName(ctx context.Context, orgID int64, name string) ([]ChartOfAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts WHERE org_id=$1 AND lower(name)=lower($2) ORDER BY id`, orgID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChartOfAccount
	for rows.Next() {
		c, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) InsertChart(ctx context.Context, chart ChartOfAccount) (ChartOfAccount, bool, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO chart_of_accounts (org_id, code, path, name, type, subtype, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (org_id, code) DO NOTHING RETURNING `+chartColumns,
		chart.OrgID, chart.Code, chart.Path, chart.Name, chart.Type, chart.Subtype, chart.IsActive)
	inserted, err := scanChart(row)
	if errors.Is(err, shared.ErrNotFound) {
		return ChartOfAccount{}, false, nil
	}
	if err != nil {
		return ChartOfAccount{}, false, err
	}
	return inserted, true, nil
}

func (r *repository) ListCharts(ctx context.Context, orgID int64) ([]ChartOfAccount, error) {
	rows, err := r.db.Query(ctx, `SELECT `+chartColumns+` FROM chart_of_accounts WHERE org_id=$1 ORDER BY code`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChartOfAccount
	for rows.Next() {
		c, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) SetChartActive(ctx context.Context, orgID int64, code string, active bool) error {
	_, err := r.db.Exec(ctx, `UPDATE chart_of_accounts SET is_active=FALSE WHERE org_id=$1 AND code=$2`, orgID, code)
	return err
}

func (r *repository) DeleteChart(ctx context.Context, orgID, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chart_of_accounts WHERE org_id=$1 AND id=$2`, orgID, id)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
