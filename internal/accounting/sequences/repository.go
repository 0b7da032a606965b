package sequences

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the Postgres backed CounterStore.
func NewRepository(db *pgxpool.Pool) CounterStore {
	return &repository{db: db}
}

// Increment upserts the counter row and returns the incremented value in one
// statement, so concurrent callers are serialised by the row lock.
func (r *repository) Increment(ctx context.Context, orgID int64, name string) (int64, error) {
	var value int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO counters (org_id, name, value, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (org_id, name)
		DO UPDATE SET value = counters.value + 1, updated_at = NOW()
		RETURNING value
	`, orgID, name).Scan(&value)
	return value, err
}

func (r *repository) Peek(ctx context.Context, orgID int64, name string) (int64, error) {
	var value int64
	err := r.db.QueryRow(ctx, `SELECT value FROM counters WHERE org_id=$1 AND name=$2`, orgID, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

func (r *repository) Resync(ctx context.Context, orgID int64, name string, value int64) (int64, error) {
	var stored int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO counters (org_id, name, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (org_id, name)
		DO UPDATE SET value = GREATEST(counters.value, EXCLUDED.value), updated_at = NOW()
		RETURNING value
	`, orgID, name, value).Scan(&stored)
	return stored, err
}
