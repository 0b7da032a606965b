package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema owns every table of the books. Statements are idempotent.
//
//go:embed schema.sql
var Schema string

// migrationLock serialises concurrent Migrate calls across processes.
const migrationLock = 72_731_001

// Migrate applies Schema inside one transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
			return fmt.Errorf("platform/db: migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, Schema); err != nil {
			return fmt.Errorf("platform/db: apply schema: %w", err)
		}
		return nil
	})
}
