// Package masterdata reads the customer, supplier and document records the
// books refer to. The records themselves are owned by the surrounding ERP.
package masterdata

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// Party is a customer or supplier.
type Party struct {
	ID    string             `json:"id"`
	OrgID int64              `json:"organizationId"`
	Kind  accounts.PartyKind `json:"kind"`
	Name  string             `json:"name"`
}

// PartyDirectory looks parties up in the parties table.
type PartyDirectory struct {
	db *pgxpool.Pool
}

// NewPartyDirectory constructs the directory.
func NewPartyDirectory(db *pgxpool.Pool) *PartyDirectory {
	return &PartyDirectory{db: db}
}

// FindPartyID returns the id of the party called name, matching case
// insensitively.
func (d *PartyDirectory) FindPartyID(ctx context.Context, orgID int64, kind accounts.PartyKind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", shared.ErrNotFound
	}
	var id string
	err := d.db.QueryRow(ctx, `SELECT id FROM parties WHERE org_id=$1 AND kind=$2 AND lower(name)=lower($3) ORDER BY id LIMIT 1`,
		orgID, string(kind), name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	return id, err
}

// Get loads one party.
func (d *PartyDirectory) Get(ctx context.Context, orgID int64, kind accounts.PartyKind, id string) (Party, error) {
	p := Party{OrgID: orgID, Kind: kind}
	err := d.db.QueryRow(ctx, `SELECT id, name FROM parties WHERE org_id=$1 AND kind=$2 AND id=$3`, orgID, string(kind), id).
		Scan(&p.ID, &p.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, shared.ErrNotFound
	}
	return p, err
}

// PartyName returns the display name of a party.
func (d *PartyDirectory) PartyName(ctx context.Context, orgID int64, kind accounts.PartyKind, id string) (string, error) {
	p, err := d.Get(ctx, orgID, kind, id)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}
