package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// Document kinds referenced from journal metadata, keyed by the metadata
// field holding the document id.
var documentKinds = map[string]string{
	"salesVoucherId":    "sales_voucher",
	"purchaseVoucherId": "purchase_voucher",
	"salesOrderId":      "sales_order",
	"purchaseOrderId":   "purchase_order",
	"paymentVoucherId":  "payment_voucher",
	"receiptVoucherId":  "receipt_voucher",
}

// DocumentTable reads document numbers of one kind from the documents table.
type DocumentTable struct {
	db   *pgxpool.Pool
	kind string
}

// NewDocumentTable constructs the reader for kind.
func NewDocumentTable(db *pgxpool.Pool, kind string) *DocumentTable {
	return &DocumentTable{db: db, kind: kind}
}

// DocumentNumber returns the display number of the document with id.
func (t *DocumentTable) DocumentNumber(ctx context.Context, orgID int64, id string) (string, error) {
	var number string
	err := t.db.QueryRow(ctx, `SELECT number FROM documents WHERE org_id=$1 AND kind=$2 AND id=$3`, orgID, t.kind, id).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.ErrNotFound
	}
	return number, err
}

// DocumentResolvers returns one resolver per metadata foreign key.
func DocumentResolvers(db *pgxpool.Pool) map[string]ledger.DocumentResolver {
	out := make(map[string]ledger.DocumentResolver, len(documentKinds))
	for key, kind := range documentKinds {
		out[key] = NewDocumentTable(db, kind)
	}
	return out
}
