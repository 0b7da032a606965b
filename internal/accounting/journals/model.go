package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates journal lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
	StatusVoid   Status = "VOID"
)

// Role tells which side of the entry a line sits on.
type Role string

const (
	RoleDebit  Role = "debit"
	RoleCredit Role = "credit"
)

// Opposite flips debit and credit.
func (r Role) Opposite() Role {
	if r == RoleDebit {
		return RoleCredit
	}
	return RoleDebit
}

// Journal is the header of one double-entry posting.
type Journal struct {
	ID            int64          `json:"id"`
	OrgID         int64          `json:"organizationId"`
	Date          time.Time      `json:"date"`
	Memo          string         `json:"memo"`
	VoucherType   string         `json:"voucherType"`
	VoucherNumber string         `json:"voucherNumber"`
	Status        Status         `json:"status"`
	SourceModule  string         `json:"sourceModule"`
	SourceID      uuid.UUID      `json:"sourceId"`
	PostedBy      int64          `json:"postedBy,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	ApprovedAt    *time.Time     `json:"approvedAt,omitempty"`
	ApprovedBy    *int64         `json:"approvedBy,omitempty"`
	Lines         []Transaction  `json:"lines"`
}

// Transaction is one immutable debit or credit leg of a journal.
type Transaction struct {
	ID          int64           `json:"id"`
	JournalID   int64           `json:"journalId"`
	OrgID       int64           `json:"organizationId"`
	AccountPath string          `json:"accountPath"`
	Role        Role            `json:"role"`
	Amount      decimal.Decimal `json:"amount"`
	Meta        map[string]any  `json:"meta,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Signed returns the amount as a debit positive figure.
func (t Transaction) Signed() decimal.Decimal {
	if t.Role == RoleCredit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Totals sums the debit and credit legs of lines.
func Totals(lines []Transaction) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		if line.Role == RoleDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}
