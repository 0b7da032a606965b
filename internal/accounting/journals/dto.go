package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// PostingLine describes one leg of a posting request.
type PostingLine struct {
	AccountPath string
	Role        Role
	Amount      decimal.Decimal
	Meta        map[string]any
}

// Debit is shorthand for a debit line.
func Debit(path string, amount decimal.Decimal, meta map[string]any) PostingLine {
	return PostingLine{AccountPath: path, Role: RoleDebit, Amount: amount, Meta: meta}
}

// Credit is shorthand for a credit line.
func Credit(path string, amount decimal.Decimal, meta map[string]any) PostingLine {
	return PostingLine{AccountPath: path, Role: RoleCredit, Amount: amount, Meta: meta}
}

// PostingInput groups fields required to create a journal. When
// VoucherNumber is empty and Sequence is set the engine allocates a number.
type PostingInput struct {
	OrgID         int64
	Date          time.Time
	Memo          string
	VoucherType   string
	VoucherNumber string
	Sequence      *sequences.Spec
	Status        Status
	SourceModule  string
	SourceID      uuid.UUID
	PostedBy      int64
	Meta          map[string]any
	Lines         []PostingLine
}

const maxScale = 2

// Validate checks the posting before any I/O. Balance is enforced here and
// nowhere else.
func (in PostingInput) Validate() error {
	const op = "journals.post"
	if in.OrgID == 0 {
		return shared.Validation(op, "organizationId", "organization required")
	}
	if len(in.Lines) == 0 {
		return shared.Validation(op, "lines", "at least one line required")
	}
	switch in.Status {
	case "", StatusPosted, StatusDraft:
	default:
		return shared.Validation(op, "status", fmt.Sprintf("status %q cannot be posted", in.Status))
	}
	var debit, credit decimal.Decimal
	for idx, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if strings.TrimSpace(line.AccountPath) == "" {
			return shared.Validation(op, field+".accountPath", "account path required")
		}
		if !line.Amount.IsPositive() {
			return shared.Validation(op, field+".amount", "amount must be greater than zero")
		}
		if !line.Amount.Equal(line.Amount.Round(maxScale)) {
			return shared.Validation(op, field+".amount", "amount has more than two decimal places")
		}
		switch line.Role {
		case RoleDebit:
			debit = debit.Add(line.Amount)
		case RoleCredit:
			credit = credit.Add(line.Amount)
		default:
			return shared.Validation(op, field+".role", "role must be debit or credit")
		}
	}
	if !debit.Equal(credit) {
		return shared.Imbalanced(op, debit, credit)
	}
	return nil
}

// ApproveInput moves a draft journal to POSTED.
type ApproveInput struct {
	OrgID     int64
	JournalID int64
	ActorID   int64
	Note      string
}

// DiscardInput voids a draft journal.
type DiscardInput struct {
	OrgID     int64
	JournalID int64
	ActorID   int64
	Reason    string
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	OrgID     int64
	JournalID int64
	ActorID   int64
	Memo      string
	Date      *time.Time
}
