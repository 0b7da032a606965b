package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates missing or invalid event fields.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrImbalanced indicates debit != credit.
	ErrImbalanced = errors.New("accounting: journal lines must balance")
	// ErrAllocationExhausted indicates no unique voucher number could be produced.
	ErrAllocationExhausted = errors.New("accounting: voucher number allocation exhausted")
	// ErrAccountResolution indicates a required ledger or chart entry is missing.
	ErrAccountResolution = errors.New("accounting: account could not be resolved")
	// ErrNotFound indicates a query by nonexistent id or path.
	ErrNotFound = errors.New("accounting: not found")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrSourceConflict indicates the source link already exists.
	ErrSourceConflict = errors.New("accounting: source link conflict")
	// ErrVoucherNumberConflict indicates the voucher number was taken at commit.
	ErrVoucherNumberConflict = errors.New("accounting: voucher number already used")
)

// Error carries a stable kind plus the context a caller needs to act on it.
type Error struct {
	Kind        error
	Op          string
	OrgID       int64
	VoucherType string
	Field       string
	Message     string
	Totals      *Totals
	Err         error
}

// Totals are the debit and credit sums of a rejected line set.
type Totals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	var ctx []string
	if e.OrgID != 0 {
		ctx = append(ctx, fmt.Sprintf("org=%d", e.OrgID))
	}
	if e.VoucherType != "" {
		ctx = append(ctx, "voucher="+e.VoucherType)
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if len(ctx) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error kind so callers can use errors.Is with the sentinels.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a ValidationError for the offending field.
func Validation(op, field, message string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Field: field, Message: message}
}

// AccountResolution builds an AccountResolutionError wrapping cause.
func AccountResolution(op, account string, cause error) *Error {
	return &Error{Kind: ErrAccountResolution, Op: op, Field: account, Message: "account could not be resolved", Err: cause}
}

// Imbalanced builds an ImbalancedPostingError carrying both totals.
func Imbalanced(op string, debit, credit decimal.Decimal) *Error {
	return &Error{
		Kind:    ErrImbalanced,
		Op:      op,
		Message: fmt.Sprintf("debit total %s does not equal credit total %s", debit.StringFixed(2), credit.StringFixed(2)),
		Totals:  &Totals{Debit: debit, Credit: credit},
	}
}

// NotFound builds a NotFoundError for the given subject.
func NotFound(op, subject string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Message: subject + " not found"}
}

// Kind returns the sentinel kind of err, or nil when it is not a ledger error.
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrImbalanced,
		ErrAllocationExhausted,
		ErrAccountResolution,
		ErrNotFound,
		ErrInvalidStatus,
		ErrSourceAlreadyLinked,
		ErrVoucherNumberConflict,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a stable machine readable name for the error kind.
func KindName(err error) string {
	switch Kind(err) {
	case ErrValidation:
		return "validation_error"
	case ErrImbalanced:
		return "imbalanced_posting"
	case ErrAllocationExhausted:
		return "allocation_exhausted"
	case ErrAccountResolution:
		return "account_resolution"
	case ErrNotFound:
		return "not_found"
	case ErrInvalidStatus:
		return "invalid_status"
	case ErrSourceAlreadyLinked, ErrVoucherNumberConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// WithOrg annotates err with the organization and voucher type when it is a
// ledger error that does not carry them yet.
func WithOrg(err error, orgID int64, voucherType string) error {
	var le *Error
	if errors.As(err, &le) {
		if le.OrgID == 0 {
			le.OrgID = orgID
		}
		if le.VoucherType == "" {
			le.VoucherType = voucherType
		}
	}
	return err
}
