package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

// BalanceQuery selects one account either by ledger id or by path.
type BalanceQuery struct {
	OrgID       int64
	LedgerID    int64
	AccountPath string
	AsOf        *time.Time
	// Fresh skips the cache.
	Fresh bool
}

// BalanceResult is the reduced balance of one account.
type BalanceResult struct {
	LedgerID       int64                `json:"ledgerId,omitempty"`
	Balance        decimal.Decimal      `json:"balance"`
	OpeningBalance decimal.Decimal      `json:"openingBalance"`
	Debit          decimal.Decimal      `json:"debit"`
	Credit         decimal.Decimal      `json:"credit"`
	ComputedPath   string               `json:"computedPath"`
	MatchedPaths   []string             `json:"matchedPaths,omitempty"`
	Type           accounts.AccountType `json:"type"`
}

// PathTotals aggregates the posted lines of one account path.
type PathTotals struct {
	Path   string
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Count  int
}

// SumQuery drives Repository.SumByPaths.
type SumQuery struct {
	OrgID int64
	Paths []string
	AsOf  *time.Time
	// ExcludeOpeningFor skips the synthetic opening lines posted for this
	// ledger id; zero disables the filter.
	ExcludeOpeningFor int64
}

// JournalQuery drives Repository.ListJournals. From and To are inclusive.
type JournalQuery struct {
	OrgID int64
	From  *time.Time
	To    *time.Time
	Paths []string
}

// GLFilter narrows the general ledger.
type GLFilter struct {
	OrgID   int64
	From    *time.Time
	To      *time.Time
	Account string
	Limit   int
}

// LedgerRow is one line of the general ledger.
type LedgerRow struct {
	JournalID      int64            `json:"journalId"`
	TransactionID  int64            `json:"transactionId"`
	Date           time.Time        `json:"date"`
	VoucherNumber  string           `json:"voucherNumber"`
	VoucherType    string           `json:"voucherType"`
	Memo           string           `json:"memo"`
	AccountPath    string           `json:"accountPath"`
	Role           journals.Role    `json:"role"`
	Debit          decimal.Decimal  `json:"debit"`
	Credit         decimal.Decimal  `json:"credit"`
	RunningBalance *decimal.Decimal `json:"runningBalance,omitempty"`
	Meta           map[string]any   `json:"meta,omitempty"`
}

// DayBookFilter narrows and pages the day book.
type DayBookFilter struct {
	OrgID       int64
	Page        int
	PageSize    int
	From        *time.Time
	To          *time.Time
	Account     string
	VoucherType string
	// Location decides calendar days; the service default applies when nil.
	Location *time.Location
}

// DayBookEntry is one journal in the day book.
type DayBookEntry struct {
	JournalID     int64                  `json:"journalId"`
	Date          time.Time              `json:"date"`
	VoucherNumber string                 `json:"voucherNumber"`
	VoucherType   string                 `json:"voucherType"`
	Memo          string                 `json:"memo"`
	Debit         decimal.Decimal        `json:"debit"`
	Credit        decimal.Decimal        `json:"credit"`
	Lines         []journals.Transaction `json:"lines"`
}

// DayBookGroup holds the journals of one calendar day.
type DayBookGroup struct {
	Date    string          `json:"date"`
	Entries []DayBookEntry  `json:"entries"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// DayBookPage is one page of the day book.
type DayBookPage struct {
	Groups     []DayBookGroup            `json:"groups"`
	Pagination internalShared.Pagination `json:"pagination"`
}

// LedgerBalance pairs a ledger with its balance.
type LedgerBalance struct {
	Ledger  accounts.Ledger `json:"ledger"`
	Balance BalanceResult   `json:"balance"`
}
