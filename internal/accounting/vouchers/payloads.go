package vouchers

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods.
const (
	MethodCash   = "cash"
	MethodBank   = "bank"
	MethodCredit = "credit"
)

// Common fields every voucher payload carries.
type Common struct {
	Date      *time.Time `json:"date"`
	Memo      string     `json:"memo" validate:"max=500"`
	Reference string     `json:"reference" validate:"max=120"`
}

// Party identifies a customer or supplier by id, name or both.
type Party struct {
	ID   string `json:"id" validate:"required_without=Name,max=120"`
	Name string `json:"name" validate:"required_without=ID,max=160"`
}

// PaymentPayload records money paid to a supplier.
type PaymentPayload struct {
	Common
	Supplier *Party          `json:"supplier"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method" validate:"required,oneof=cash bank"`
}

// ReceiptPayload records money received from a customer.
type ReceiptPayload struct {
	Common
	Customer *Party          `json:"customer"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method" validate:"required,oneof=cash bank"`
}

// ExpensePayload records an expense paid now or owed to a supplier.
type ExpensePayload struct {
	Common
	Category string          `json:"category" validate:"required,max=120"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method" validate:"required,oneof=cash bank credit"`
	Supplier *Party          `json:"supplier"`
}

// OtherIncomePayload records income outside of sales.
type OtherIncomePayload struct {
	Common
	Source string          `json:"source" validate:"required,max=120"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required,oneof=cash bank"`
}

// OwnerPayload records capital brought in or taken out by the owner.
type OwnerPayload struct {
	Common
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required,oneof=cash bank"`
}

// ItemLine is one item of a sales or purchase document.
type ItemLine struct {
	Item      string          `json:"item" validate:"required,max=160"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

// TradePayload covers sales, purchases and their returns.
type TradePayload struct {
	Common
	Party     *Party          `json:"party"`
	Method    string          `json:"method" validate:"required,oneof=cash bank credit"`
	Items     []ItemLine      `json:"items" validate:"required,min=1,dive"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	// DocumentID is the id of the originating sales or purchase document.
	DocumentID string `json:"documentId" validate:"max=120"`
}

// ContraPayload moves money between cash and bank accounts.
type ContraPayload struct {
	Common
	From   string          `json:"from" validate:"required,max=240"`
	To     string          `json:"to" validate:"required,max=240,nefield=From"`
	Amount decimal.Decimal `json:"amount"`
}

// JournalLine is one free-form journal line.
type JournalLine struct {
	AccountPath string          `json:"accountPath" validate:"required,max=240"`
	Role        string          `json:"role" validate:"required,oneof=debit credit"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo" validate:"max=240"`
}

// JournalPayload is an arbitrary balanced set of lines.
type JournalPayload struct {
	Common
	Lines []JournalLine `json:"lines" validate:"required,min=1,dive"`
}

// OpeningPayload adjusts the opening position of a ledger against opening
// balance equity. A positive amount sits on the account's normal side.
type OpeningPayload struct {
	Common
	LedgerID    int64           `json:"ledgerId" validate:"required_without=AccountPath"`
	AccountPath string          `json:"accountPath" validate:"required_without=LedgerID,max=240"`
	Amount      decimal.Decimal `json:"amount"`
}
