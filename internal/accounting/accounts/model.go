package accounts

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// DebitNormal reports whether balances of this type grow with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// Category tells what kind of master data a ledger belongs to.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryCustomer  Category = "customer"
	CategorySupplier  Category = "supplier"
	CategoryInventory Category = "inventory"
)

// PartyKind distinguishes customer and supplier counterparties.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// Category maps the party kind onto its ledger category.
func (k PartyKind) Category() Category {
	if k == PartySupplier {
		return CategorySupplier
	}
	return CategoryCustomer
}

// LedgerGroup is a node of the account category tree.
type LedgerGroup struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"organizationId"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ledger is a leaf account that accumulates a balance.
type Ledger struct {
	ID             int64           `json:"id"`
	OrgID          int64           `json:"organizationId"`
	GroupID        int64           `json:"groupId"`
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Description    string          `json:"description,omitempty"`
	Path           string          `json:"path"`
	Category       Category        `json:"category"`
	PartyID        string          `json:"partyId,omitempty"`
	// PreviousPaths lists the paths the ledger was posted under before its
	// groups were renamed or moved.
	PreviousPaths []string  `json:"previousPaths,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ChartOfAccount is the typed reporting projection of a ledger.
type ChartOfAccount struct {
	ID        int64       `json:"id"`
	OrgID     int64       `json:"organizationId"`
	Code      string      `json:"code"`
	Path      string      `json:"path"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	IsActive  bool        `json:"isActive"`
	CreatedAt time.Time   `json:"createdAt"`
}

// LedgerInput describes a ledger to create. Either GroupID or GroupPath
// locates the owning group.
type LedgerInput struct {
	OrgID          int64           `json:"-" validate:"required"`
	GroupID        int64           `json:"groupId" validate:"required_without=GroupPath"`
	GroupPath      string          `json:"groupPath" validate:"required_without=GroupID"`
	Name           string          `json:"name" validate:"required,max=160"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Description    string          `json:"description" validate:"max=500"`
	Category       Category        `json:"category" validate:"omitempty,oneof=general customer supplier inventory"`
	PartyID        string          `json:"partyId" validate:"max=120"`
	ActorID        int64           `json:"-"`
}

// GroupInput describes a ledger group to create.
type GroupInput struct {
	OrgID    int64  `json:"-" validate:"required"`
	Name     string `json:"name" validate:"required,max=120"`
	ParentID *int64 `json:"parentId"`
}
