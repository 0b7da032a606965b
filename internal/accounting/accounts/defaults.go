package accounts

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// System account keys resolved through the catalog.
const (
	SystemCash          = "cash"
	SystemBank          = "bank"
	SystemReceivable    = "receivable"
	SystemPayable       = "payable"
	SystemInventory     = "inventory"
	SystemSales         = "sales"
	SystemSalesReturns  = "sales_returns"
	SystemCOGS          = "cogs"
	SystemTaxPayable    = "tax_payable"
	SystemTaxReceivable = "tax_receivable"
	SystemOtherIncome   = "other_income"
	SystemOwnerCapital  = "owner_capital"
	SystemOwnerDrawings = "owner_drawings"
	SystemOpeningEquity = "opening_equity"
	SystemExpenses      = "expenses"
)

// AccountSeed is one default ledger.
type AccountSeed struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`
}

// Catalog is the default chart applied to new organizations.
type Catalog struct {
	Groups   []string          `yaml:"groups"`
	Accounts []AccountSeed     `yaml:"accounts"`
	System   map[string]string `yaml:"system"`
}

// SystemPath returns the path registered for key.
func (c Catalog) SystemPath(key string) (string, error) {
	path, ok := c.System[key]
	if !ok || path == "" {
		return "", fmt.Errorf("accounts: system account %q not configured", key)
	}
	return Canonicalize(path), nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog Catalog
	defaultErr     error
)

// DefaultCatalog parses the embedded defaults once.
func DefaultCatalog() (Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = ParseCatalog(defaultsYAML)
	})
	return defaultCatalog, defaultErr
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("accounts: parse catalog: %w", err)
	}
	for i, seed := range c.Accounts {
		if len(SplitPath(seed.Path)) < 2 {
			return Catalog{}, fmt.Errorf("accounts: catalog account %d needs a group and a name", i)
		}
	}
	return c, nil
}
