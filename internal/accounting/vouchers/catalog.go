package vouchers

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/sequences"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Voucher types.
const (
	TypePayment         = "payment"
	TypeReceipt         = "receipt"
	TypeExpense         = "expense"
	TypeOtherIncome     = "other_income"
	TypeOwnerInvestment = "owner_investment"
	TypeOwnerDrawing    = "owner_drawing"
	TypeSales           = "sales"
	TypeSalesReturn     = "sales_return"
	TypePurchase        = "purchase"
	TypePurchaseReturn  = "purchase_return"
	TypeContra          = "contra"
	TypeJournal         = "journal"
	TypeOpening         = "opening"
)

// Definition is one catalog entry.
type Definition struct {
	Type     string `yaml:"type" json:"type"`
	Label    string `yaml:"label" json:"label"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Padding  int    `yaml:"padding" json:"padding"`
	Approval bool   `yaml:"approval" json:"approval"`
}

// Sequence returns the numbering spec of the voucher type.
func (d Definition) Sequence() sequences.Spec {
	return sequences.Spec{Type: d.Type, Prefix: d.Prefix, Padding: d.Padding}
}

// Catalog indexes voucher definitions by type.
type Catalog struct {
	byType map[string]Definition
}

var (
	catalogOnce sync.Once
	defaultCat  Catalog
	catalogErr  error
)

// DefaultCatalog parses the embedded catalog once.
func DefaultCatalog() (Catalog, error) {
	catalogOnce.Do(func() {
		defaultCat, catalogErr = ParseCatalog(catalogYAML)
	})
	return defaultCat, catalogErr
}

// ParseCatalog decodes a YAML catalog and rejects duplicate types or
// prefixes.
func ParseCatalog(raw []byte) (Catalog, error) {
	var doc struct {
		Vouchers []Definition `yaml:"vouchers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Catalog{}, fmt.Errorf("vouchers: parse catalog: %w", err)
	}
	c := Catalog{byType: make(map[string]Definition, len(doc.Vouchers))}
	prefixes := make(map[string]string)
	for _, d := range doc.Vouchers {
		d.Type = strings.TrimSpace(d.Type)
		if d.Type == "" || d.Prefix == "" {
			return Catalog{}, fmt.Errorf("vouchers: catalog entry %+v needs type and prefix", d)
		}
		if _, dup := c.byType[d.Type]; dup {
			return Catalog{}, fmt.Errorf("vouchers: duplicate type %q", d.Type)
		}
		if other, dup := prefixes[d.Prefix]; dup {
			return Catalog{}, fmt.Errorf("vouchers: prefix %q used by %q and %q", d.Prefix, other, d.Type)
		}
		prefixes[d.Prefix] = d.Type
		c.byType[d.Type] = d
	}
	return c, nil
}

// Lookup returns the definition of voucherType.
func (c Catalog) Lookup(voucherType string) (Definition, bool) {
	d, ok := c.byType[strings.ToLower(strings.TrimSpace(voucherType))]
	return d, ok
}

// Types lists the catalog types in name order.
func (c Catalog) Types() []string {
	out := make([]string, 0, len(c.byType))
	for t := range c.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
