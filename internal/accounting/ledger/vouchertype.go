package ledger

import (
	"sort"
	"strings"
)

// Voucher type labels shown in the day book.
const (
	LabelJournal         = "Journal"
	LabelContra          = "Contra"
	LabelSales           = "Sales"
	LabelSalesReturn     = "Sales Return"
	LabelPurchase        = "Purchase"
	LabelPurchaseReturn  = "Purchase Return"
	LabelPayment         = "Payment"
	LabelReceipt         = "Receipt"
	LabelExpense         = "Expense"
	LabelOtherIncome     = "Other Income"
	LabelOwnerInvestment = "Owner Investment"
	LabelOwnerDrawing    = "Owner Drawing"
	LabelOpening         = "Opening Balance"
)

type prefixLabel struct {
	prefix string
	label  string
}

// prefixTable is ordered longest prefix first so SRV- wins over SR-.
var prefixTable = func() []prefixLabel {
	table := []prefixLabel{
		{"JV-", LabelJournal},
		{"CV-", LabelContra},
		{"SV-", LabelSales},
		{"SR-", LabelSalesReturn},
		{"SRV-", LabelSalesReturn},
		{"PV-", LabelPurchase},
		{"PR-", LabelPurchaseReturn},
		{"PRV-", LabelPurchaseReturn},
		{"PaV-", LabelPayment},
		{"RcV-", LabelReceipt},
		{"EXV-", LabelExpense},
		{"OIV-", LabelOtherIncome},
		{"OIN-", LabelOwnerInvestment},
		{"ODR-", LabelOwnerDrawing},
		{"OB-", LabelOpening},
	}
	sort.SliceStable(table, func(i, j int) bool { return len(table[i].prefix) > len(table[j].prefix) })
	return table
}()

// memoKeywords is checked in order; returns come before their base type.
var memoKeywords = []prefixLabel{
	{"sales return", LabelSalesReturn},
	{"purchase return", LabelPurchaseReturn},
	{"contra", LabelContra},
	{"opening balance", LabelOpening},
	{"payment", LabelPayment},
	{"receipt", LabelReceipt},
	{"sale", LabelSales},
	{"purchase", LabelPurchase},
	{"expense", LabelExpense},
	{"drawing", LabelOwnerDrawing},
	{"investment", LabelOwnerInvestment},
	{"income", LabelOtherIncome},
}

// InferVoucherType labels a journal from its number prefix, falling back to
// memo keywords and finally to Journal.
func InferVoucherType(number, memo string) string {
	number = strings.TrimSpace(number)
	for _, p := range prefixTable {
		if strings.HasPrefix(number, p.prefix) {
			return p.label
		}
	}
	lower := strings.ToLower(memo)
	for _, k := range memoKeywords {
		if strings.Contains(lower, k.prefix) {
			return k.label
		}
	}
	return LabelJournal
}

// matchesVoucherType compares a label with a filter given either as label
// ("Sales Return") or as catalog type ("sales_return").
func matchesVoucherType(label, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	normalized := strings.ReplaceAll(strings.ToLower(filter), "_", " ")
	if normalized == "opening" {
		normalized = strings.ToLower(LabelOpening)
	}
	return strings.EqualFold(label, normalized)
}
