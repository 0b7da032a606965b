package vouchers

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

type needKind int

const (
	needPath needKind = iota
	needParty
	needItem
	needLedger
)

// Need is an account a draft posts to that must exist before commit.
type Need struct {
	kind      needKind
	Path      string
	PartyKind accounts.PartyKind
	PartyID   string
	Name      string
	LedgerID  int64
}

// Draft is the pure output of a builder: balanced lines against planned paths
// plus the accounts those paths stand for.
type Draft struct {
	Memo   string
	Date   *time.Time
	Status journals.Status
	Lines  []journals.PostingLine
	Meta   map[string]any
	Needs  map[string]Need
}

func newDraft(c Common, memo string) *Draft {
	if strings.TrimSpace(c.Memo) != "" {
		memo = strings.TrimSpace(c.Memo)
	}
	d := &Draft{Memo: memo, Date: c.Date, Meta: map[string]any{}, Needs: map[string]Need{}}
	if c.Reference != "" {
		d.Meta["reference"] = c.Reference
	}
	return d
}

func (d *Draft) debit(path string, amount decimal.Decimal, meta map[string]any) {
	d.Lines = append(d.Lines, journals.Debit(path, amount, meta))
}

func (d *Draft) credit(path string, amount decimal.Decimal, meta map[string]any) {
	d.Lines = append(d.Lines, journals.Credit(path, amount, meta))
}

func (d *Draft) need(n Need) string {
	d.Needs[n.Path] = n
	return n.Path
}

// Env gives builders the system account paths of the default chart.
type Env struct {
	Catalog accounts.Catalog
}

func (e Env) system(key string) (string, error) {
	path, err := e.Catalog.SystemPath(key)
	if err != nil {
		return "", shared.AccountResolution("vouchers.build", key, err)
	}
	return path, nil
}

func (e Env) systemNeed(d *Draft, key string) (string, error) {
	path, err := e.system(key)
	if err != nil {
		return "", err
	}
	return d.need(Need{kind: needPath, Path: path}), nil
}

func (e Env) methodAccount(d *Draft, method string) (string, error) {
	switch method {
	case MethodCash:
		return e.systemNeed(d, accounts.SystemCash)
	case MethodBank:
		return e.systemNeed(d, accounts.SystemBank)
	default:
		return "", shared.Validation("vouchers.build", "method", fmt.Sprintf("method %q has no money account", method))
	}
}

// partyAccount plans the ledger of a party, falling back to the control
// account when no party is named.
func (e Env) partyAccount(d *Draft, kind accounts.PartyKind, party *Party) (string, map[string]any, error) {
	if party == nil || (strings.TrimSpace(party.ID) == "" && strings.TrimSpace(party.Name) == "") {
		key := accounts.SystemReceivable
		if kind == accounts.PartySupplier {
			key = accounts.SystemPayable
		}
		path, err := e.systemNeed(d, key)
		return path, nil, err
	}
	name := strings.TrimSpace(party.Name)
	if name == "" {
		name = strings.TrimSpace(party.ID)
	}
	group := accounts.JoinPath(accounts.RootAssets, accounts.GroupReceivable)
	metaKey := "customerId"
	if kind == accounts.PartySupplier {
		group = accounts.JoinPath(accounts.RootLiabilities, accounts.GroupPayable)
		metaKey = "supplierId"
	}
	path := accounts.BuildPath([]string{group}, name)
	d.need(Need{kind: needParty, Path: path, PartyKind: kind, PartyID: strings.TrimSpace(party.ID), Name: name})
	var meta map[string]any
	if party.ID != "" {
		meta = map[string]any{metaKey: party.ID}
	}
	return path, meta, nil
}

func itemAccount(d *Draft, item string) string {
	item = strings.TrimSpace(item)
	return d.need(Need{kind: needItem, Path: accounts.InventoryPath(item), Name: item})
}

func positive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return shared.Validation("vouchers.build", field, "amount must be greater than zero")
	}
	return nil
}

func nonNegative(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return shared.Validation("vouchers.build", field, "amount must not be negative")
	}
	return nil
}

func money(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func buildPayment(p PaymentPayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Payment to "+partyLabel(p.Supplier, "supplier"))
	payable, meta, err := env.partyAccount(d, accounts.PartySupplier, p.Supplier)
	if err != nil {
		return nil, err
	}
	cash, err := env.methodAccount(d, p.Method)
	if err != nil {
		return nil, err
	}
	d.debit(payable, p.Amount, meta)
	d.credit(cash, p.Amount, nil)
	return d, nil
}

func buildReceipt(p ReceiptPayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Receipt from "+partyLabel(p.Customer, "customer"))
	receivable, meta, err := env.partyAccount(d, accounts.PartyCustomer, p.Customer)
	if err != nil {
		return nil, err
	}
	cash, err := env.methodAccount(d, p.Method)
	if err != nil {
		return nil, err
	}
	d.debit(cash, p.Amount, nil)
	d.credit(receivable, p.Amount, meta)
	return d, nil
}

func buildExpense(p ExpensePayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Expense: "+strings.TrimSpace(p.Category))
	expensesRoot, err := env.system(accounts.SystemExpenses)
	if err != nil {
		return nil, err
	}
	expense := d.need(Need{kind: needPath, Path: accounts.JoinPath(expensesRoot, strings.TrimSpace(p.Category))})
	var (
		source string
		meta   map[string]any
	)
	if p.Method == MethodCredit {
		source, meta, err = env.partyAccount(d, accounts.PartySupplier, p.Supplier)
	} else {
		source, err = env.methodAccount(d, p.Method)
	}
	if err != nil {
		return nil, err
	}
	d.debit(expense, p.Amount, map[string]any{"category": p.Category})
	d.credit(source, p.Amount, meta)
	return d, nil
}

func buildOtherIncome(p OtherIncomePayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Other income: "+strings.TrimSpace(p.Source))
	incomeRoot, err := env.system(accounts.SystemOtherIncome)
	if err != nil {
		return nil, err
	}
	income := d.need(Need{kind: needPath, Path: accounts.JoinPath(incomeRoot, strings.TrimSpace(p.Source))})
	cash, err := env.methodAccount(d, p.Method)
	if err != nil {
		return nil, err
	}
	d.debit(cash, p.Amount, nil)
	d.credit(income, p.Amount, map[string]any{"source": p.Source})
	return d, nil
}

func buildOwnerInvestment(p OwnerPayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Owner investment")
	capital, err := env.systemNeed(d, accounts.SystemOwnerCapital)
	if err != nil {
		return nil, err
	}
	cash, err := env.methodAccount(d, p.Method)
	if err != nil {
		return nil, err
	}
	d.debit(cash, p.Amount, nil)
	d.credit(capital, p.Amount, nil)
	return d, nil
}

func buildOwnerDrawing(p OwnerPayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, "Owner drawing")
	drawings, err := env.systemNeed(d, accounts.SystemOwnerDrawings)
	if err != nil {
		return nil, err
	}
	cash, err := env.methodAccount(d, p.Method)
	if err != nil {
		return nil, err
	}
	d.debit(drawings, p.Amount, nil)
	d.credit(cash, p.Amount, nil)
	return d, nil
}

// tradeTotals validates item lines and returns the priced subtotal and the
// cost of every item.
func tradeTotals(p TradePayload, priced bool) (decimal.Decimal, []decimal.Decimal, error) {
	if err := nonNegative("taxAmount", p.TaxAmount); err != nil {
		return decimal.Zero, nil, err
	}
	subtotal := decimal.Zero
	costs := make([]decimal.Decimal, len(p.Items))
	for i, item := range p.Items {
		field := fmt.Sprintf("items[%d]", i)
		if err := positive(field+".quantity", item.Quantity); err != nil {
			return decimal.Zero, nil, err
		}
		if err := nonNegative(field+".unitCost", item.UnitCost); err != nil {
			return decimal.Zero, nil, err
		}
		if priced {
			if err := positive(field+".unitPrice", item.UnitPrice); err != nil {
				return decimal.Zero, nil, err
			}
			subtotal = subtotal.Add(money(item.Quantity.Mul(item.UnitPrice)))
		} else {
			if err := positive(field+".unitCost", item.UnitCost); err != nil {
				return decimal.Zero, nil, err
			}
			subtotal = subtotal.Add(money(item.Quantity.Mul(item.UnitCost)))
		}
		costs[i] = money(item.Quantity.Mul(item.UnitCost))
	}
	if !subtotal.IsPositive() {
		return decimal.Zero, nil, shared.Validation("vouchers.build", "items", "total must be greater than zero")
	}
	return subtotal, costs, nil
}

func (e Env) tradeCounterAccount(d *Draft, kind accounts.PartyKind, p TradePayload) (string, map[string]any, error) {
	if p.Method == MethodCredit {
		return e.partyAccount(d, kind, p.Party)
	}
	path, err := e.methodAccount(d, p.Method)
	var meta map[string]any
	if p.Party != nil && p.Party.ID != "" {
		key := "customerId"
		if kind == accounts.PartySupplier {
			key = "supplierId"
		}
		meta = map[string]any{key: p.Party.ID}
	}
	return path, meta, err
}

// buildSales posts revenue and tax against the customer or money account, and
// moves the cost of the goods out of inventory. reverse mirrors it for
// returns.
func buildSales(p TradePayload, env Env, reverse bool) (*Draft, error) {
	subtotal, costs, err := tradeTotals(p, true)
	if err != nil {
		return nil, err
	}
	memo := "Sales to " + partyLabel(p.Party, "customer")
	revenueKey := accounts.SystemSales
	if reverse {
		memo = "Sales return from " + partyLabel(p.Party, "customer")
		revenueKey = accounts.SystemSalesReturns
	}
	d := newDraft(p.Common, memo)
	counter, counterMeta, err := env.tradeCounterAccount(d, accounts.PartyCustomer, p)
	if err != nil {
		return nil, err
	}
	revenue, err := env.systemNeed(d, revenueKey)
	if err != nil {
		return nil, err
	}
	docMeta := documentMeta(counterMeta, "salesVoucherId", p.DocumentID)
	total := subtotal.Add(p.TaxAmount)
	post := func(debit bool, path string, amount decimal.Decimal, meta map[string]any) {
		if debit != reverse {
			d.debit(path, amount, meta)
		} else {
			d.credit(path, amount, meta)
		}
	}
	post(true, counter, total, docMeta)
	post(false, revenue, subtotal, documentMeta(nil, "salesVoucherId", p.DocumentID))
	if p.TaxAmount.IsPositive() {
		tax, err := env.systemNeed(d, accounts.SystemTaxPayable)
		if err != nil {
			return nil, err
		}
		post(false, tax, p.TaxAmount, nil)
	}
	cogs := ""
	for i, item := range p.Items {
		if !costs[i].IsPositive() {
			continue
		}
		if cogs == "" {
			if cogs, err = env.systemNeed(d, accounts.SystemCOGS); err != nil {
				return nil, err
			}
		}
		meta := map[string]any{"item": item.Item, "quantity": item.Quantity.String()}
		post(true, cogs, costs[i], meta)
		post(false, itemAccount(d, item.Item), costs[i], meta)
	}
	return d, nil
}

// buildPurchase capitalises items into inventory (plus recoverable tax)
// against the supplier or money account. reverse mirrors it for returns.
func buildPurchase(p TradePayload, env Env, reverse bool) (*Draft, error) {
	subtotal, costs, err := tradeTotals(p, false)
	if err != nil {
		return nil, err
	}
	memo := "Purchase from " + partyLabel(p.Party, "supplier")
	if reverse {
		memo = "Purchase return to " + partyLabel(p.Party, "supplier")
	}
	d := newDraft(p.Common, memo)
	counter, counterMeta, err := env.tradeCounterAccount(d, accounts.PartySupplier, p)
	if err != nil {
		return nil, err
	}
	post := func(debit bool, path string, amount decimal.Decimal, meta map[string]any) {
		if debit != reverse {
			d.debit(path, amount, meta)
		} else {
			d.credit(path, amount, meta)
		}
	}
	for i, item := range p.Items {
		post(true, itemAccount(d, item.Item), costs[i], map[string]any{"item": item.Item, "quantity": item.Quantity.String()})
	}
	if p.TaxAmount.IsPositive() {
		tax, err := env.systemNeed(d, accounts.SystemTaxReceivable)
		if err != nil {
			return nil, err
		}
		post(true, tax, p.TaxAmount, nil)
	}
	post(false, counter, subtotal.Add(p.TaxAmount), documentMeta(counterMeta, "purchaseVoucherId", p.DocumentID))
	return d, nil
}

// buildContra moves money between two money accounts. The voucher starts as a
// draft and needs approval.
func buildContra(p ContraPayload, env Env) (*Draft, error) {
	if err := positive("amount", p.Amount); err != nil {
		return nil, err
	}
	d := newDraft(p.Common, fmt.Sprintf("Contra transfer %s to %s", p.From, p.To))
	from, err := env.moneyOrPath(d, p.From)
	if err != nil {
		return nil, err
	}
	to, err := env.moneyOrPath(d, p.To)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(from, to) {
		return nil, shared.Validation("vouchers.build", "to", "from and to must differ")
	}
	d.Status = journals.StatusDraft
	d.debit(to, p.Amount, nil)
	d.credit(from, p.Amount, nil)
	return d, nil
}

func (e Env) moneyOrPath(d *Draft, account string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(account)) {
	case MethodCash, MethodBank:
		return e.methodAccount(d, strings.ToLower(strings.TrimSpace(account)))
	}
	path := accounts.Canonicalize(account)
	if len(accounts.SplitPath(path)) < 2 {
		return "", shared.Validation("vouchers.build", "account", fmt.Sprintf("%q is not a full account path", account))
	}
	return d.need(Need{kind: needPath, Path: path}), nil
}

func buildJournal(p JournalPayload, env Env) (*Draft, error) {
	d := newDraft(p.Common, "Journal voucher")
	for i, line := range p.Lines {
		if err := positive(fmt.Sprintf("lines[%d].amount", i), line.Amount); err != nil {
			return nil, err
		}
		path, err := env.moneyOrPath(d, line.AccountPath)
		if err != nil {
			return nil, err
		}
		var meta map[string]any
		if line.Memo != "" {
			meta = map[string]any{"memo": line.Memo}
		}
		if line.Role == string(journals.RoleDebit) {
			d.debit(path, line.Amount, meta)
		} else {
			d.credit(path, line.Amount, meta)
		}
	}
	return d, nil
}

// buildOpening plans an opening adjustment of the ledger at path. openingFor,
// when set, tags both lines so the ledger's own balance does not count them
// on top of its stored opening balance.
func buildOpening(c Common, path string, ledgerID int64, amount decimal.Decimal, openingFor int64, env Env) (*Draft, error) {
	if amount.IsZero() {
		return nil, shared.Validation("vouchers.build", "amount", "amount must not be zero")
	}
	d := newDraft(c, "Opening balance: "+accounts.Leaf(path))
	equity, err := env.systemNeed(d, accounts.SystemOpeningEquity)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(path, equity) {
		return nil, shared.Validation("vouchers.build", "accountPath", "opening balance equity cannot open against itself")
	}
	if ledgerID != 0 {
		d.need(Need{kind: needLedger, Path: path, LedgerID: ledgerID})
	} else {
		d.need(Need{kind: needPath, Path: path})
	}
	var meta map[string]any
	if openingFor != 0 {
		meta = map[string]any{"openingFor": openingFor}
		d.Meta["openingFor"] = openingFor
	}
	debitSide := accounts.InferType(path).DebitNormal()
	if amount.IsNegative() {
		debitSide = !debitSide
		amount = amount.Abs()
	}
	if debitSide {
		d.debit(path, amount, meta)
		d.credit(equity, amount, meta)
	} else {
		d.debit(equity, amount, meta)
		d.credit(path, amount, meta)
	}
	return d, nil
}

func documentMeta(base map[string]any, key, id string) map[string]any {
	if id == "" {
		return base
	}
	out := make(map[string]any, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = id
	return out
}

func partyLabel(p *Party, fallback string) string {
	if p == nil {
		return fallback
	}
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return fallback
}
