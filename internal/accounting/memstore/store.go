// Package memstore keeps the books in process memory. It backs APP_STORAGE=memory
// and the service tests, and mirrors the uniqueness rules of the Postgres
// schema.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

type groupKey struct {
	org    int64
	parent int64
	name   string
}

type counterKey struct {
	org  int64
	name string
}

type numberKey struct {
	org    int64
	typ    string
	number string
}

type linkKey struct {
	org    int64
	module string
	ref    uuid.UUID
}

// Store implements the account, journal, ledger, counter and idempotency
// stores. Audit and Approvals hold the history trails.
type Store struct {
	mu  sync.Mutex
	seq int64
	now func() time.Time

	groups  map[int64]accounts.LedgerGroup
	ledgers map[int64]accounts.Ledger
	charts  map[int64]accounts.ChartOfAccount

	counters map[counterKey]int64

	journals     map[int64]journals.Journal
	transactions []journals.Transaction
	numbers      map[numberKey]int64
	links        map[linkKey]int64

	idempotency map[string]string

	Audit     *AuditTrail
	Approvals *ApprovalTrail
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		groups:      make(map[int64]accounts.LedgerGroup),
		ledgers:     make(map[int64]accounts.Ledger),
		charts:      make(map[int64]accounts.ChartOfAccount),
		counters:    make(map[counterKey]int64),
		journals:    make(map[int64]journals.Journal),
		numbers:     make(map[numberKey]int64),
		links:       make(map[linkKey]int64),
		idempotency: make(map[string]string),
		Audit:       &AuditTrail{},
		Approvals:   &ApprovalTrail{},
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func fold(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func parentOf(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// --- ledger groups

func (s *Store) GetGroup(_ context.Context, orgID, id int64) (accounts.LedgerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.OrgID != orgID {
		return accounts.LedgerGroup{}, shared.ErrNotFound
	}
	return g, nil
}

func (s *Store) findGroup(key groupKey, skip int64) (accounts.LedgerGroup, bool) {
	for _, g := range s.groups {
		if g.ID != skip && g.OrgID == key.org && parentOf(g.ParentID) == key.parent && fold(g.Name) == key.name {
			return g, true
		}
	}
	return accounts.LedgerGroup{}, false
}

func (s *Store) FindGroup(_ context.Context, orgID int64, parentID *int64, name string) (accounts.LedgerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.findGroup(groupKey{org: orgID, parent: parentOf(parentID), name: fold(name)}, 0)
	if !ok {
		return accounts.LedgerGroup{}, shared.ErrNotFound
	}
	return g, nil
}

func (s *Store) InsertGroup(_ context.Context, group accounts.LedgerGroup) (accounts.LedgerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.findGroup(groupKey{org: group.OrgID, parent: parentOf(group.ParentID), name: fold(group.Name)}, 0); dup {
		return accounts.LedgerGroup{}, accounts.ErrDuplicate
	}
	group.ID = s.nextID()
	group.CreatedAt = s.now()
	group.UpdatedAt = group.CreatedAt
	s.groups[group.ID] = group
	return group, nil
}

func (s *Store) UpdateGroup(_ context.Context, group accounts.LedgerGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.groups[group.ID]
	if !ok || current.OrgID != group.OrgID {
		return shared.ErrNotFound
	}
	if _, dup := s.findGroup(groupKey{org: group.OrgID, parent: parentOf(group.ParentID), name: fold(group.Name)}, group.ID); dup {
		return accounts.ErrDuplicate
	}
	current.Name = group.Name
	current.ParentID = group.ParentID
	current.UpdatedAt = s.now()
	s.groups[group.ID] = current
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, orgID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.OrgID != orgID {
		return shared.ErrNotFound
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) CountGroupDependents(_ context.Context, orgID, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, g := range s.groups {
		if g.OrgID == orgID && parentOf(g.ParentID) == id {
			count++
		}
	}
	for _, l := range s.ledgers {
		if l.OrgID == orgID && l.GroupID == id {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListGroups(_ context.Context, orgID int64) ([]accounts.LedgerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.LedgerGroup
	for _, g := range s.groups {
		if g.OrgID == orgID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- ledgers

func (s *Store) GetLedger(_ context.Context, orgID, id int64) (accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[id]
	if !ok || l.OrgID != orgID {
		return accounts.Ledger{}, shared.ErrNotFound
	}
	return l, nil
}

// firstLedger returns the matching ledger with the lowest id.
func (s *Store) firstLedger(match func(accounts.Ledger) bool) (accounts.Ledger, error) {
	var (
		found accounts.Ledger
		ok    bool
	)
	for _, l := range s.ledgers {
		if match(l) && (!ok || l.ID < found.ID) {
			found, ok = l, true
		}
	}
	if !ok {
		return accounts.Ledger{}, shared.ErrNotFound
	}
	return found, nil
}

func (s *Store) FindLedgerByName(_ context.Context, orgID int64, name string) (accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstLedger(func(l accounts.Ledger) bool { return l.OrgID == orgID && fold(l.Name) == fold(name) })
}

func (s *Store) FindLedgerByPath(_ context.Context, orgID int64, path string) (accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstLedger(func(l accounts.Ledger) bool { return l.OrgID == orgID && fold(l.Path) == fold(path) })
}

func (s *Store) FindLedgerByParty(_ context.Context, orgID int64, category accounts.Category, partyID string) (accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstLedger(func(l accounts.Ledger) bool {
		return l.OrgID == orgID && l.Category == category && l.PartyID != "" && l.PartyID == partyID
	})
}

func (s *Store) InsertLedger(_ context.Context, ledger accounts.Ledger) (accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.firstLedger(func(l accounts.Ledger) bool { return l.OrgID == ledger.OrgID && fold(l.Name) == fold(ledger.Name) }); err == nil {
		return accounts.Ledger{}, accounts.ErrDuplicate
	}
	ledger.ID = s.nextID()
	ledger.CreatedAt = s.now()
	ledger.UpdatedAt = ledger.CreatedAt
	s.ledgers[ledger.ID] = ledger
	return ledger, nil
}

func (s *Store) UpdateLedgerPath(_ context.Context, orgID, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[id]
	if !ok || l.OrgID != orgID {
		return nil
	}
	if l.Path != "" && l.Path != path && !slices.Contains(l.PreviousPaths, l.Path) {
		l.PreviousPaths = append(slices.Clone(l.PreviousPaths), l.Path)
	}
	l.Path = path
	l.UpdatedAt = s.now()
	s.ledgers[id] = l
	return nil
}

func (s *Store) DeleteLedger(_ context.Context, orgID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.ledgers[id]; ok && l.OrgID == orgID {
		delete(s.ledgers, id)
	}
	return nil
}

func (s *Store) ListLedgers(_ context.Context, orgID int64) ([]accounts.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.Ledger
	for _, l := range s.ledgers {
		if l.OrgID == orgID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- chart of accounts

func (s *Store) FindChartByCode(_ context.Context, orgID int64, code string) (accounts.ChartOfAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.charts {
		if c.OrgID == orgID && c.Code == code {
			return c, nil
		}
	}
	return accounts.ChartOfAccount{}, shared.ErrNotFound
}

func (s *Store) FindChartsByName(_ context.Context, orgID int64, name string) ([]accounts.ChartOfAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.ChartOfAccount
	for _, c := range s.charts {
		if c.OrgID == orgID && fold(c.Name) == fold(name) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertChart(_ context.Context, chart accounts.ChartOfAccount) (accounts.ChartOfAccount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.charts {
		if c.OrgID == chart.OrgID && c.Code == chart.Code {
			return accounts.ChartOfAccount{}, false, nil
		}
	}
	chart.ID = s.nextID()
	chart.CreatedAt = s.now()
	s.charts[chart.ID] = chart
	return chart, true, nil
}

func (s *Store) ListCharts(_ context.Context, orgID int64) ([]accounts.ChartOfAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []accounts.ChartOfAccount
	for _, c := range s.charts {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) SetChartActive(_ context.Context, orgID int64, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.charts {
		if c.OrgID == orgID && c.Code == code {
			c.IsActive = active
			s.charts[id] = c
		}
	}
	return nil
}

func (s *Store) DeleteChart(_ context.Context, orgID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.charts[id]; ok && c.OrgID == orgID {
		delete(s.charts, id)
	}
	return nil
}

// --- counters

func (s *Store) Increment(_ context.Context, orgID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{org: orgID, name: name}
	s.counters[key]++
	return s.counters[key], nil
}

func (s *Store) Peek(_ context.Context, orgID int64, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counterKey{org: orgID, name: name}], nil
}

func (s *Store) Resync(_ context.Context, orgID int64, name string, value int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey{org: orgID, name: name}
	if value > s.counters[key] {
		s.counters[key] = value
	}
	return s.counters[key], nil
}

// --- idempotency keys

func (s *Store) CheckAndInsert(_ context.Context, key, module string) error {
	if key == "" || module == "" {
		return fmt.Errorf("memstore: idempotency key and module required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.idempotency[key]; dup {
		return internalShared.ErrIdempotencyConflict
	}
	s.idempotency[key] = module
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.idempotency, key)
	return nil
}

// --- journals

func (s *Store) withLines(j journals.Journal) journals.Journal {
	j.Lines = nil
	for _, t := range s.transactions {
		if t.JournalID == j.ID {
			j.Lines = append(j.Lines, t)
		}
	}
	return j
}

func (s *Store) GetJournal(_ context.Context, orgID, id int64) (journals.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journals[id]
	if !ok || j.OrgID != orgID {
		return journals.Journal{}, shared.ErrNotFound
	}
	return s.withLines(j), nil
}

func (s *Store) NumberInUse(_ context.Context, orgID int64, voucherType, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, used := s.numbers[numberKey{org: orgID, typ: voucherType, number: number}]
	return used, nil
}

// WithTx runs fn against a staging area that is applied only when fn
// succeeds. Transactions are serialised.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, statuses: make(map[int64]journals.Journal)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.apply()
	return nil
}

type pendingLink struct {
	key       linkKey
	journalID int64
}

type memTx struct {
	s            *Store
	journals     []journals.Journal
	transactions []journals.Transaction
	numbers      map[numberKey]int64
	links        []pendingLink
	statuses     map[int64]journals.Journal
}

func (tx *memTx) InsertJournal(_ context.Context, in journals.PostingInput) (journals.Journal, error) {
	key := numberKey{org: in.OrgID, typ: in.VoucherType, number: in.VoucherNumber}
	if in.VoucherNumber != "" {
		_, committed := tx.s.numbers[key]
		_, staged := tx.numbers[key]
		if committed || staged {
			return journals.Journal{}, shared.ErrVoucherNumberConflict
		}
	}
	j := journals.Journal{
		ID:            tx.s.nextID(),
		OrgID:         in.OrgID,
		Date:          in.Date,
		Memo:          in.Memo,
		VoucherType:   in.VoucherType,
		VoucherNumber: in.VoucherNumber,
		Status:        in.Status,
		SourceModule:  in.SourceModule,
		SourceID:      in.SourceID,
		PostedBy:      in.PostedBy,
		Meta:          copyMeta(in.Meta),
		CreatedAt:     tx.s.now(),
	}
	tx.journals = append(tx.journals, j)
	if in.VoucherNumber != "" {
		if tx.numbers == nil {
			tx.numbers = make(map[numberKey]int64)
		}
		tx.numbers[key] = j.ID
	}
	return j, nil
}

func (tx *memTx) InsertTransactions(_ context.Context, journal journals.Journal, lines []journals.PostingLine) ([]journals.Transaction, error) {
	out := make([]journals.Transaction, 0, len(lines))
	for _, line := range lines {
		if !line.Amount.IsPositive() {
			return nil, fmt.Errorf("memstore: amount must be positive")
		}
		t := journals.Transaction{
			ID:          tx.s.nextID(),
			JournalID:   journal.ID,
			OrgID:       journal.OrgID,
			AccountPath: line.AccountPath,
			Role:        line.Role,
			Amount:      line.Amount,
			Meta:        copyMeta(line.Meta),
			CreatedAt:   tx.s.now(),
		}
		out = append(out, t)
	}
	tx.transactions = append(tx.transactions, out...)
	return out, nil
}

func (tx *memTx) LinkSource(_ context.Context, orgID int64, module string, ref uuid.UUID, journalID int64) error {
	key := linkKey{org: orgID, module: module, ref: ref}
	if _, dup := tx.s.links[key]; dup {
		return shared.ErrSourceConflict
	}
	for _, l := range tx.links {
		if l.key == key {
			return shared.ErrSourceConflict
		}
	}
	tx.links = append(tx.links, pendingLink{key: key, journalID: journalID})
	return nil
}

func (tx *memTx) GetJournalForUpdate(_ context.Context, orgID, id int64) (journals.Journal, error) {
	if j, ok := tx.statuses[id]; ok {
		return tx.s.withLines(j), nil
	}
	j, ok := tx.s.journals[id]
	if !ok || j.OrgID != orgID {
		return journals.Journal{}, shared.ErrNotFound
	}
	return tx.s.withLines(j), nil
}

func (tx *memTx) UpdateStatus(_ context.Context, orgID, id int64, status journals.Status, approvedBy *int64, approvedAt *time.Time) error {
	j, ok := tx.statuses[id]
	if !ok {
		j, ok = tx.s.journals[id]
	}
	if !ok || j.OrgID != orgID {
		return shared.ErrNotFound
	}
	j.Status = status
	if approvedBy != nil {
		by := *approvedBy
		j.ApprovedBy = &by
	}
	if approvedAt != nil {
		at := *approvedAt
		j.ApprovedAt = &at
	}
	tx.statuses[id] = j
	return nil
}

func (tx *memTx) apply() {
	s := tx.s
	for _, j := range tx.journals {
		s.journals[j.ID] = j
	}
	for key, id := range tx.numbers {
		s.numbers[key] = id
	}
	s.transactions = append(s.transactions, tx.transactions...)
	for _, l := range tx.links {
		s.links[l.key] = l.journalID
	}
	for id, j := range tx.statuses {
		s.journals[id] = j
	}
}

// --- ledger reads

func (s *Store) posted(orgID int64, asOf *time.Time) map[int64]journals.Journal {
	out := make(map[int64]journals.Journal)
	for id, j := range s.journals {
		if j.OrgID != orgID || j.Status != journals.StatusPosted {
			continue
		}
		if asOf != nil && j.Date.After(*asOf) {
			continue
		}
		out[id] = j
	}
	return out
}

func (s *Store) totals(orgID int64, asOf *time.Time, keep func(journals.Transaction) bool) []ledger.PathTotals {
	posted := s.posted(orgID, asOf)
	byPath := make(map[string]*ledger.PathTotals)
	for _, t := range s.transactions {
		if _, ok := posted[t.JournalID]; !ok || !keep(t) {
			continue
		}
		pt, ok := byPath[t.AccountPath]
		if !ok {
			pt = &ledger.PathTotals{Path: t.AccountPath}
			byPath[t.AccountPath] = pt
		}
		if t.Role == journals.RoleDebit {
			pt.Debit = pt.Debit.Add(t.Amount)
		} else {
			pt.Credit = pt.Credit.Add(t.Amount)
		}
		pt.Count++
	}
	out := make([]ledger.PathTotals, 0, len(byPath))
	for _, pt := range byPath {
		out = append(out, *pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Store) SumByPaths(_ context.Context, q ledger.SumQuery) ([]ledger.PathTotals, error) {
	if len(q.Paths) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(q.Paths))
	for _, p := range q.Paths {
		wanted[p] = struct{}{}
	}
	exclude := ""
	if q.ExcludeOpeningFor != 0 {
		exclude = strconv.FormatInt(q.ExcludeOpeningFor, 10)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals(q.OrgID, q.AsOf, func(t journals.Transaction) bool {
		if _, ok := wanted[t.AccountPath]; !ok {
			return false
		}
		if exclude != "" {
			if v, ok := t.Meta["openingFor"]; ok && fmt.Sprint(v) == exclude {
				return false
			}
		}
		return true
	}), nil
}

func (s *Store) TotalsByPath(_ context.Context, orgID int64, asOf *time.Time) ([]ledger.PathTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals(orgID, asOf, func(journals.Transaction) bool { return true }), nil
}

func (s *Store) ListJournals(_ context.Context, q ledger.JournalQuery) ([]journals.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(q.Paths))
	for _, p := range q.Paths {
		wanted[p] = struct{}{}
	}
	var out []journals.Journal
	for _, j := range s.posted(q.OrgID, q.To) {
		if q.From != nil && j.Date.Before(*q.From) {
			continue
		}
		j = s.withLines(j)
		if len(wanted) > 0 {
			hit := false
			for _, t := range j.Lines {
				if _, ok := wanted[t.AccountPath]; ok {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].Date.Equal(out[k].Date) {
			return out[i].Date.Before(out[k].Date)
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func copyMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
