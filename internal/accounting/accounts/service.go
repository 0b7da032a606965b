package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
	internalShared "github.com/odyssey-erp/odyssey-books/internal/shared"
)

var (
	// ErrGroupCycle indicates the group tree would loop back on itself.
	ErrGroupCycle = errors.New("accounts: group hierarchy contains a cycle")
	// ErrGroupInUse indicates a group still owns child groups or ledgers.
	ErrGroupInUse = errors.New("accounts: group still has child groups or ledgers")
)

// maxGroupDepth bounds ancestry walks on corrupted trees.
const maxGroupDepth = 64

// OpeningPoster posts the synthetic opening balance journal of a new ledger.
type OpeningPoster interface {
	PostOpening(ctx context.Context, ledger Ledger, actorID int64) error
}

// AuditPort records directory changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Directory resolves ledgers into canonical account paths and keeps the chart
// of accounts projection in step with them.
type Directory struct {
	repo    Repository
	catalog Catalog
	opening OpeningPoster
	audit   AuditPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewDirectory constructs the Directory on top of repo using the embedded
// default catalog.
func NewDirectory(repo Repository, logger *slog.Logger) (*Directory, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, catalog: catalog, logger: logger, now: time.Now}, nil
}

// WithOpeningPoster wires the poster used for non-zero opening balances.
func (d *Directory) WithOpeningPoster(p OpeningPoster) {
	d.opening = p
}

// WithAudit wires the audit logger.
func (d *Directory) WithAudit(a AuditPort) {
	d.audit = a
}

// Catalog exposes the default chart in use.
func (d *Directory) Catalog() Catalog {
	return d.catalog
}

// ResolvePath derives the canonical path of ledger from its group ancestry.
func (d *Directory) ResolvePath(ctx context.Context, ledger Ledger) (string, error) {
	return d.resolveWith(ledger, func(id int64) (LedgerGroup, error) {
		return d.repo.GetGroup(ctx, ledger.OrgID, id)
	})
}

func (d *Directory) resolveWith(ledger Ledger, lookup func(id int64) (LedgerGroup, error)) (string, error) {
	if ledger.Category == CategoryInventory {
		return InventoryPath(ledger.Name), nil
	}
	var names []string
	seen := make(map[int64]struct{})
	next := &ledger.GroupID
	for next != nil && *next != 0 {
		id := *next
		if _, dup := seen[id]; dup || len(seen) >= maxGroupDepth {
			return "", shared.AccountResolution("accounts.resolve_path", ledger.Name, ErrGroupCycle)
		}
		seen[id] = struct{}{}
		group, err := lookup(id)
		if err != nil {
			return "", shared.AccountResolution("accounts.resolve_path", ledger.Name, fmt.Errorf("group %d: %w", id, err))
		}
		names = append(names, group.Name)
		next = group.ParentID
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return BuildPath(names, ledger.Name), nil
}

// EnsureChartOfAccount returns the chart row for ledger, creating it the first
// time. Concurrent first references converge on the same row.
func (d *Directory) EnsureChartOfAccount(ctx context.Context, ledger Ledger) (ChartOfAccount, error) {
	path, err := d.ResolvePath(ctx, ledger)
	if err != nil {
		return ChartOfAccount{}, err
	}
	typ := InferType(path)
	code := CodeFor(path, typ)

	chart, err := d.repo.FindChartByCode(ctx, ledger.OrgID, code)
	if err == nil {
		return chart, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return ChartOfAccount{}, fmt.Errorf("accounts: find chart by code: %w", err)
	}
	// rows written before codes were derived from paths
	legacy, err := d.repo.FindChartsByName(ctx, ledger.OrgID, ledger.Name)
	if err != nil {
		return ChartOfAccount{}, fmt.Errorf("accounts: find chart by name: %w", err)
	}
	for _, candidate := range legacy {
		if candidate.IsActive && pathSuffixMatch(candidate.Path, path) {
			return candidate, nil
		}
	}

	inserted, ok, err := d.repo.InsertChart(ctx, ChartOfAccount{
		OrgID:    ledger.OrgID,
		Code:     code,
		Path:     path,
		Name:     ledger.Name,
		Type:     typ,
		Subtype:  Subtype(path),
		IsActive: true,
	})
	if err != nil {
		return ChartOfAccount{}, fmt.Errorf("accounts: insert chart: %w", err)
	}
	if ok {
		recordCreation(ctx, createdChart, inserted.ID)
		return inserted, nil
	}
	chart, err = d.repo.FindChartByCode(ctx, ledger.OrgID, code)
	if err != nil {
		return ChartOfAccount{}, shared.AccountResolution("accounts.ensure_chart", path, err)
	}
	return chart, nil
}

// ChartForPath returns the chart row of the ledger stored at path.
func (d *Directory) ChartForPath(ctx context.Context, orgID int64, path string) (ChartOfAccount, error) {
	path = Canonicalize(path)
	chart, err := d.repo.FindChartByCode(ctx, orgID, CodeFor(path, InferType(path)))
	if err == nil {
		return chart, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return ChartOfAccount{}, err
	}
	ledger, err := d.FindLedgerByPath(ctx, orgID, path)
	if err != nil {
		return ChartOfAccount{}, err
	}
	return d.EnsureChartOfAccount(ctx, ledger)
}

// EnsureGroupPath finds or creates every group along path and returns the
// deepest one.
func (d *Directory) EnsureGroupPath(ctx context.Context, orgID int64, path string) (LedgerGroup, error) {
	segments := SplitPath(Canonicalize(path))
	if len(segments) == 0 {
		return LedgerGroup{}, shared.Validation("accounts.ensure_group_path", "groupPath", "group path required")
	}
	var current LedgerGroup
	var parent *int64
	for _, name := range segments {
		group, err := d.ensureGroup(ctx, orgID, parent, name)
		if err != nil {
			return LedgerGroup{}, err
		}
		current = group
		id := group.ID
		parent = &id
	}
	return current, nil
}

func (d *Directory) ensureGroup(ctx context.Context, orgID int64, parent *int64, name string) (LedgerGroup, error) {
	group, err := d.repo.FindGroup(ctx, orgID, parent, name)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return LedgerGroup{}, fmt.Errorf("accounts: find group %q: %w", name, err)
	}
	group, err = d.repo.InsertGroup(ctx, LedgerGroup{OrgID: orgID, Name: name, ParentID: parent})
	if errors.Is(err, ErrDuplicate) {
		return d.repo.FindGroup(ctx, orgID, parent, name)
	}
	if err != nil {
		return LedgerGroup{}, fmt.Errorf("accounts: insert group %q: %w", name, err)
	}
	recordCreation(ctx, createdGroup, group.ID)
	return group, nil
}

// CreateGroup creates a single group under an optional parent.
func (d *Directory) CreateGroup(ctx context.Context, in GroupInput) (LedgerGroup, error) {
	if err := shared.ValidateStruct("accounts.create_group", in); err != nil {
		return LedgerGroup{}, err
	}
	if in.ParentID != nil {
		if _, err := d.repo.GetGroup(ctx, in.OrgID, *in.ParentID); err != nil {
			return LedgerGroup{}, d.notFound("accounts.create_group", "parent group", err)
		}
	}
	group, err := d.repo.InsertGroup(ctx, LedgerGroup{OrgID: in.OrgID, Name: strings.TrimSpace(in.Name), ParentID: in.ParentID})
	if errors.Is(err, ErrDuplicate) {
		return LedgerGroup{}, shared.Validation("accounts.create_group", "name", "group already exists")
	}
	return group, err
}

// EnsureLedger returns the ledger named in.Name, creating it when missing. A
// ledger of that name living at a different path is an AccountResolutionError.
func (d *Directory) EnsureLedger(ctx context.Context, in LedgerInput) (Ledger, error) {
	if err := shared.ValidateStruct("accounts.ensure_ledger", in); err != nil {
		return Ledger{}, err
	}
	existing, err := d.repo.FindLedgerByName(ctx, in.OrgID, strings.TrimSpace(in.Name))
	switch {
	case err == nil:
		return d.checkExisting(ctx, existing, in)
	case !errors.Is(err, shared.ErrNotFound):
		return Ledger{}, fmt.Errorf("accounts: find ledger: %w", err)
	}
	ledger, err := d.insertLedger(ctx, in)
	if errors.Is(err, ErrDuplicate) {
		existing, err = d.repo.FindLedgerByName(ctx, in.OrgID, strings.TrimSpace(in.Name))
		if err != nil {
			return Ledger{}, shared.AccountResolution("accounts.ensure_ledger", in.Name, err)
		}
		return d.checkExisting(ctx, existing, in)
	}
	return ledger, err
}

func (d *Directory) checkExisting(ctx context.Context, existing Ledger, in LedgerInput) (Ledger, error) {
	if in.GroupPath == "" {
		return existing, nil
	}
	want := BuildPath(SplitPath(in.GroupPath), in.Name)
	if in.Category == CategoryInventory {
		want = InventoryPath(in.Name)
	}
	if !strings.EqualFold(existing.Path, want) && !slices.ContainsFunc(existing.PreviousPaths, func(p string) bool {
		return strings.EqualFold(p, want)
	}) {
		return Ledger{}, shared.AccountResolution("accounts.ensure_ledger", want,
			fmt.Errorf("ledger %q already exists at %q", existing.Name, existing.Path))
	}
	return existing, nil
}

// EnsurePartyLedger returns the ledger of a customer or supplier. Customers
// live under Accounts Receivable and suppliers under Accounts Payable.
func (d *Directory) EnsurePartyLedger(ctx context.Context, orgID int64, kind PartyKind, partyID, name string) (Ledger, error) {
	category := kind.Category()
	partyID = strings.TrimSpace(partyID)
	if partyID != "" {
		ledger, err := d.repo.FindLedgerByParty(ctx, orgID, category, partyID)
		if err == nil {
			return ledger, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return Ledger{}, fmt.Errorf("accounts: find party ledger: %w", err)
		}
	}
	if strings.TrimSpace(name) == "" {
		name = partyID
	}
	group := JoinPath(RootAssets, GroupReceivable)
	if kind == PartySupplier {
		group = JoinPath(RootLiabilities, GroupPayable)
	}
	return d.EnsureLedger(ctx, LedgerInput{
		OrgID:     orgID,
		GroupPath: group,
		Name:      name,
		Category:  category,
		PartyID:   partyID,
	})
}

// EnsureItemLedger returns the inventory ledger of an item.
func (d *Directory) EnsureItemLedger(ctx context.Context, orgID int64, item string) (Ledger, error) {
	return d.EnsureLedger(ctx, LedgerInput{
		OrgID:     orgID,
		GroupPath: JoinPath(RootAssets, GroupInventory),
		Name:      item,
		Category:  CategoryInventory,
	})
}

// EnsureAccountPath makes sure a ledger and its groups exist for path.
func (d *Directory) EnsureAccountPath(ctx context.Context, orgID int64, path string) (Ledger, error) {
	path = Canonicalize(path)
	segments := SplitPath(path)
	if len(segments) < 2 {
		return Ledger{}, shared.Validation("accounts.ensure_account_path", "path", "path needs a group and a ledger name")
	}
	category := CategoryGeneral
	if strings.EqualFold(Parent(path), JoinPath(RootAssets, GroupInventory)) {
		category = CategoryInventory
	}
	return d.EnsureLedger(ctx, LedgerInput{
		OrgID:     orgID,
		GroupPath: Parent(path),
		Name:      Leaf(path),
		Category:  category,
	})
}

// SystemLedger ensures the ledger registered for a system key such as
// SystemCash.
func (d *Directory) SystemLedger(ctx context.Context, orgID int64, key string) (Ledger, error) {
	path, err := d.catalog.SystemPath(key)
	if err != nil {
		return Ledger{}, shared.AccountResolution("accounts.system_ledger", key, err)
	}
	return d.EnsureAccountPath(ctx, orgID, path)
}

// CreateLedger creates a ledger, rejecting duplicates, and posts its opening
// balance. If the opening journal fails the ledger is removed again together
// with the groups and chart row created for it.
func (d *Directory) CreateLedger(ctx context.Context, in LedgerInput) (Ledger, error) {
	if err := shared.ValidateStruct("accounts.create_ledger", in); err != nil {
		return Ledger{}, err
	}
	_, err := d.repo.FindLedgerByName(ctx, in.OrgID, strings.TrimSpace(in.Name))
	if err == nil {
		return Ledger{}, shared.Validation("accounts.create_ledger", "name", "ledger name already exists")
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Ledger{}, fmt.Errorf("accounts: find ledger: %w", err)
	}
	ledger, err := d.insertLedger(ctx, in)
	if errors.Is(err, ErrDuplicate) {
		return Ledger{}, shared.Validation("accounts.create_ledger", "name", "ledger name already exists")
	}
	if err != nil {
		return Ledger{}, err
	}
	if d.audit != nil {
		if err := d.audit.Record(ctx, internalShared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "ledger.create",
			Entity:   "ledger",
			EntityID: fmt.Sprintf("%d", ledger.ID),
			Meta:     map[string]any{"path": ledger.Path, "opening_balance": ledger.OpeningBalance.StringFixed(2)},
			At:       d.now(),
		}); err != nil {
			d.logger.Warn("record ledger audit", slog.Int64("ledger_id", ledger.ID), slog.Any("error", err))
		}
	}
	return ledger, nil
}

func (d *Directory) insertLedger(ctx context.Context, in LedgerInput) (_ Ledger, err error) {
	ctx, created := TrackCreations(ctx)
	defer func() {
		if err == nil {
			created.Keep()
			return
		}
		if revErr := d.Revert(ctx, in.OrgID, created); revErr != nil {
			d.logger.Error("remove rows of failed ledger create", slog.String("ledger", in.Name), slog.Any("error", revErr))
		}
	}()

	groupID := in.GroupID
	if groupID == 0 {
		group, err := d.EnsureGroupPath(ctx, in.OrgID, in.GroupPath)
		if err != nil {
			return Ledger{}, err
		}
		groupID = group.ID
	} else if _, err := d.repo.GetGroup(ctx, in.OrgID, groupID); err != nil {
		return Ledger{}, d.notFound("accounts.create_ledger", "group", err)
	}
	category := in.Category
	if category == "" {
		category = CategoryGeneral
	}
	ledger := Ledger{
		OrgID:          in.OrgID,
		GroupID:        groupID,
		Name:           strings.TrimSpace(in.Name),
		OpeningBalance: in.OpeningBalance,
		Description:    strings.TrimSpace(in.Description),
		Category:       category,
		PartyID:        strings.TrimSpace(in.PartyID),
	}
	path, err := d.ResolvePath(ctx, ledger)
	if err != nil {
		return Ledger{}, err
	}
	ledger.Path = path
	inserted, err := d.repo.InsertLedger(ctx, ledger)
	if err != nil {
		return Ledger{}, err
	}
	recordCreation(ctx, createdLedger, inserted.ID)
	if _, err := d.EnsureChartOfAccount(ctx, inserted); err != nil {
		d.logger.Warn("ensure chart for new ledger", slog.Int64("ledger_id", inserted.ID), slog.Any("error", err))
	}
	if !inserted.OpeningBalance.IsZero() && d.opening != nil {
		if err := d.opening.PostOpening(ctx, inserted, in.ActorID); err != nil {
			return Ledger{}, fmt.Errorf("accounts: post opening balance: %w", err)
		}
	}
	return inserted, nil
}

// GetLedger loads a ledger by id.
func (d *Directory) GetLedger(ctx context.Context, orgID, id int64) (Ledger, error) {
	ledger, err := d.repo.GetLedger(ctx, orgID, id)
	if err != nil {
		return Ledger{}, d.notFound("accounts.get_ledger", "ledger", err)
	}
	return ledger, nil
}

// FindLedgerByPath loads the ledger stored at path. Ledgers whose cached path
// is stale are found by their leaf name and a fresh resolve, and renamed or
// moved ledgers by their previous paths.
func (d *Directory) FindLedgerByPath(ctx context.Context, orgID int64, path string) (Ledger, error) {
	path = Canonicalize(path)
	ledger, err := d.repo.FindLedgerByPath(ctx, orgID, path)
	if err == nil {
		return ledger, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Ledger{}, err
	}
	ledger, err = d.repo.FindLedgerByName(ctx, orgID, Leaf(path))
	if err != nil {
		return Ledger{}, d.notFound("accounts.find_ledger", "ledger "+path, err)
	}
	for _, previous := range ledger.PreviousPaths {
		if strings.EqualFold(previous, path) {
			return ledger, nil
		}
	}
	resolved, err := d.ResolvePath(ctx, ledger)
	if err != nil || !pathSuffixMatch(path, resolved) {
		return Ledger{}, shared.NotFound("accounts.find_ledger", "ledger "+path)
	}
	return ledger, nil
}

// ListLedgers returns every ledger of the organization ordered by path.
func (d *Directory) ListLedgers(ctx context.Context, orgID int64) ([]Ledger, error) {
	return d.repo.ListLedgers(ctx, orgID)
}

// ListChartOfAccounts returns the chart of accounts ordered by code.
func (d *Directory) ListChartOfAccounts(ctx context.Context, orgID int64) ([]ChartOfAccount, error) {
	return d.repo.ListCharts(ctx, orgID)
}

// SyncCharts ensures a chart row for every ledger and returns how many were
// processed.
func (d *Directory) SyncCharts(ctx context.Context, orgID int64) (int, error) {
	ledgers, err := d.repo.ListLedgers(ctx, orgID)
	if err != nil {
		return 0, err
	}
	for _, ledger := range ledgers {
		if _, err := d.EnsureChartOfAccount(ctx, ledger); err != nil {
			return 0, err
		}
	}
	return len(ledgers), nil
}

// RenameGroup renames a group and refreshes the cached paths below it.
func (d *Directory) RenameGroup(ctx context.Context, orgID, id int64, name string) (LedgerGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LedgerGroup{}, shared.Validation("accounts.rename_group", "name", "name required")
	}
	group, err := d.repo.GetGroup(ctx, orgID, id)
	if err != nil {
		return LedgerGroup{}, d.notFound("accounts.rename_group", "group", err)
	}
	group.Name = name
	if err := d.repo.UpdateGroup(ctx, group); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return LedgerGroup{}, shared.Validation("accounts.rename_group", "name", "group already exists")
		}
		return LedgerGroup{}, err
	}
	return group, d.refreshPaths(ctx, orgID)
}

// MoveGroup reparents a group. Moving a group below itself is rejected.
func (d *Directory) MoveGroup(ctx context.Context, orgID, id int64, parentID *int64) (LedgerGroup, error) {
	group, err := d.repo.GetGroup(ctx, orgID, id)
	if err != nil {
		return LedgerGroup{}, d.notFound("accounts.move_group", "group", err)
	}
	seen := 0
	for cursor := parentID; cursor != nil; seen++ {
		if *cursor == id || seen >= maxGroupDepth {
			return LedgerGroup{}, &shared.Error{Kind: shared.ErrValidation, Op: "accounts.move_group", OrgID: orgID, Field: "parentId", Message: "move would create a cycle", Err: ErrGroupCycle}
		}
		parent, err := d.repo.GetGroup(ctx, orgID, *cursor)
		if err != nil {
			return LedgerGroup{}, d.notFound("accounts.move_group", "parent group", err)
		}
		cursor = parent.ParentID
	}
	group.ParentID = parentID
	if err := d.repo.UpdateGroup(ctx, group); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return LedgerGroup{}, shared.Validation("accounts.move_group", "name", "group already exists under the new parent")
		}
		return LedgerGroup{}, err
	}
	return group, d.refreshPaths(ctx, orgID)
}

// DeleteGroup removes an empty group.
func (d *Directory) DeleteGroup(ctx context.Context, orgID, id int64) error {
	if _, err := d.repo.GetGroup(ctx, orgID, id); err != nil {
		return d.notFound("accounts.delete_group", "group", err)
	}
	count, err := d.repo.CountGroupDependents(ctx, orgID, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return &shared.Error{Kind: shared.ErrValidation, Op: "accounts.delete_group", OrgID: orgID, Message: "group is not empty", Err: ErrGroupInUse}
	}
	return d.repo.DeleteGroup(ctx, orgID, id)
}

// refreshPaths recomputes every cached ledger path after the tree changed. The
// old path stays on the ledger as an alias so history posted under it keeps
// counting, and the chart row of the old path is retired.
func (d *Directory) refreshPaths(ctx context.Context, orgID int64) error {
	groups, err := d.repo.ListGroups(ctx, orgID)
	if err != nil {
		return err
	}
	byID := make(map[int64]LedgerGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	lookup := func(id int64) (LedgerGroup, error) {
		g, ok := byID[id]
		if !ok {
			return LedgerGroup{}, shared.ErrNotFound
		}
		return g, nil
	}
	ledgers, err := d.repo.ListLedgers(ctx, orgID)
	if err != nil {
		return err
	}
	for _, ledger := range ledgers {
		path, err := d.resolveWith(ledger, lookup)
		if err != nil {
			return err
		}
		if path == ledger.Path {
			continue
		}
		if err := d.repo.UpdateLedgerPath(ctx, orgID, ledger.ID, path); err != nil {
			return err
		}
		oldCode := CodeFor(ledger.Path, InferType(ledger.Path))
		newCode := CodeFor(path, InferType(path))
		if oldCode != newCode {
			if err := d.repo.SetChartActive(ctx, orgID, oldCode, false); err != nil {
				return err
			}
		}
		ledger.Path = path
		chart, err := d.EnsureChartOfAccount(ctx, ledger)
		if err != nil {
			return err
		}
		if !chart.IsActive {
			if err := d.repo.SetChartActive(ctx, orgID, chart.Code, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// SeedDefaults creates the default group tree and system ledgers. It is safe
// to run repeatedly.
func (d *Directory) SeedDefaults(ctx context.Context, orgID int64) (int, error) {
	if orgID == 0 {
		return 0, shared.Validation("accounts.seed_defaults", "organizationId", "organization required")
	}
	for _, path := range d.catalog.Groups {
		if _, err := d.EnsureGroupPath(ctx, orgID, path); err != nil {
			return 0, err
		}
	}
	for _, seed := range d.catalog.Accounts {
		path := Canonicalize(seed.Path)
		if _, err := d.EnsureLedger(ctx, LedgerInput{
			OrgID:       orgID,
			GroupPath:   Parent(path),
			Name:        Leaf(path),
			Description: seed.Description,
			Category:    CategoryGeneral,
		}); err != nil {
			return 0, err
		}
	}
	d.logger.Info("seeded default chart", slog.Int64("org_id", orgID), slog.Int("accounts", len(d.catalog.Accounts)))
	return len(d.catalog.Accounts), nil
}

func (d *Directory) notFound(op, subject string, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound(op, subject)
	}
	return fmt.Errorf("%s: %w", op, err)
}
