package ledger

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/accounts"
)

// PartyLookup finds the id of a customer or supplier by its display name.
type PartyLookup interface {
	FindPartyID(ctx context.Context, orgID int64, kind accounts.PartyKind, name string) (string, error)
}

// Reconciler expands one logical account into the legacy path forms it may
// have been posted under. It only serves data written before paths were
// canonicalized at posting time; new query logic must not depend on it.
type Reconciler struct {
	parties PartyLookup
}

// NewReconciler builds a Reconciler. parties may be nil.
func NewReconciler(parties PartyLookup) *Reconciler {
	return &Reconciler{parties: parties}
}

// Candidates returns the equivalent paths of path, excluding path itself.
// ledger is optional and supplies the party id of customer/supplier ledgers
// and the previous paths of renamed or moved ledgers.
func (r *Reconciler) Candidates(ctx context.Context, orgID int64, path string, ledger *accounts.Ledger) []string {
	canonical := accounts.Canonicalize(path)
	parent := accounts.Parent(canonical)
	leaf := accounts.Leaf(canonical)
	if leaf == "" {
		return nil
	}

	parents := []string{parent}
	if parent != "" {
		if stripped := accounts.StripRoot(parent); stripped != parent && isRemappedRoot(parent) {
			parents = append(parents, stripped)
		}
		if remapped := accounts.Canonicalize(parent); remapped != parent {
			parents = append(parents, remapped)
		}
	}

	leaves := []string{leaf, strings.ToLower(leaf), cases.Title(language.Und).String(strings.ToLower(leaf)), strings.ToUpper(leaf)}
	if id := r.partyID(ctx, orgID, parent, leaf, ledger); id != "" {
		leaves = append(leaves, id)
	}

	seen := map[string]struct{}{canonical: {}}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if ledger != nil {
		for _, previous := range ledger.PreviousPaths {
			add(previous)
		}
	}
	for _, p := range parents {
		for _, l := range leaves {
			full := l
			if p != "" {
				full = accounts.JoinPath(p, l)
			}
			add(full)
			add(strings.ReplaceAll(full, accounts.Separator, "/"))
		}
	}
	return out
}

func (r *Reconciler) partyID(ctx context.Context, orgID int64, parent, leaf string, ledger *accounts.Ledger) string {
	if ledger != nil && ledger.PartyID != "" {
		return ledger.PartyID
	}
	if r.parties == nil {
		return ""
	}
	var kind accounts.PartyKind
	switch {
	case strings.HasSuffix(parent, accounts.GroupReceivable):
		kind = accounts.PartyCustomer
	case strings.HasSuffix(parent, accounts.GroupPayable):
		kind = accounts.PartySupplier
	default:
		return ""
	}
	id, err := r.parties.FindPartyID(ctx, orgID, kind, leaf)
	if err != nil {
		return ""
	}
	return id
}

func isRemappedRoot(path string) bool {
	segments := accounts.SplitPath(path)
	if len(segments) < 2 {
		return false
	}
	return (segments[0] == accounts.RootAssets && segments[1] == accounts.GroupReceivable) ||
		(segments[0] == accounts.RootLiabilities && segments[1] == accounts.GroupPayable)
}
