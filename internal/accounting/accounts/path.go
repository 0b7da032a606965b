package accounts

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Separator joins account path segments.
const Separator = ":"

const (
	RootAssets      = "Assets"
	RootLiabilities = "Liabilities"
	RootEquity      = "Equity"
	RootRevenue     = "Revenue"
	RootExpenses    = "Expenses"

	GroupReceivable = "Accounts Receivable"
	GroupPayable    = "Accounts Payable"
	GroupInventory  = "Inventory"
)

// rootRemaps re-roots groups that were historically authored without their
// top level bucket.
var rootRemaps = []struct {
	group string
	root  string
}{
	{GroupReceivable, RootAssets},
	{GroupPayable, RootLiabilities},
}

// BuildPath joins root-first group names and the leaf name into the canonical
// path, applying the receivable/payable re-rooting.
func BuildPath(groups []string, leaf string) string {
	segments := make([]string, 0, len(groups)+1)
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			segments = append(segments, g)
		}
	}
	if leaf = strings.TrimSpace(leaf); leaf != "" {
		segments = append(segments, leaf)
	}
	return Canonicalize(strings.Join(segments, Separator))
}

// Canonicalize applies the root remapping to an already joined path.
func Canonicalize(path string) string {
	path = strings.TrimSpace(path)
	for _, remap := range rootRemaps {
		if path == remap.group || strings.HasPrefix(path, remap.group+Separator) {
			return remap.root + Separator + path
		}
	}
	return path
}

// InventoryPath is the path used for quantity-ledger reporting of an item.
func InventoryPath(item string) string {
	return JoinPath(RootAssets, GroupInventory, strings.TrimSpace(item))
}

// JoinPath joins segments with the separator.
func JoinPath(segments ...string) string {
	return strings.Join(segments, Separator)
}

// SplitPath splits a path into trimmed segments.
func SplitPath(path string) []string {
	raw := strings.Split(path, Separator)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Leaf returns the last segment of path.
func Leaf(path string) string {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Parent returns path without its leaf.
func Parent(path string) string {
	segments := SplitPath(path)
	if len(segments) <= 1 {
		return ""
	}
	return JoinPath(segments[:len(segments)-1]...)
}

// InferType derives the account type from the group names of path. Keywords
// are checked in a fixed order: liab, revenue|income, expense, equity; anything
// else is an asset.
func InferType(path string) AccountType {
	segments := SplitPath(path)
	groups := segments
	if len(segments) > 1 {
		groups = segments[:len(segments)-1]
	}
	names := strings.ToLower(strings.Join(groups, " "))
	switch {
	case strings.Contains(names, "liab"):
		return AccountTypeLiability
	case strings.Contains(names, "revenue"), strings.Contains(names, "income"):
		return AccountTypeRevenue
	case strings.Contains(names, "expense"):
		return AccountTypeExpense
	case strings.Contains(names, "equity"):
		return AccountTypeEquity
	default:
		return AccountTypeAsset
	}
}

// Subtype returns the first group below the root, if any.
func Subtype(path string) string {
	segments := SplitPath(path)
	if len(segments) < 3 {
		return ""
	}
	return segments[1]
}

// CodeFor returns the deterministic chart code for a canonical path.
func CodeFor(path string, typ AccountType) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(Canonicalize(path))))
	return fmt.Sprintf("%d-%08x", typeDigit(typ), h.Sum32())
}

func typeDigit(t AccountType) int {
	switch t {
	case AccountTypeLiability:
		return 2
	case AccountTypeEquity:
		return 3
	case AccountTypeRevenue:
		return 4
	case AccountTypeExpense:
		return 5
	default:
		return 1
	}
}

// StripRoot drops the top level bucket from path.
func StripRoot(path string) string {
	segments := SplitPath(path)
	if len(segments) <= 1 {
		return path
	}
	return JoinPath(segments[1:]...)
}

func pathSuffixMatch(stored, canonical string) bool {
	s := strings.ToLower(strings.TrimSpace(stored))
	c := strings.ToLower(strings.TrimSpace(canonical))
	if s == "" || c == "" {
		return false
	}
	if s == c {
		return true
	}
	if strings.HasSuffix(c, Separator+s) {
		return true
	}
	stripped := strings.ToLower(StripRoot(canonical))
	return s == stripped || strings.HasSuffix(s, Separator+stripped)
}
