package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/journals"
)

// DocumentResolver reads the number of an originating document by id.
type DocumentResolver interface {
	DocumentNumber(ctx context.Context, orgID int64, id string) (string, error)
}

// DocumentResolverFunc adapts a function to DocumentResolver.
type DocumentResolverFunc func(ctx context.Context, orgID int64, id string) (string, error)

func (f DocumentResolverFunc) DocumentNumber(ctx context.Context, orgID int64, id string) (string, error) {
	return f(ctx, orgID, id)
}

// composedNumberKeys hold numbers written straight into line metadata.
var composedNumberKeys = []string{"voucherNumber", "voucherNo"}

// NumberResolver finds the display number of a journal: the journal's own
// number, else a pre-composed number in metadata, else the number of the
// document a metadata foreign key points at.
type NumberResolver struct {
	resolvers map[string]DocumentResolver
	keys      []string
}

// NewNumberResolver registers one DocumentResolver per metadata key such as
// "salesVoucherId".
func NewNumberResolver(resolvers map[string]DocumentResolver) *NumberResolver {
	keys := make([]string, 0, len(resolvers))
	for k := range resolvers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &NumberResolver{resolvers: resolvers, keys: keys}
}

// Resolve returns the display number of j, or "" when none is known.
func (r *NumberResolver) Resolve(ctx context.Context, j journals.Journal) string {
	if j.VoucherNumber != "" {
		return j.VoucherNumber
	}
	metas := make([]map[string]any, 0, len(j.Lines)+1)
	metas = append(metas, j.Meta)
	for _, line := range j.Lines {
		metas = append(metas, line.Meta)
	}
	for _, key := range composedNumberKeys {
		if v := lookup(metas, key); v != "" {
			return v
		}
	}
	if r == nil {
		return ""
	}
	for _, key := range r.keys {
		id := lookup(metas, key)
		if id == "" {
			continue
		}
		number, err := r.resolvers[key].DocumentNumber(ctx, j.OrgID, id)
		if err == nil && number != "" {
			return number
		}
	}
	return ""
}

func lookup(metas []map[string]any, key string) string {
	for _, meta := range metas {
		v, ok := meta[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}
