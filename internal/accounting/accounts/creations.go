package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

type creationKind int

const (
	createdGroup creationKind = iota
	createdLedger
	createdChart
)

type creation struct {
	kind creationKind
	id   int64
}

// Creations collects the groups, ledgers and chart rows inserted while it is
// attached to a context, so a failed caller can remove them again.
type Creations struct {
	mu      sync.Mutex
	parent  *Creations
	entries []creation
	done    bool
}

type creationsKey struct{}

// TrackCreations attaches a fresh collector to ctx. Collectors nest: Keep hands
// the collected rows to the enclosing collector, if any.
func TrackCreations(ctx context.Context) (context.Context, *Creations) {
	parent, _ := ctx.Value(creationsKey{}).(*Creations)
	c := &Creations{parent: parent}
	return context.WithValue(ctx, creationsKey{}, c), c
}

// Keep accepts the collected rows.
func (c *Creations) Keep() {
	c.mu.Lock()
	entries := c.entries
	c.entries, c.done = nil, true
	c.mu.Unlock()
	if c.parent != nil {
		c.parent.add(entries...)
	}
}

func (c *Creations) add(entries ...creation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.entries = append(c.entries, entries...)
}

func (c *Creations) take() []creation {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries
	c.entries, c.done = nil, true
	return entries
}

func recordCreation(ctx context.Context, kind creationKind, id int64) {
	if c, ok := ctx.Value(creationsKey{}).(*Creations); ok {
		c.add(creation{kind: kind, id: id})
	}
}

// Revert removes the rows collected by c, newest first. Groups that meanwhile
// gained other children or ledgers are left in place.
func (d *Directory) Revert(ctx context.Context, orgID int64, c *Creations) error {
	if c == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	entries := c.take()
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		var err error
		switch e.kind {
		case createdChart:
			err = d.repo.DeleteChart(ctx, orgID, e.id)
		case createdLedger:
			err = d.repo.DeleteLedger(ctx, orgID, e.id)
		case createdGroup:
			var n int
			n, err = d.repo.CountGroupDependents(ctx, orgID, e.id)
			if err == nil && n == 0 {
				err = d.repo.DeleteGroup(ctx, orgID, e.id)
			}
		}
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			errs = append(errs, fmt.Errorf("accounts: revert %d: %w", e.id, err))
		}
	}
	if len(entries) > 0 {
		d.logger.Info("reverted directory rows", slog.Int64("org_id", orgID), slog.Int("rows", len(entries)))
	}
	return errors.Join(errs...)
}
