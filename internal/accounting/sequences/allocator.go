package sequences

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

// DefaultMaxAttempts bounds allocate-then-verify retries.
const DefaultMaxAttempts = 5

// Spec describes how numbers for one voucher type look.
type Spec struct {
	Type    string
	Prefix  string
	Padding int
}

// CounterStore owns the per (organization, voucher type) counters.
type CounterStore interface {
	// Increment atomically bumps the counter and returns the new value.
	Increment(ctx context.Context, orgID int64, name string) (int64, error)
	Peek(ctx context.Context, orgID int64, name string) (int64, error)
	// Resync raises the counter to at least value and returns the stored value.
	Resync(ctx context.Context, orgID int64, name string, value int64) (int64, error)
}

// UsageChecker reports whether a candidate number is already taken by the
// record type the number is destined for.
type UsageChecker interface {
	NumberInUse(ctx context.Context, orgID int64, voucherType, number string) (bool, error)
}

// Observer receives allocation outcomes.
type Observer interface {
	ObserveAllocation(voucherType string, attempts int, err error)
}

// Allocator issues organization scoped voucher numbers.
type Allocator struct {
	store       CounterStore
	checker     UsageChecker
	observer    Observer
	maxAttempts int
}

// NewAllocator constructs an Allocator. checker may be nil when the counter is
// trusted on its own.
func NewAllocator(store CounterStore, checker UsageChecker) *Allocator {
	return &Allocator{store: store, checker: checker, maxAttempts: DefaultMaxAttempts}
}

// WithMaxAttempts overrides the retry bound.
func (a *Allocator) WithMaxAttempts(n int) *Allocator {
	if n > 0 {
		a.maxAttempts = n
	}
	return a
}

// WithObserver attaches an allocation observer.
func (a *Allocator) WithObserver(o Observer) *Allocator {
	a.observer = o
	return a
}

// WithChecker replaces the usage checker. Used when the checker is built after
// the allocator, e.g. the posting engine checking its own journals.
func (a *Allocator) WithChecker(c UsageChecker) *Allocator {
	a.checker = c
	return a
}

// MaxAttempts returns the configured retry bound.
func (a *Allocator) MaxAttempts() int {
	return a.maxAttempts
}

// Next allocates the next unused number for spec within the organization.
func (a *Allocator) Next(ctx context.Context, orgID int64, spec Spec) (string, error) {
	number, _, err := a.NextWithin(ctx, orgID, spec, a.maxAttempts)
	return number, err
}

// NextWithin is Next with at most budget counter increments, capped at the
// configured bound. It also returns the increments spent, so callers retrying
// after a commit conflict can share one budget across calls.
func (a *Allocator) NextWithin(ctx context.Context, orgID int64, spec Spec, budget int) (string, int, error) {
	if err := spec.validate(orgID); err != nil {
		return "", 0, err
	}
	if budget <= 0 || budget > a.maxAttempts {
		budget = a.maxAttempts
	}
	attempts := 0
	number, err := a.next(ctx, orgID, spec, budget, &attempts)
	if a.observer != nil {
		a.observer.ObserveAllocation(spec.Type, attempts, err)
	}
	return number, attempts, err
}

func (a *Allocator) next(ctx context.Context, orgID int64, spec Spec, budget int, attempts *int) (string, error) {
	for *attempts < budget {
		*attempts++
		value, err := a.store.Increment(ctx, orgID, counterName(spec.Type))
		if err != nil {
			return "", fmt.Errorf("sequences: increment %s: %w", spec.Type, err)
		}
		candidate := Format(spec.Prefix, value, spec.Padding)
		if a.checker == nil {
			return candidate, nil
		}
		used, err := a.checker.NumberInUse(ctx, orgID, spec.Type, candidate)
		if err != nil {
			return "", fmt.Errorf("sequences: verify %s: %w", candidate, err)
		}
		if !used {
			return candidate, nil
		}
	}
	return "", &shared.Error{
		Kind:        shared.ErrAllocationExhausted,
		Op:          "sequences.next",
		OrgID:       orgID,
		VoucherType: spec.Type,
		Message:     fmt.Sprintf("no unused number after %d attempts", *attempts),
	}
}

// Peek returns the current counter value without consuming a number.
func (a *Allocator) Peek(ctx context.Context, orgID int64, voucherType string) (int64, error) {
	return a.store.Peek(ctx, orgID, counterName(voucherType))
}

// Resync moves a drifted counter forward to value. It never moves it back.
func (a *Allocator) Resync(ctx context.Context, orgID int64, voucherType string, value int64) (int64, error) {
	if value < 0 {
		return 0, shared.Validation("sequences.resync", "value", "value must not be negative")
	}
	return a.store.Resync(ctx, orgID, counterName(voucherType), value)
}

// Format renders prefix plus the zero padded counter value.
func Format(prefix string, value int64, padding int) string {
	if padding < 0 {
		padding = 0
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, value)
}

func (s Spec) validate(orgID int64) error {
	if orgID == 0 {
		return shared.Validation("sequences.next", "organizationId", "organization required")
	}
	if strings.TrimSpace(s.Type) == "" {
		return shared.Validation("sequences.next", "type", "voucher type required")
	}
	if s.Padding < 0 || s.Padding > 18 {
		return shared.Validation("sequences.next", "padding", "padding must be between 0 and 18")
	}
	return nil
}

func counterName(voucherType string) string {
	return strings.ToLower(strings.TrimSpace(voucherType))
}

// IsExhausted reports whether err is an allocation exhaustion.
func IsExhausted(err error) bool {
	return errors.Is(err, shared.ErrAllocationExhausted)
}
