package sequences

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/accounting/shared"
)

type counterStub struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func newCounterStub() *counterStub {
	return &counterStub{values: make(map[string]int64)}
}

func (c *counterStub) key(orgID int64, name string) string { return fmt.Sprintf("%d/%s", orgID, name) }

func (c *counterStub) Increment(_ context.Context, orgID int64, name string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[c.key(orgID, name)]++
	return c.values[c.key(orgID, name)], nil
}

func (c *counterStub) Peek(_ context.Context, orgID int64, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[c.key(orgID, name)], nil
}

func (c *counterStub) Resync(_ context.Context, orgID int64, name string, value int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value > c.values[c.key(orgID, name)] {
		c.values[c.key(orgID, name)] = value
	}
	return c.values[c.key(orgID, name)], nil
}

type usedNumbers map[string]bool

func (u usedNumbers) NumberInUse(_ context.Context, _ int64, _ string, number string) (bool, error) {
	return u[number], nil
}

type observerStub struct {
	attempts int
	err      error
}

func (o *observerStub) ObserveAllocation(_ string, attempts int, err error) {
	o.attempts, o.err = attempts, err
}

var salesSpec = Spec{Type: "sales", Prefix: "SV-", Padding: 5}

func TestNextFormatsPrefixAndPadding(t *testing.T) {
	alloc := NewAllocator(newCounterStub(), nil)
	number, err := alloc.Next(context.Background(), 1, salesSpec)
	require.NoError(t, err)
	require.Equal(t, "SV-00001", number)

	number, err = alloc.Next(context.Background(), 1, salesSpec)
	require.NoError(t, err)
	require.Equal(t, "SV-00002", number)
}

func TestFormatDoesNotTruncateWideValues(t *testing.T) {
	require.Equal(t, "JV-123456", Format("JV-", 123456, 3))
	require.Equal(t, "7", Format("", 7, -1))
}

func TestCountersAreScopedPerOrganization(t *testing.T) {
	alloc := NewAllocator(newCounterStub(), nil)
	a, err := alloc.Next(context.Background(), 1, salesSpec)
	require.NoError(t, err)
	b, err := alloc.Next(context.Background(), 2, salesSpec)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestNextSkipsNumbersAlreadyUsed(t *testing.T) {
	obs := &observerStub{}
	alloc := NewAllocator(newCounterStub(), usedNumbers{"SV-00001": true, "SV-00002": true}).WithObserver(obs)
	number, err := alloc.Next(context.Background(), 1, salesSpec)
	require.NoError(t, err)
	require.Equal(t, "SV-00003", number)
	require.Equal(t, 3, obs.attempts)
	require.NoError(t, obs.err)
}

func TestNextExhaustsAfterMaxAttempts(t *testing.T) {
	used := usedNumbers{}
	for i := 1; i <= 10; i++ {
		used[Format("SV-", int64(i), 5)] = true
	}
	obs := &observerStub{}
	alloc := NewAllocator(newCounterStub(), used).WithMaxAttempts(3).WithObserver(obs)

	_, err := alloc.Next(context.Background(), 1, salesSpec)
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
	require.True(t, IsExhausted(err))
	require.Equal(t, 3, obs.attempts)
}

func TestNextWithinSpendsOnlyItsBudget(t *testing.T) {
	used := usedNumbers{"SV-00001": true, "SV-00002": true, "SV-00003": true}
	store := newCounterStub()
	alloc := NewAllocator(store, used).WithMaxAttempts(5)
	ctx := context.Background()

	_, spent, err := alloc.NextWithin(ctx, 1, salesSpec, 2)
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
	require.Equal(t, 2, spent)
	counter, err := store.Peek(ctx, 1, "sales")
	require.NoError(t, err)
	require.EqualValues(t, 2, counter)

	number, spent, err := alloc.NextWithin(ctx, 1, salesSpec, 3)
	require.NoError(t, err)
	require.Equal(t, "SV-00004", number)
	require.Equal(t, 2, spent)

	// budgets above the configured bound are capped
	_, spent, err = NewAllocator(newCounterStub(), usedNumbers{"SV-00001": true, "SV-00002": true, "SV-00003": true, "SV-00004": true}).
		WithMaxAttempts(2).NextWithin(ctx, 1, salesSpec, 10)
	require.ErrorIs(t, err, shared.ErrAllocationExhausted)
	require.Equal(t, 2, spent)
}

func TestNextRejectsInvalidSpec(t *testing.T) {
	alloc := NewAllocator(newCounterStub(), nil)
	_, err := alloc.Next(context.Background(), 0, salesSpec)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = alloc.Next(context.Background(), 1, Spec{Prefix: "X-"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = alloc.Next(context.Background(), 1, Spec{Type: "x", Padding: 40})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNextWrapsStoreFailures(t *testing.T) {
	store := newCounterStub()
	store.err = errors.New("connection reset")
	_, err := NewAllocator(store, nil).Next(context.Background(), 1, salesSpec)
	require.ErrorContains(t, err, "connection reset")
	require.False(t, IsExhausted(err))
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	alloc := NewAllocator(newCounterStub(), nil)
	const workers = 50
	const perWorker = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, workers*perWorker)
		errs    []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n, err := alloc.Next(context.Background(), 9, salesSpec)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					numbers[n] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, numbers, workers*perWorker)
	value, err := alloc.Peek(context.Background(), 9, "sales")
	require.NoError(t, err)
	require.Equal(t, int64(workers*perWorker), value)
}

func TestResyncOnlyMovesForward(t *testing.T) {
	alloc := NewAllocator(newCounterStub(), nil)
	got, err := alloc.Resync(context.Background(), 1, "Sales", 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), got)

	got, err = alloc.Resync(context.Background(), 1, "sales", 4)
	require.NoError(t, err)
	require.Equal(t, int64(10), got)

	number, err := alloc.Next(context.Background(), 1, salesSpec)
	require.NoError(t, err)
	require.Equal(t, "SV-00011", number)

	_, err = alloc.Resync(context.Background(), 1, "sales", -1)
	require.ErrorIs(t, err, shared.ErrValidation)
}
