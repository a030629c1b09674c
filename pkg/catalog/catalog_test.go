package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/marketplace/pkg/market"
	"github.com/Mindburn-Labs/marketplace/pkg/operation"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

var (
	pat   = market.Actor{ID: "pat", Type: market.UserProvider}
	quinn = market.Actor{ID: "quinn", Type: market.UserProvider}
	alice = market.Actor{ID: "alice", Type: market.UserCustomer}
)

func newCatalog(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	var mu sync.Mutex
	n := 0
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("off-%d", n)
	}
	clock := func() time.Time { return time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC) }
	opts = append([]Option{WithIDGenerator(ids), WithClock(clock)}, opts...)
	return New(store.NewMemoryStore(), operation.NewRunner(), opts...)
}

func TestUpsertOfferingCreatesThenUpdates(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	o, err := c.UpsertOffering(ctx, pat, "handyman", 4500, "shelves and doors")
	require.NoError(t, err)
	assert.Equal(t, "off-1", o.ID)
	assert.True(t, o.IsActive)
	assert.Equal(t, int64(1), o.Version)

	_, err = c.SetActive(ctx, pat, o.ID, false)
	require.NoError(t, err)

	again, err := c.UpsertOffering(ctx, pat, "handyman", 5000, "anything wooden")
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID, "one offering per provider and service")
	assert.Equal(t, int64(5000), again.HourlyRate)
	assert.Equal(t, "anything wooden", again.Description)
	assert.False(t, again.IsActive, "update keeps the active flag")

	all, err := c.OfferingsFor(ctx, pat.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertOfferingValidation(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	for _, rate := range []int64{0, -100} {
		_, err := c.UpsertOffering(ctx, pat, "handyman", rate, "")
		assert.True(t, errors.Is(err, market.ErrInvalidRate), "rate %d", rate)
	}

	_, err := c.UpsertOffering(ctx, pat, "astronaut", 4500, "")
	assert.True(t, errors.Is(err, market.ErrInvalidInput))

	_, err = c.UpsertOffering(ctx, alice, "handyman", 4500, "")
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	open := newCatalog(t, WithServices(nil))
	_, err = open.UpsertOffering(ctx, pat, "astronaut", 4500, "")
	assert.NoError(t, err, "without definitions any service id is accepted")
}

func TestSetActiveOwnership(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	o, err := c.UpsertOffering(ctx, pat, "photographer", 8000, "")
	require.NoError(t, err)

	_, err = c.SetActive(ctx, quinn, o.ID, false)
	assert.True(t, errors.Is(err, market.ErrNotOwner))

	_, err = c.SetActive(ctx, pat, "missing", false)
	assert.True(t, errors.Is(err, market.ErrNotFound))

	same, err := c.SetActive(ctx, pat, o.ID, true)
	require.NoError(t, err)
	assert.Equal(t, o.Version, same.Version, "no-op toggle does not write")
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	c := newCatalog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.UpsertOffering(ctx, pat, "housekeeper", int64(3000+i), "")
		}(i)
	}
	wg.Wait()

	all, err := c.OfferingsFor(ctx, pat.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, market.ErrConflict), "unexpected %v", err)
		}
	}
}

func TestDefinitions(t *testing.T) {
	c := newCatalog(t)
	assert.Len(t, c.Services(), 4)
	assert.Contains(t, c.Categories(), "Furniture Assembly")

	d, ok := c.Service("surf-instructor")
	require.True(t, ok)
	assert.Equal(t, "Surf Instructor", d.Name)

	custom := newCatalog(t, WithCategories([]string{"Gardening"}))
	assert.Equal(t, []string{"Gardening"}, custom.Categories())
}
