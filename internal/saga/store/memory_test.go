package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/saga"
	"github.com/GyanXspy/restaurant-orders/internal/saga/store"
)

func TestMemory_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	instance := newInstance(t, "order-1")
	require.NoError(t, s.Save(ctx, instance))

	found, err := s.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, instance, found)

	// The store hands out copies.
	found.State = saga.StateFailed
	again, err := s.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, saga.StateStarted, again.State)
}

func TestMemory_FindByOrderID_notFound(t *testing.T) {
	_, err := store.NewMemory().FindByOrderID(context.Background(), "no-such-order")
	assert.True(t, errors.Is(err, saga.ErrNotFound))
}

func TestMemory_FindByState(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	started := newInstance(t, "order-1")
	require.NoError(t, s.Save(ctx, started))

	failed := newInstance(t, "order-2")
	failed.Fail("payment failed", time.Now())
	require.NoError(t, s.Save(ctx, failed))

	found, err := s.FindByState(ctx, saga.StateFailed)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "order-2", found[0].OrderID)
}

func TestMemory_FindInProgress(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Save(ctx, newInstance(t, "order-1")))

	done := newInstance(t, "order-2")
	done.Fail("gone", time.Now())
	require.NoError(t, s.Save(ctx, done))

	found, err := s.FindInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "order-1", found[0].OrderID)
}

func TestMemory_FindTimedOut(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	stale := newInstance(t, "order-1")
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, stale))

	fresh := newInstance(t, "order-2")
	require.NoError(t, s.Save(ctx, fresh))

	found, err := s.FindTimedOut(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "order-1", found[0].OrderID)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	require.NoError(t, s.Save(ctx, newInstance(t, "order-1")))
	require.NoError(t, s.DeleteByOrderID(ctx, "order-1"))

	_, err := s.FindByOrderID(ctx, "order-1")
	assert.True(t, errors.Is(err, saga.ErrNotFound))

	// Deleting an unknown order is a no-op.
	require.NoError(t, s.DeleteByOrderID(ctx, "order-1"))
}

func TestMemory_RetryCounters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	// Unknown orders must surface as missing, not as a zero counter.
	_, err := s.RetryCount(ctx, "no-such-order")
	assert.True(t, errors.Is(err, saga.ErrNotFound))

	assert.True(t, errors.Is(s.SetRetryCount(ctx, "no-such-order", 1), saga.ErrNotFound))

	require.NoError(t, s.Save(ctx, newInstance(t, "order-1")))
	require.NoError(t, s.SetRetryCount(ctx, "order-1", 2))

	count, err := s.RetryCount(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemory_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			orderID := fmt.Sprintf("order-%d", i)
			instance := newInstance(t, orderID)
			assert.NoError(t, s.Save(ctx, instance))

			_, err := s.FindByOrderID(ctx, orderID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	found, err := s.FindInProgress(ctx)
	require.NoError(t, err)
	assert.Len(t, found, 50)
}

func newInstance(t *testing.T, orderID string) *saga.Instance {
	t.Helper()

	created := &events.OrderCreated{
		Envelope:     events.NewEnvelope(orderID, 1),
		CustomerID:   "customer-1",
		RestaurantID: "restaurant-1",
		Items: []events.OrderItem{
			{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
		},
		TotalAmount: 2598,
	}

	return saga.NewInstance(created, time.Now())
}
