package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/order/eventstore"
)

func TestMemory_AppendDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemory()

	event := &events.OrderCreated{
		Envelope:     events.NewEnvelope("order-1", 1),
		CustomerID:   "customer-1",
		RestaurantID: "restaurant-1",
	}

	require.NoError(t, store.Append(ctx, "order-1", []events.Event{event}))
	require.NoError(t, store.Append(ctx, "order-1", []events.Event{event}))

	stream, err := store.Load(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, stream, 1)
}

func TestMemory_LoadUnknownOrder(t *testing.T) {
	stream, err := eventstore.NewMemory().Load(context.Background(), "no-such-order")
	require.NoError(t, err)
	assert.Empty(t, stream)
}

func TestMemory_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemory()

	event := &events.OrderCreated{Envelope: events.NewEnvelope("order-1", 1)}
	require.NoError(t, store.Append(ctx, "order-1", []events.Event{event}))

	first, err := store.Load(ctx, "order-1")
	require.NoError(t, err)
	first[0] = nil

	second, err := store.Load(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, second[0])
}
