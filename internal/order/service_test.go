package order_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/order"
	"github.com/GyanXspy/restaurant-orders/internal/order/eventstore"
)

func TestService_RecordCreated(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	created := newCreatedEvent(t)
	require.NoError(t, service.RecordCreated(ctx, created))

	o, err := service.Get(ctx, created.AggregateID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status())

	// Redelivery is a no-op.
	require.NoError(t, service.RecordCreated(ctx, created))

	o, err = service.Get(ctx, created.AggregateID)
	require.NoError(t, err)
	assert.Equal(t, 1, o.Version())
}

func TestService_RecordCreated_invalid(t *testing.T) {
	service := newTestService(t)

	created := newCreatedEvent(t)
	created.TotalAmount = 1

	err := service.RecordCreated(context.Background(), created)
	require.Error(t, err)
	assert.True(t, order.IsValidationError(err))
}

func TestService_Confirm(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	created := newCreatedEvent(t)
	require.NoError(t, service.RecordCreated(ctx, created))

	confirmed, err := service.Confirm(ctx, created.AggregateID, "payment-1")
	require.NoError(t, err)
	assert.Equal(t, "payment-1", confirmed.PaymentID)

	// Confirming again with the same payment returns the original event.
	again, err := service.Confirm(ctx, created.AggregateID, "payment-1")
	require.NoError(t, err)
	assert.Equal(t, confirmed.EventID, again.EventID)

	// A different payment is rejected.
	_, err = service.Confirm(ctx, created.AggregateID, "payment-2")
	require.Error(t, err)
	assert.True(t, order.IsInvalidStateError(err))
}

func TestService_Confirm_unknownOrder(t *testing.T) {
	service := newTestService(t)

	_, err := service.Confirm(context.Background(), "no-such-order", "payment-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, order.ErrNotFound))
}

func TestService_Cancel(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	created := newCreatedEvent(t)
	require.NoError(t, service.RecordCreated(ctx, created))

	cancelled, err := service.Cancel(ctx, created.AggregateID, "item unavailable")
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, "item unavailable", cancelled.Reason)

	// Cancelling a cancelled order yields no new event.
	cancelled, err = service.Cancel(ctx, created.AggregateID, "again")
	require.NoError(t, err)
	assert.Nil(t, cancelled)
}

func newTestService(t *testing.T) *order.Service {
	t.Helper()

	service, err := order.NewService(eventstore.NewMemory())
	require.NoError(t, err)

	return service
}

func newCreatedEvent(t *testing.T) *events.OrderCreated {
	t.Helper()

	o, err := order.Create("customer-1", "restaurant-1", []order.Item{
		{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
	}, 2598)
	require.NoError(t, err)

	return o.PopUncommitted()[0].(*events.OrderCreated)
}
