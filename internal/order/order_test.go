package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/order"
)

func TestCreate(t *testing.T) {
	o, err := order.Create("customer-1", "restaurant-1", []order.Item{
		{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
	}, 2598)
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status())
	assert.Equal(t, "customer-1", o.CustomerID())
	assert.Equal(t, "restaurant-1", o.RestaurantID())
	assert.Equal(t, int64(2598), o.TotalAmount())
	assert.Equal(t, 1, o.Version())
	assert.NotEmpty(t, o.ID())

	uncommitted := o.PopUncommitted()
	require.Len(t, uncommitted, 1)
	assert.Empty(t, o.PopUncommitted())
}

func TestCreate_validation(t *testing.T) {
	validItems := []order.Item{
		{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
	}

	testCases := []struct {
		name         string
		customerID   string
		restaurantID string
		items        []order.Item
		totalAmount  int64
	}{
		{
			name:         "missing customer",
			restaurantID: "restaurant-1",
			items:        validItems,
			totalAmount:  2598,
		},
		{
			name:        "missing restaurant",
			customerID:  "customer-1",
			items:       validItems,
			totalAmount: 2598,
		},
		{
			name:         "no items",
			customerID:   "customer-1",
			restaurantID: "restaurant-1",
			totalAmount:  2598,
		},
		{
			name:         "non-positive total",
			customerID:   "customer-1",
			restaurantID: "restaurant-1",
			items:        validItems,
			totalAmount:  0,
		},
		{
			name:         "total does not match items",
			customerID:   "customer-1",
			restaurantID: "restaurant-1",
			items:        validItems,
			totalAmount:  9999,
		},
		{
			name:         "non-positive quantity",
			customerID:   "customer-1",
			restaurantID: "restaurant-1",
			items: []order.Item{
				{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 0},
			},
			totalAmount: 2598,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := order.Create(tc.customerID, tc.restaurantID, tc.items, tc.totalAmount)
			require.Error(t, err)
			assert.True(t, order.IsValidationError(err), "expected validation error, got %v", err)
			assert.Nil(t, o)
		})
	}
}

func TestConfirm(t *testing.T) {
	o := newTestOrder(t)
	o.PopUncommitted()

	require.NoError(t, o.Confirm("payment-1"))
	assert.Equal(t, order.StatusConfirmed, o.Status())
	assert.Equal(t, "payment-1", o.PaymentID())
	assert.Equal(t, 2, o.Version())

	err := o.Confirm("payment-2")
	require.Error(t, err)
	assert.True(t, order.IsInvalidStateError(err))
}

func TestConfirm_blankPayment(t *testing.T) {
	o := newTestOrder(t)

	err := o.Confirm("")
	require.Error(t, err)
	assert.True(t, order.IsValidationError(err))
	assert.Equal(t, order.StatusPending, o.Status())
}

func TestCancel(t *testing.T) {
	o := newTestOrder(t)
	o.PopUncommitted()

	require.NoError(t, o.Cancel("customer changed their mind"))
	assert.Equal(t, order.StatusCancelled, o.Status())
	assert.Equal(t, 2, o.Version())

	// Already cancelled, absorbing.
	require.NoError(t, o.Cancel("again"))
	assert.Equal(t, 2, o.Version())
	assert.Len(t, o.PopUncommitted(), 1)
}

func TestCancel_confirmedOrder(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.Confirm("payment-1"))

	err := o.Cancel("too late")
	require.Error(t, err)
	assert.True(t, order.IsInvalidStateError(err))
	assert.Equal(t, order.StatusConfirmed, o.Status())
}

func TestFromEvents_deterministic(t *testing.T) {
	o := newTestOrder(t)
	require.NoError(t, o.Confirm("payment-1"))
	stream := o.PopUncommitted()

	first, err := order.FromEvents(stream)
	require.NoError(t, err)
	second, err := order.FromEvents(stream)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, order.StatusConfirmed, first.Status())
	assert.Equal(t, "payment-1", first.PaymentID())
	assert.Equal(t, 2, first.Version())
	assert.Equal(t, o.UpdatedAt(), first.UpdatedAt())
}

func TestFromEvents_emptyStream(t *testing.T) {
	o, err := order.FromEvents(nil)
	require.Error(t, err)
	assert.True(t, order.IsValidationError(err))
	assert.Nil(t, o)
}

func newTestOrder(t *testing.T) *order.Order {
	t.Helper()

	o, err := order.Create("customer-1", "restaurant-1", []order.Item{
		{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
	}, 2598)
	require.NoError(t, err)

	return o
}
