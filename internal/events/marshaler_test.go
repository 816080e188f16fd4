package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

func TestMarshaler_RoundTrip(t *testing.T) {
	marshaler := events.Marshaler{}

	event := &events.OrderCreated{
		Envelope:     events.NewEnvelope("order-1", 1),
		CustomerID:   "customer-1",
		RestaurantID: "restaurant-1",
		Items: []events.OrderItem{
			{ItemID: "item-1", Name: "Margherita", UnitPrice: 1299, Quantity: 2},
		},
		TotalAmount: 2598,
	}

	msg, err := marshaler.Marshal(event)
	require.NoError(t, err)

	assert.Equal(t, event.EventID, msg.UUID)
	assert.Equal(t, "OrderCreated", marshaler.NameFromMessage(msg))

	decoded := &events.OrderCreated{}
	require.NoError(t, marshaler.Unmarshal(msg, decoded))
	assert.Equal(t, event, decoded)
}

func TestMarshaler_UnmarshalError(t *testing.T) {
	marshaler := events.Marshaler{}

	event := &events.OrderConfirmed{Envelope: events.NewEnvelope("order-1", 2)}
	msg, err := marshaler.Marshal(event)
	require.NoError(t, err)
	msg.Payload = []byte("not json")

	err = marshaler.Unmarshal(msg, &events.OrderConfirmed{})
	require.Error(t, err)
	assert.True(t, events.IsDeserializationError(err))
}

func TestMarshaler_Name(t *testing.T) {
	marshaler := events.Marshaler{}

	assert.Equal(t, "OrderCreated", marshaler.Name(&events.OrderCreated{}))
	assert.Equal(t, "PaymentProcessingCompleted", marshaler.Name(&events.PaymentProcessingCompleted{}))
}
