package events_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

func TestTopicFor(t *testing.T) {
	topics := map[string]string{
		"OrderCreated":               "order-created",
		"CartValidationCompleted":    "cart-validation-completed",
		"PaymentProcessingCompleted": "payment-processing-completed",
		"OrderSagaStarted":           "order-saga-started",
		"CartValidationRequested":    "cart-validation-requested",
		"PaymentInitiationRequested": "payment-initiation-requested",
		"OrderConfirmed":             "order-confirmed",
		"OrderCancelled":             "order-cancelled",
	}

	for eventName, want := range topics {
		topic, err := events.TopicFor(eventName)
		require.NoError(t, err, eventName)
		assert.Equal(t, want, topic)
	}

	_, err := events.TopicFor("NoSuchEvent")
	assert.True(t, errors.Is(err, events.ErrUnknownEventType))
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "order-created.dead-letter", events.DeadLetterTopic("order-created"))
}

func TestUnmarshal(t *testing.T) {
	event, err := events.Unmarshal("OrderCancelled", []byte(`{"orderId":"order-1","reason":"item unavailable"}`))
	require.NoError(t, err)

	cancelled, ok := event.(*events.OrderCancelled)
	require.True(t, ok)
	assert.Equal(t, "order-1", cancelled.OrderID)
	assert.Equal(t, "item unavailable", cancelled.Reason)
}

func TestUnmarshal_unknownType(t *testing.T) {
	_, err := events.Unmarshal("NoSuchEvent", []byte(`{}`))
	assert.True(t, errors.Is(err, events.ErrUnknownEventType))
}

func TestUnmarshal_badPayload(t *testing.T) {
	_, err := events.Unmarshal("OrderCancelled", []byte("not json"))
	require.Error(t, err)
	assert.True(t, events.IsDeserializationError(err))
}
