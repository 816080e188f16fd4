package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnknownEventType is returned when an event name is outside the closed
// set of event variants handled by this service.
var ErrUnknownEventType = errors.New("unknown event type")

var topicsByEvent = map[string]string{
	"OrderCreated":               "order-created",
	"CartValidationCompleted":    "cart-validation-completed",
	"PaymentProcessingCompleted": "payment-processing-completed",
	"OrderSagaStarted":           "order-saga-started",
	"CartValidationRequested":    "cart-validation-requested",
	"PaymentInitiationRequested": "payment-initiation-requested",
	"OrderConfirmed":             "order-confirmed",
	"OrderCancelled":             "order-cancelled",
}

// TopicFor maps an event name to the topic it is published on.
func TopicFor(eventName string) (string, error) {
	topic, ok := topicsByEvent[eventName]
	if !ok {
		return "", errors.Wrap(ErrUnknownEventType, eventName)
	}

	return topic, nil
}

// DeadLetterTopic returns the dead-letter companion of a topic.
func DeadLetterTopic(topic string) string {
	return topic + ".dead-letter"
}

// New returns a zero value of the event variant with the given name.
//
// The switch is deliberately closed: replay and dead-letter deserialization
// must dispatch over exactly the same variant set as live consumption.
func New(eventName string) (Event, error) {
	switch eventName {
	case "OrderCreated":
		return &OrderCreated{}, nil
	case "CartValidationCompleted":
		return &CartValidationCompleted{}, nil
	case "PaymentProcessingCompleted":
		return &PaymentProcessingCompleted{}, nil
	case "OrderSagaStarted":
		return &OrderSagaStarted{}, nil
	case "CartValidationRequested":
		return &CartValidationRequested{}, nil
	case "PaymentInitiationRequested":
		return &PaymentInitiationRequested{}, nil
	case "OrderConfirmed":
		return &OrderConfirmed{}, nil
	case "OrderCancelled":
		return &OrderCancelled{}, nil
	default:
		return nil, errors.Wrap(ErrUnknownEventType, eventName)
	}
}

// Unmarshal decodes a raw payload into the event variant named by eventName.
func Unmarshal(eventName string, payload []byte) (Event, error) {
	event, err := New(eventName)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, &DeserializationError{EventType: eventName, Err: err}
	}

	return event, nil
}
