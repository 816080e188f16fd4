// Package events defines the closed set of domain events exchanged by the
// order saga, the topics they travel on and the marshaling glue between
// event structs and Watermill messages.
package events

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// Envelope carries the metadata common to every event. It is embedded in all
// event structs, so the fields are flattened into the event's JSON payload.
type Envelope struct {
	EventID     string    `json:"eventId"`
	AggregateID string    `json:"aggregateId"`
	OccurredOn  time.Time `json:"occurredOn"`
	Version     int       `json:"version"`
}

// NewEnvelope returns an envelope with a fresh event ID and the current UTC time.
func NewEnvelope(aggregateID string, version int) Envelope {
	return Envelope{
		EventID:     watermill.NewUUID(),
		AggregateID: aggregateID,
		OccurredOn:  time.Now().UTC(),
		Version:     version,
	}
}

// Meta makes every event expose its envelope through the Event interface.
func (e Envelope) Meta() Envelope {
	return e
}

// Event is implemented by all event structs via the embedded Envelope.
type Event interface {
	Meta() Envelope
}

// OrderItem is a single position of an order. UnitPrice is expressed in minor
// currency units (cents).
type OrderItem struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
}

// Subtotal returns the item's price multiplied by its quantity.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// PaymentStatus is the outcome reported by the payment service.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentTimeout   PaymentStatus = "TIMEOUT"
)

// OrderCreated starts the saga. It is also the first event of the order
// aggregate's stream; AggregateID is the order ID.
type OrderCreated struct {
	Envelope

	CustomerID   string      `json:"customerId"`
	RestaurantID string      `json:"restaurantId"`
	Items        []OrderItem `json:"items"`
	TotalAmount  int64       `json:"totalAmount"`
}

// CartValidationCompleted is the cart service's response to a validation request.
type CartValidationCompleted struct {
	Envelope

	OrderID          string   `json:"orderId"`
	Valid            bool     `json:"valid"`
	ValidationErrors []string `json:"errors"`
}

// PaymentProcessingCompleted is the payment service's response to an
// initiation request.
type PaymentProcessingCompleted struct {
	Envelope

	OrderID       string        `json:"orderId"`
	PaymentID     string        `json:"paymentId"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
}

// OrderSagaStarted announces that orchestration of an order has begun.
type OrderSagaStarted struct {
	Envelope

	CustomerID   string      `json:"customerId"`
	RestaurantID string      `json:"restaurantId"`
	Items        []OrderItem `json:"items"`
	TotalAmount  int64       `json:"totalAmount"`
}

// CartValidationRequested asks the cart service to validate the order's cart.
type CartValidationRequested struct {
	Envelope

	OrderID    string `json:"orderId"`
	CartID     string `json:"cartId"`
	CustomerID string `json:"customerId"`
}

// PaymentInitiationRequested asks the payment service to charge the customer.
// Amount is expressed in minor currency units.
type PaymentInitiationRequested struct {
	Envelope

	OrderID    string `json:"orderId"`
	PaymentID  string `json:"paymentId"`
	Amount     int64  `json:"amount"`
	CustomerID string `json:"customerId"`
}

// OrderConfirmed records a successful order; part of the aggregate's stream.
type OrderConfirmed struct {
	Envelope

	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
}

// OrderCancelled records a cancelled order; part of the aggregate's stream.
type OrderCancelled struct {
	Envelope

	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}
