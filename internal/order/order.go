// Package order holds the event-sourced Order aggregate. The aggregate is
// mutated only by applying domain events; current state is derived by
// replaying the event stream, and new events are buffered until persisted.
package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

// Status of an order. Pending orders may be confirmed or cancelled;
// Confirmed is terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Item is a single ordered position. UnitPrice is in minor currency units.
type Item struct {
	ItemID    string
	Name      string
	UnitPrice int64
	Quantity  int
}

// Subtotal returns the item's price multiplied by its quantity.
func (i Item) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is the aggregate root. All fields are private: state changes go
// through apply, never through assignment.
type Order struct {
	id           string
	customerID   string
	restaurantID string
	items        []Item
	totalAmount  int64
	status       Status
	paymentID    string
	createdAt    time.Time
	updatedAt    time.Time
	version      int

	uncommitted []events.Event
}

// Create validates the input and returns a new Pending order with a single
// uncommitted OrderCreated event at version 1. On any violation it returns a
// ValidationError and no order.
func Create(customerID, restaurantID string, items []Item, totalAmount int64) (*Order, error) {
	if err := validateCreate(customerID, restaurantID, items, totalAmount); err != nil {
		return nil, err
	}

	o := &Order{}

	event := &events.OrderCreated{
		Envelope:     events.NewEnvelope(uuid.NewString(), 1),
		CustomerID:   customerID,
		RestaurantID: restaurantID,
		Items:        itemsToEvent(items),
		TotalAmount:  totalAmount,
	}

	if err := o.apply(event); err != nil {
		return nil, err
	}
	o.record(event)

	return o, nil
}

// FromEvents reconstructs an order by replaying its event stream. The replay
// goes through the same apply path as live mutation, so an identical sequence
// always produces identical state. An empty stream is a ValidationError.
func FromEvents(stream []events.Event) (*Order, error) {
	if len(stream) == 0 {
		return nil, validationErrorf("cannot reconstruct order from an empty event stream")
	}

	o := &Order{}
	for _, event := range stream {
		if err := o.apply(event); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// Confirm marks the order as paid. The order must be Pending and paymentID
// must not be blank.
func (o *Order) Confirm(paymentID string) error {
	if o.status != StatusPending {
		return &InvalidStateError{Op: "confirm", Status: o.status}
	}
	if paymentID == "" {
		return validationErrorf("payment id must not be blank")
	}

	event := &events.OrderConfirmed{
		Envelope:  events.NewEnvelope(o.id, o.version+1),
		OrderID:   o.id,
		PaymentID: paymentID,
	}

	if err := o.apply(event); err != nil {
		return err
	}
	o.record(event)

	return nil
}

// Cancel marks the order as cancelled. Cancelling an already cancelled order
// is a no-op; cancelling a confirmed order is an InvalidStateError.
func (o *Order) Cancel(reason string) error {
	if o.status == StatusCancelled {
		return nil
	}
	if o.status == StatusConfirmed {
		return &InvalidStateError{Op: "cancel", Status: o.status}
	}

	event := &events.OrderCancelled{
		Envelope: events.NewEnvelope(o.id, o.version+1),
		OrderID:  o.id,
		Reason:   reason,
	}

	if err := o.apply(event); err != nil {
		return err
	}
	o.record(event)

	return nil
}

// PopUncommitted returns the buffered events and clears the buffer. It is the
// only handoff point to persistence: callers append the returned events to
// the event store.
func (o *Order) PopUncommitted() []events.Event {
	popped := o.uncommitted
	o.uncommitted = nil
	return popped
}

func (o *Order) apply(event events.Event) error {
	switch e := event.(type) {
	case *events.OrderCreated:
		o.id = e.AggregateID
		o.customerID = e.CustomerID
		o.restaurantID = e.RestaurantID
		o.items = itemsFromEvent(e.Items)
		o.totalAmount = e.TotalAmount
		o.status = StatusPending
		o.createdAt = e.OccurredOn
	case *events.OrderConfirmed:
		o.status = StatusConfirmed
		o.paymentID = e.PaymentID
	case *events.OrderCancelled:
		o.status = StatusCancelled
	default:
		return validationErrorf("unsupported event type %T", event)
	}

	o.version = event.Meta().Version
	o.updatedAt = event.Meta().OccurredOn

	return nil
}

func (o *Order) record(event events.Event) {
	o.uncommitted = append(o.uncommitted, event)
}

func validateCreate(customerID, restaurantID string, items []Item, totalAmount int64) error {
	if customerID == "" {
		return validationErrorf("customer id must not be empty")
	}
	if restaurantID == "" {
		return validationErrorf("restaurant id must not be empty")
	}
	if len(items) == 0 {
		return validationErrorf("order must contain at least one item")
	}
	if totalAmount <= 0 {
		return validationErrorf("total amount must be positive, got %d", totalAmount)
	}

	var sum int64
	for _, item := range items {
		if item.Quantity <= 0 {
			return validationErrorf("item %s has non-positive quantity %d", item.ItemID, item.Quantity)
		}
		sum += item.Subtotal()
	}
	if sum != totalAmount {
		return validationErrorf("total amount %d does not match sum of items %d", totalAmount, sum)
	}

	return nil
}

func (o *Order) ID() string           { return o.id }
func (o *Order) CustomerID() string   { return o.customerID }
func (o *Order) RestaurantID() string { return o.restaurantID }
func (o *Order) TotalAmount() int64   { return o.totalAmount }
func (o *Order) Status() Status       { return o.status }
func (o *Order) PaymentID() string    { return o.paymentID }
func (o *Order) Version() int         { return o.version }
func (o *Order) CreatedAt() time.Time { return o.createdAt }
func (o *Order) UpdatedAt() time.Time { return o.updatedAt }

// Items returns a copy of the ordered items.
func (o *Order) Items() []Item {
	items := make([]Item, len(o.items))
	copy(items, o.items)
	return items
}

func itemsToEvent(items []Item) []events.OrderItem {
	converted := make([]events.OrderItem, len(items))
	for i, item := range items {
		converted[i] = events.OrderItem{
			ItemID:    item.ItemID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return converted
}

func itemsFromEvent(items []events.OrderItem) []Item {
	converted := make([]Item, len(items))
	for i, item := range items {
		converted[i] = Item{
			ItemID:    item.ItemID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}
	return converted
}
