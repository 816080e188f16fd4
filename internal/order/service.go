package order

import (
	"context"

	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

// EventStore is the append-only store of order event streams.
type EventStore interface {
	// Append adds events to the order's stream. Appending an event whose ID
	// is already present is a no-op for that event.
	Append(ctx context.Context, orderID string, stream []events.Event) error

	// Load returns the order's stream in version order. A missing order
	// yields an empty stream and no error.
	Load(ctx context.Context, orderID string) ([]events.Event, error)
}

// Service loads, mutates and persists order aggregates on top of an EventStore.
type Service struct {
	store EventStore
}

// NewService creates a Service.
func NewService(store EventStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("missing event store")
	}

	return &Service{store: store}, nil
}

// RecordCreated persists the creation event of an order received from the
// inbound channel. The event is validated with the same rules as Create;
// a stream that already exists makes this a no-op.
func (s *Service) RecordCreated(ctx context.Context, event *events.OrderCreated) error {
	stream, err := s.store.Load(ctx, event.AggregateID)
	if err != nil {
		return errors.Wrap(err, "loading order stream")
	}
	if len(stream) > 0 {
		return nil
	}

	if err := validateCreate(event.CustomerID, event.RestaurantID, itemsFromEvent(event.Items), event.TotalAmount); err != nil {
		return err
	}

	return errors.Wrap(s.store.Append(ctx, event.AggregateID, []events.Event{event}), "appending creation event")
}

// Confirm loads the order, confirms it with paymentID and persists the
// resulting event, which is also returned for publishing. Confirming an
// order already confirmed with the same payment returns the original
// confirmation event, so redeliveries republish instead of failing.
func (s *Service) Confirm(ctx context.Context, orderID, paymentID string) (*events.OrderConfirmed, error) {
	stream, err := s.store.Load(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "loading order stream")
	}
	if len(stream) == 0 {
		return nil, errors.Wrap(ErrNotFound, orderID)
	}

	o, err := FromEvents(stream)
	if err != nil {
		return nil, err
	}

	if o.Status() == StatusConfirmed && o.PaymentID() == paymentID {
		for _, event := range stream {
			if confirmed, ok := event.(*events.OrderConfirmed); ok {
				return confirmed, nil
			}
		}
	}

	if err := o.Confirm(paymentID); err != nil {
		return nil, err
	}

	pending := o.PopUncommitted()
	if err := s.store.Append(ctx, orderID, pending); err != nil {
		return nil, errors.Wrap(err, "appending confirmation event")
	}

	return pending[0].(*events.OrderConfirmed), nil
}

// Cancel loads the order, cancels it and persists the resulting event, which
// is returned for publishing. A nil event with nil error means the order was
// already cancelled.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*events.OrderCancelled, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if err := o.Cancel(reason); err != nil {
		return nil, err
	}

	pending := o.PopUncommitted()
	if len(pending) == 0 {
		return nil, nil
	}

	if err := s.store.Append(ctx, orderID, pending); err != nil {
		return nil, errors.Wrap(err, "appending cancellation event")
	}

	return pending[0].(*events.OrderCancelled), nil
}

// Get reconstructs the current state of an order.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.load(ctx, orderID)
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	stream, err := s.store.Load(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "loading order stream")
	}
	if len(stream) == 0 {
		return nil, errors.Wrap(ErrNotFound, orderID)
	}

	return FromEvents(stream)
}
