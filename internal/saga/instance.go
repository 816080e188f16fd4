package saga

import (
	"time"

	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

// Instance is the persisted progress of one order's saga. It snapshots the
// order's items and amount so compensations can be built without reloading
// the aggregate.
type Instance struct {
	OrderID       string
	CustomerID    string
	RestaurantID  string
	Items         []events.OrderItem
	TotalAmount   int64
	State         State
	PaymentID     string
	FailureReason string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewInstance creates a saga instance in StateStarted from the creation event.
func NewInstance(event *events.OrderCreated, now time.Time) *Instance {
	items := make([]events.OrderItem, len(event.Items))
	copy(items, event.Items)

	return &Instance{
		OrderID:      event.AggregateID,
		CustomerID:   event.CustomerID,
		RestaurantID: event.RestaurantID,
		Items:        items,
		TotalAmount:  event.TotalAmount,
		State:        StateStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TransitionTo moves the instance to next if the edge is legal, bumping
// UpdatedAt so that it strictly increases.
func (i *Instance) TransitionTo(next State, now time.Time) error {
	if !i.State.CanTransitionTo(next) {
		return errors.Errorf("illegal saga transition %s -> %s for order %s", i.State, next, i.OrderID)
	}

	i.State = next
	i.touch(now)

	return nil
}

// Fail forces the instance into StateFailed with the given reason. Calling it
// on an already terminal instance is a no-op.
func (i *Instance) Fail(reason string, now time.Time) {
	if i.State.Terminal() {
		return
	}

	i.State = StateFailed
	i.FailureReason = reason
	i.touch(now)
}

// Copy returns a deep copy. Stores hand out copies so that callers never
// share mutable state.
func (i *Instance) Copy() *Instance {
	copied := *i
	copied.Items = make([]events.OrderItem, len(i.Items))
	copy(copied.Items, i.Items)
	return &copied
}

func (i *Instance) touch(now time.Time) {
	if !now.After(i.UpdatedAt) {
		now = i.UpdatedAt.Add(time.Nanosecond)
	}
	i.UpdatedAt = now
}
