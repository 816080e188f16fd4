package store

import (
	"context"
	"sync"
	"time"

	"github.com/GyanXspy/restaurant-orders/internal/saga"
)

// Memory is an in-memory saga.StateStore and retry counter store, for tests
// and for running without a database.
type Memory struct {
	lock      sync.RWMutex
	instances map[string]*saga.Instance
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{instances: map[string]*saga.Instance{}}
}

// Save upserts the instance under its order ID.
func (m *Memory) Save(_ context.Context, instance *saga.Instance) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.instances[instance.OrderID] = instance.Copy()

	return nil
}

// FindByOrderID returns a copy of the saga for the order, or saga.ErrNotFound.
func (m *Memory) FindByOrderID(_ context.Context, orderID string) (*saga.Instance, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	instance, ok := m.instances[orderID]
	if !ok {
		return nil, saga.ErrNotFound
	}

	return instance.Copy(), nil
}

// FindByState returns all sagas currently in the given state.
func (m *Memory) FindByState(_ context.Context, state saga.State) ([]*saga.Instance, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var found []*saga.Instance
	for _, instance := range m.instances {
		if instance.State == state {
			found = append(found, instance.Copy())
		}
	}

	return found, nil
}

// FindInProgress returns all sagas in non-terminal states.
func (m *Memory) FindInProgress(_ context.Context) ([]*saga.Instance, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var found []*saga.Instance
	for _, instance := range m.instances {
		if !instance.State.Terminal() {
			found = append(found, instance.Copy())
		}
	}

	return found, nil
}

// FindTimedOut returns non-terminal sagas not updated for longer than staleAfter.
func (m *Memory) FindTimedOut(_ context.Context, staleAfter time.Duration) ([]*saga.Instance, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	cutoff := time.Now().Add(-staleAfter)

	var found []*saga.Instance
	for _, instance := range m.instances {
		if !instance.State.Terminal() && instance.UpdatedAt.Before(cutoff) {
			found = append(found, instance.Copy())
		}
	}

	return found, nil
}

// DeleteByOrderID removes the saga. Deleting an unknown order is a no-op.
func (m *Memory) DeleteByOrderID(_ context.Context, orderID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.instances, orderID)

	return nil
}

// RetryCount returns the persisted retry counter for the order's saga, or
// saga.ErrNotFound for an unknown order.
func (m *Memory) RetryCount(_ context.Context, orderID string) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	instance, ok := m.instances[orderID]
	if !ok {
		return 0, saga.ErrNotFound
	}

	return instance.RetryCount, nil
}

// SetRetryCount updates the persisted retry counter for the order's saga.
func (m *Memory) SetRetryCount(_ context.Context, orderID string, count int) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	instance, ok := m.instances[orderID]
	if !ok {
		return saga.ErrNotFound
	}

	instance.RetryCount = count

	return nil
}
