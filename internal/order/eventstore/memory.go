// Package eventstore provides append-only stores for order event streams:
// an in-memory one for in-process deployments and tests, and a MySQL one.
package eventstore

import (
	"context"
	"sync"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

// Memory is an in-memory event store. Streams are kept per order; appends
// with an already stored event ID are skipped.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]events.Event
	seen    map[string]struct{}
}

// NewMemory creates an empty in-memory event store.
func NewMemory() *Memory {
	return &Memory{
		streams: map[string][]events.Event{},
		seen:    map[string]struct{}{},
	}
}

// Append implements order.EventStore.
func (m *Memory) Append(ctx context.Context, orderID string, stream []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, event := range stream {
		id := event.Meta().EventID
		if _, ok := m.seen[id]; ok {
			continue
		}
		m.seen[id] = struct{}{}
		m.streams[orderID] = append(m.streams[orderID], event)
	}

	return nil
}

// Load implements order.EventStore.
func (m *Memory) Load(ctx context.Context, orderID string) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[orderID]
	copied := make([]events.Event, len(stream))
	copy(copied, stream)

	return copied, nil
}
