package dlq

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory RecordStore, for tests and for running without
// a database.
type MemoryStore struct {
	lock    sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

// Insert stores the record unless its event ID is already present.
func (m *MemoryStore) Insert(_ context.Context, record *Record) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.records[record.EventID]; ok {
		return nil
	}

	m.records[record.EventID] = copyRecord(record)

	return nil
}

// FindByEventID returns a copy of the record, or ErrRecordNotFound.
func (m *MemoryStore) FindByEventID(_ context.Context, eventID string) (*Record, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	record, ok := m.records[eventID]
	if !ok {
		return nil, ErrRecordNotFound
	}

	return copyRecord(record), nil
}

// FindByStatus returns all records with the given status, newest first.
func (m *MemoryStore) FindByStatus(_ context.Context, status ReplayStatus) ([]*Record, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var found []*Record
	for _, record := range m.records {
		if record.Status == status {
			found = append(found, copyRecord(record))
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].FailedAt.After(found[j].FailedAt)
	})

	return found, nil
}

// Update overwrites the record, or returns ErrRecordNotFound.
func (m *MemoryStore) Update(_ context.Context, record *Record) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.records[record.EventID]; !ok {
		return ErrRecordNotFound
	}

	m.records[record.EventID] = copyRecord(record)

	return nil
}

// Stats returns per-status counts.
func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var stats Stats
	for _, record := range m.records {
		switch record.Status {
		case StatusPending:
			stats.Pending++
		case StatusReplayed:
			stats.Replayed++
		case StatusFailed:
			stats.Failed++
		case StatusSkipped:
			stats.Skipped++
		}
		stats.Total++
	}

	return stats, nil
}

func copyRecord(record *Record) *Record {
	copied := *record
	copied.Payload = make([]byte, len(record.Payload))
	copy(copied.Payload, record.Payload)
	return &copied
}
