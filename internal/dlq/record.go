package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned by stores when no record exists for an event.
var ErrRecordNotFound = errors.New("dead-letter record not found")

// ReplayStatus is the replay lifecycle of a dead-lettered event.
type ReplayStatus string

const (
	// StatusPending marks a captured event awaiting operator action.
	StatusPending ReplayStatus = "PENDING"

	// StatusReplayed marks an event successfully republished to its
	// original topic.
	StatusReplayed ReplayStatus = "REPLAYED"

	// StatusFailed marks an event whose replay attempt failed.
	StatusFailed ReplayStatus = "FAILED"

	// StatusSkipped marks an event an operator chose not to replay.
	StatusSkipped ReplayStatus = "SKIPPED"
)

// Record is a captured poison event with enough context to replay it.
type Record struct {
	EventID       string          `json:"eventId"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Topic         string          `json:"topic"`
	Payload       json.RawMessage `json:"payload"`
	FailureReason string          `json:"failureReason"`
	FailedAt      time.Time       `json:"failedAt"`
	Status        ReplayStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastResult    string          `json:"lastResult,omitempty"`
}

// Stats counts records per replay status.
type Stats struct {
	Pending  int `json:"pending"`
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// RecordStore persists dead-letter records, keyed by event ID.
type RecordStore interface {
	// Insert stores a new record. Inserting an event ID already present is
	// a no-op, so capture is idempotent under redelivery.
	Insert(ctx context.Context, record *Record) error

	// FindByEventID returns the record, or ErrRecordNotFound.
	FindByEventID(ctx context.Context, eventID string) (*Record, error)

	// FindByStatus returns all records with the given status, newest first.
	FindByStatus(ctx context.Context, status ReplayStatus) ([]*Record, error)

	// Update overwrites the record's mutable fields. Updating an unknown
	// event returns ErrRecordNotFound.
	Update(ctx context.Context, record *Record) error

	// Stats returns per-status counts.
	Stats(ctx context.Context) (Stats, error)
}
