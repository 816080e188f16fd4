package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS order_events (
	event_id     VARCHAR(36)  NOT NULL,
	aggregate_id VARCHAR(36)  NOT NULL,
	event_type   VARCHAR(64)  NOT NULL,
	payload      JSON         NOT NULL,
	version      INT          NOT NULL,
	occurred_on  TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (event_id),
	UNIQUE KEY uq_order_events_stream (aggregate_id, version)
);`

// MySQL stores order event streams in the order_events table.
type MySQL struct {
	db *sql.DB
}

// NewMySQL creates the store, initializing the schema.
func NewMySQL(db *sql.DB) (*MySQL, error) {
	if db == nil {
		return nil, errors.New("missing db")
	}

	if _, err := db.Exec(mysqlSchema); err != nil {
		return nil, errors.Wrap(err, "initializing order_events schema")
	}

	return &MySQL{db: db}, nil
}

// Append implements order.EventStore. Events already present (same event ID)
// are skipped, so the append is idempotent under redelivery.
func (s *MySQL) Append(ctx context.Context, orderID string, stream []events.Event) error {
	if len(stream) == 0 {
		return nil
	}

	marshaler := events.Marshaler{}

	query := "INSERT IGNORE INTO order_events " +
		"(event_id, aggregate_id, event_type, payload, version, occurred_on) VALUES " +
		strings.TrimSuffix(strings.Repeat("(?, ?, ?, ?, ?, ?),", len(stream)), ",")

	var args []any
	for _, event := range stream {
		payload, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, "marshaling event payload")
		}

		meta := event.Meta()
		args = append(args, meta.EventID, orderID, marshaler.Name(event), payload, meta.Version, meta.OccurredOn)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "appending order events")
}

// Load implements order.EventStore, returning the stream in version order.
func (s *MySQL) Load(ctx context.Context, orderID string) ([]events.Event, error) {
	rows, err := s.db.QueryContext(
		ctx,
		"SELECT event_type, payload FROM order_events WHERE aggregate_id = ? ORDER BY version ASC",
		orderID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying order events")
	}
	defer rows.Close()

	var stream []events.Event
	for rows.Next() {
		var (
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&eventType, &payload); err != nil {
			return nil, errors.Wrap(err, "scanning order event")
		}

		event, err := events.Unmarshal(eventType, payload)
		if err != nil {
			return nil, err
		}

		stream = append(stream, event)
	}

	return stream, errors.Wrap(rows.Err(), "iterating order events")
}
