package dlq

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS dead_letter_events (
	event_id       VARCHAR(36)  NOT NULL,
	aggregate_id   VARCHAR(36)  NOT NULL,
	event_type     VARCHAR(64)  NOT NULL,
	topic          VARCHAR(128) NOT NULL,
	payload        JSON         NOT NULL,
	failure_reason TEXT         NOT NULL,
	failed_at      TIMESTAMP(6) NOT NULL,
	status         VARCHAR(16)  NOT NULL,
	attempts       INT          NOT NULL DEFAULT 0,
	last_result    TEXT         NOT NULL,
	PRIMARY KEY (event_id),
	KEY idx_dead_letter_events_status (status)
);`

// MySQLStore persists dead-letter records in the dead_letter_events table.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore creates the store, initializing the schema.
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, errors.New("missing db")
	}

	if _, err := db.Exec(mysqlSchema); err != nil {
		return nil, errors.Wrap(err, "initializing dead_letter_events schema")
	}

	return &MySQLStore{db: db}, nil
}

// Insert stores the record unless its event ID is already present.
func (s *MySQLStore) Insert(ctx context.Context, record *Record) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT IGNORE INTO dead_letter_events
			(event_id, aggregate_id, event_type, topic, payload,
			 failure_reason, failed_at, status, attempts, last_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.EventID,
		record.AggregateID,
		record.EventType,
		record.Topic,
		record.Payload,
		record.FailureReason,
		record.FailedAt,
		string(record.Status),
		record.Attempts,
		record.LastResult,
	)

	return errors.Wrap(err, "inserting dead-letter record")
}

// FindByEventID returns the record, or ErrRecordNotFound.
func (s *MySQLStore) FindByEventID(ctx context.Context, eventID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectRecords+" WHERE event_id = ?", eventID)

	record, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}

	return record, err
}

// FindByStatus returns all records with the given status, newest first.
func (s *MySQLStore) FindByStatus(ctx context.Context, status ReplayStatus) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+" WHERE status = ? ORDER BY failed_at DESC", string(status))
	if err != nil {
		return nil, errors.Wrap(err, "querying dead-letter records")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, errors.Wrap(rows.Err(), "iterating dead-letter records")
}

// Update overwrites the record's mutable fields, or returns ErrRecordNotFound.
func (s *MySQLStore) Update(ctx context.Context, record *Record) error {
	result, err := s.db.ExecContext(
		ctx,
		"UPDATE dead_letter_events SET status = ?, attempts = ?, last_result = ? WHERE event_id = ?",
		string(record.Status),
		record.Attempts,
		record.LastResult,
		record.EventID,
	)
	if err != nil {
		return errors.Wrap(err, "updating dead-letter record")
	}

	// Affected is zero both for a missing row and for an unchanged value.
	affected, err := result.RowsAffected()
	if err != nil || affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM dead_letter_events WHERE event_id = ?)", record.EventID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking dead-letter record existence")
	}
	if !exists {
		return ErrRecordNotFound
	}

	return nil
}

// Stats returns per-status counts.
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM dead_letter_events GROUP BY status")
	if err != nil {
		return Stats{}, errors.Wrap(err, "querying dead-letter stats")
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, errors.Wrap(err, "scanning dead-letter stats")
		}

		switch ReplayStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusReplayed:
			stats.Replayed = count
		case StatusFailed:
			stats.Failed = count
		case StatusSkipped:
			stats.Skipped = count
		}
		stats.Total += count
	}

	return stats, errors.Wrap(rows.Err(), "iterating dead-letter stats")
}

const selectRecords = `SELECT event_id, aggregate_id, event_type, topic, payload,
	failure_reason, failed_at, status, attempts, last_result FROM dead_letter_events`

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		record Record
		status string
	)

	err := scan(
		&record.EventID,
		&record.AggregateID,
		&record.EventType,
		&record.Topic,
		&record.Payload,
		&record.FailureReason,
		&record.FailedAt,
		&status,
		&record.Attempts,
		&record.LastResult,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scanning dead-letter record")
	}

	record.Status = ReplayStatus(status)

	return &record, nil
}
