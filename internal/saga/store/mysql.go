package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/saga"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS order_sagas (
	order_id       VARCHAR(36)  NOT NULL,
	customer_id    VARCHAR(36)  NOT NULL,
	restaurant_id  VARCHAR(36)  NOT NULL,
	items_snapshot JSON         NOT NULL,
	total_amount   BIGINT       NOT NULL,
	state          VARCHAR(40)  NOT NULL,
	payment_id     VARCHAR(36)  NOT NULL DEFAULT '',
	failure_reason TEXT         NOT NULL,
	retry_count    INT          NOT NULL DEFAULT 0,
	created_at     TIMESTAMP(6) NOT NULL,
	updated_at     TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (order_id),
	KEY idx_order_sagas_state (state),
	KEY idx_order_sagas_updated_at (updated_at)
);`

// MySQL persists saga instances in the order_sagas table. It implements both
// saga.StateStore and the retry counter store.
type MySQL struct {
	db *sql.DB
}

// NewMySQL creates the store, initializing the schema.
func NewMySQL(db *sql.DB) (*MySQL, error) {
	if db == nil {
		return nil, errors.New("missing db")
	}

	if _, err := db.Exec(mysqlSchema); err != nil {
		return nil, errors.Wrap(err, "initializing order_sagas schema")
	}

	return &MySQL{db: db}, nil
}

// Save upserts the instance under its order ID.
func (s *MySQL) Save(ctx context.Context, instance *saga.Instance) error {
	items, err := json.Marshal(instance.Items)
	if err != nil {
		return errors.Wrap(err, "marshaling items snapshot")
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO order_sagas
			(order_id, customer_id, restaurant_id, items_snapshot, total_amount,
			 state, payment_id, failure_reason, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state = VALUES(state),
			payment_id = VALUES(payment_id),
			failure_reason = VALUES(failure_reason),
			retry_count = VALUES(retry_count),
			updated_at = VALUES(updated_at)`,
		instance.OrderID,
		instance.CustomerID,
		instance.RestaurantID,
		items,
		instance.TotalAmount,
		string(instance.State),
		instance.PaymentID,
		instance.FailureReason,
		instance.RetryCount,
		instance.CreatedAt,
		instance.UpdatedAt,
	)

	return errors.Wrap(err, "saving saga")
}

// FindByOrderID returns the saga for the order, or saga.ErrNotFound.
func (s *MySQL) FindByOrderID(ctx context.Context, orderID string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectSagas+" WHERE order_id = ?", orderID)

	instance, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrNotFound
	}

	return instance, err
}

// FindByState returns all sagas currently in the given state.
func (s *MySQL) FindByState(ctx context.Context, state saga.State) ([]*saga.Instance, error) {
	return s.querySagas(ctx, selectSagas+" WHERE state = ?", string(state))
}

// FindInProgress returns all sagas in non-terminal states.
func (s *MySQL) FindInProgress(ctx context.Context) ([]*saga.Instance, error) {
	return s.querySagas(ctx, selectSagas+" WHERE state NOT IN (?, ?)",
		string(saga.StateCompleted), string(saga.StateFailed))
}

// FindTimedOut returns non-terminal sagas not updated for longer than staleAfter.
func (s *MySQL) FindTimedOut(ctx context.Context, staleAfter time.Duration) ([]*saga.Instance, error) {
	return s.querySagas(ctx, selectSagas+" WHERE state NOT IN (?, ?) AND updated_at < ?",
		string(saga.StateCompleted), string(saga.StateFailed), time.Now().Add(-staleAfter))
}

// DeleteByOrderID removes the saga. Deleting an unknown order is a no-op.
func (s *MySQL) DeleteByOrderID(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM order_sagas WHERE order_id = ?", orderID)
	return errors.Wrap(err, "deleting saga")
}

// RetryCount returns the persisted retry counter for the order's saga, or
// saga.ErrNotFound for an unknown order.
func (s *MySQL) RetryCount(ctx context.Context, orderID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT retry_count FROM order_sagas WHERE order_id = ?", orderID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, saga.ErrNotFound
	}

	return count, errors.Wrap(err, "querying retry count")
}

// SetRetryCount updates the persisted retry counter for the order's saga.
func (s *MySQL) SetRetryCount(ctx context.Context, orderID string, count int) error {
	result, err := s.db.ExecContext(ctx, "UPDATE order_sagas SET retry_count = ? WHERE order_id = ?", count, orderID)
	if err != nil {
		return errors.Wrap(err, "updating retry count")
	}

	// Affected is zero both for a missing row and for an unchanged value.
	affected, err := result.RowsAffected()
	if err != nil || affected > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM order_sagas WHERE order_id = ?)", orderID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking saga existence")
	}
	if !exists {
		return saga.ErrNotFound
	}

	return nil
}

const selectSagas = `SELECT order_id, customer_id, restaurant_id, items_snapshot, total_amount,
	state, payment_id, failure_reason, retry_count, created_at, updated_at FROM order_sagas`

func (s *MySQL) querySagas(ctx context.Context, query string, args ...any) ([]*saga.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying sagas")
	}
	defer rows.Close()

	var instances []*saga.Instance
	for rows.Next() {
		instance, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}

		instances = append(instances, instance)
	}

	return instances, errors.Wrap(rows.Err(), "iterating sagas")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSaga(row scanner) (*saga.Instance, error) {
	var (
		instance saga.Instance
		items    []byte
		state    string
	)

	err := row.Scan(
		&instance.OrderID,
		&instance.CustomerID,
		&instance.RestaurantID,
		&items,
		&instance.TotalAmount,
		&state,
		&instance.PaymentID,
		&instance.FailureReason,
		&instance.RetryCount,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scanning saga")
	}

	if err := json.Unmarshal(items, &instance.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshaling items snapshot")
	}
	if instance.Items == nil {
		instance.Items = []events.OrderItem{}
	}
	instance.State = saga.State(state)

	return &instance, nil
}
