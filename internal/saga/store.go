package saga

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by stores when no saga exists for an order.
var ErrNotFound = errors.New("saga not found")

// StateStore persists saga instances, keyed by order ID. Implementations must
// tolerate concurrent saves for different orders; per order, last writer wins.
type StateStore interface {
	// Save upserts the instance under its order ID.
	Save(ctx context.Context, instance *Instance) error

	// FindByOrderID returns the saga for the order, or ErrNotFound.
	FindByOrderID(ctx context.Context, orderID string) (*Instance, error)

	// FindByState returns all sagas currently in the given state.
	FindByState(ctx context.Context, state State) ([]*Instance, error)

	// FindInProgress returns all sagas in non-terminal states.
	FindInProgress(ctx context.Context) ([]*Instance, error)

	// FindTimedOut returns non-terminal sagas not updated for longer than
	// staleAfter. It is the safety net for timeouts lost in a crash.
	FindTimedOut(ctx context.Context, staleAfter time.Duration) ([]*Instance, error)

	// DeleteByOrderID removes the saga. Deleting an unknown order is a no-op.
	DeleteByOrderID(ctx context.Context, orderID string) error
}
