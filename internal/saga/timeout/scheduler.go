// Package timeout arms cancellable per-order deadlines for saga steps.
package timeout

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
)

// Handler runs when a timeout fires. Errors returned by the handler are
// logged by the scheduler and never escape it.
type Handler func(orderID, step string) error

// Scheduler keeps at most one pending timeout per order. Scheduling a new
// timeout for an order first cancels the previous one; firing and cancelling
// race safely. Fired handlers run on their own goroutines, off any message
// consumption path.
type Scheduler struct {
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	pending map[string]*pendingTimeout
	closed  bool
}

type pendingTimeout struct {
	step  string
	timer *time.Timer
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger watermill.LoggerAdapter) *Scheduler {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Scheduler{
		logger:  logger,
		pending: map[string]*pendingTimeout{},
	}
}

// Schedule arms a timeout for (orderID, step) that fires onFire after d.
// Any previously pending timeout for the order is cancelled first.
func (s *Scheduler) Schedule(orderID, step string, d time.Duration, onFire Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Scheduler closed, not arming timeout", watermill.LogFields{
			"order_id": orderID,
			"step":     step,
		})
		return
	}

	if prev, ok := s.pending[orderID]; ok {
		prev.timer.Stop()
	}

	s.logger.Trace("Arming step timeout", watermill.LogFields{
		"order_id": orderID,
		"step":     step,
		"duration": d.String(),
	})

	s.pending[orderID] = &pendingTimeout{
		step: step,
		timer: time.AfterFunc(d, func() {
			s.fire(orderID, step, onFire)
		}),
	}
}

// Cancel drops any pending timeout for the order. Cancelling an unknown or
// already fired timeout is a no-op.
func (s *Scheduler) Cancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[orderID]; ok {
		prev.timer.Stop()
		delete(s.pending, orderID)

		s.logger.Trace("Cancelled step timeout", watermill.LogFields{
			"order_id": orderID,
		})
	}
}

// Pending returns the step of the order's pending timeout, if any.
func (s *Scheduler) Pending(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[orderID]; ok {
		return p.step, true
	}
	return "", false
}

// Close cancels all pending timeouts. Handlers already running are not
// interrupted.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for orderID, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, orderID)
	}

	return nil
}

func (s *Scheduler) fire(orderID, step string, onFire Handler) {
	s.mu.Lock()
	// A Schedule call may have replaced this timeout after the timer fired
	// but before we got here; only the still-current entry is removed.
	if p, ok := s.pending[orderID]; ok && p.step == step {
		delete(s.pending, orderID)
	}
	s.mu.Unlock()

	s.logger.Info("Step timeout fired", watermill.LogFields{
		"order_id": orderID,
		"step":     step,
	})

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Timeout handler panicked", errors.Errorf("%v", r), watermill.LogFields{
				"order_id": orderID,
				"step":     step,
			})
		}
	}()

	if err := onFire(orderID, step); err != nil {
		s.logger.Error("Timeout handler failed", err, watermill.LogFields{
			"order_id": orderID,
			"step":     step,
		})
	}
}
