// Package retry schedules bounded, exponentially backed-off re-issues of
// saga steps. The retry counter is persisted with the saga state so a budget
// survives restarts.
package retry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// CounterStore persists per-order retry counters. The saga state store
// implements it.
type CounterStore interface {
	// RetryCount returns the order's current retry count. An unknown order
	// is an error, never a zero count.
	RetryCount(ctx context.Context, orderID string) (int, error)

	// SetRetryCount persists the order's retry count.
	SetRetryCount(ctx context.Context, orderID string, count int) error
}

// Config of the retry budget and backoff curve.
type Config struct {
	// MaxAttempts is the retry budget per step-attempt sequence.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// Multiplier scales the delay between consecutive retries.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Minute
	}
}

// Coordinator decides whether a step may be retried and schedules the retry
// after the backoff delay. Scheduled operations run on their own goroutines.
type Coordinator struct {
	config Config
	store  CounterStore
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(config Config, store CounterStore, logger watermill.LoggerAdapter) *Coordinator {
	config.setDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Coordinator{
		config: config,
		store:  store,
		logger: logger,
		timers: map[uint64]*time.Timer{},
	}
}

// AttemptRetry schedules op to run once after the backoff delay for the
// order's next attempt, incrementing and persisting the retry counter.
// It returns false, with no side effects, when the budget is exhausted or
// the counter cannot be read or written.
func (c *Coordinator) AttemptRetry(ctx context.Context, orderID string, op func()) bool {
	count, err := c.store.RetryCount(ctx, orderID)
	if err != nil {
		c.logger.Error("Cannot read retry count", err, watermill.LogFields{"order_id": orderID})
		return false
	}

	if count >= c.config.MaxAttempts {
		c.logger.Info("Retry budget exhausted", watermill.LogFields{
			"order_id":    orderID,
			"retry_count": count,
			"max":         c.config.MaxAttempts,
		})
		return false
	}

	count++
	if err := c.store.SetRetryCount(ctx, orderID, count); err != nil {
		c.logger.Error("Cannot persist retry count", err, watermill.LogFields{"order_id": orderID})
		return false
	}

	delay := c.Delay(count)
	c.schedule(orderID, delay, op)

	c.logger.Info("Retry scheduled", watermill.LogFields{
		"order_id": orderID,
		"attempt":  count,
		"delay":    delay.String(),
	})

	return true
}

// ResetRetryCount zeroes the order's counter. It is called on every
// successful step transition: the budget is per step-attempt sequence, not
// per saga lifetime. Store failures are logged, not returned; the next
// attempt sequence simply starts with a smaller budget.
func (c *Coordinator) ResetRetryCount(ctx context.Context, orderID string) {
	if err := c.store.SetRetryCount(ctx, orderID, 0); err != nil {
		c.logger.Error("Cannot reset retry count", err, watermill.LogFields{"order_id": orderID})
	}
}

// HasExceededLimit reports whether the order has no retry budget left.
// A missing saga or an unreadable counter counts as exceeded.
func (c *Coordinator) HasExceededLimit(ctx context.Context, orderID string) bool {
	count, err := c.store.RetryCount(ctx, orderID)
	if err != nil {
		return true
	}

	return count >= c.config.MaxAttempts
}

// Delay returns the backoff delay before the given attempt (1-based):
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay). Non-positive
// attempts use InitialDelay.
func (c *Coordinator) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return c.config.InitialDelay
	}

	d := float64(c.config.InitialDelay) * math.Pow(c.config.Multiplier, float64(attempt-1))
	if d > float64(c.config.MaxDelay) {
		return c.config.MaxDelay
	}

	return time.Duration(d)
}

// Close cancels all scheduled, not yet started operations.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}

	return nil
}

func (c *Coordinator) schedule(orderID string, delay time.Duration, op func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	id := c.nextID
	c.nextID++

	c.timers[id] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Retried operation panicked", errorsFromPanic(r), watermill.LogFields{
					"order_id": orderID,
				})
			}
		}()

		op()
	})
}
