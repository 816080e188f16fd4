package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/events"
	"github.com/GyanXspy/restaurant-orders/internal/metrics"
	"github.com/GyanXspy/restaurant-orders/internal/order"
	"github.com/GyanXspy/restaurant-orders/internal/saga/retry"
	"github.com/GyanXspy/restaurant-orders/internal/saga/timeout"
)

// EventPublisher publishes domain events. *events.Bus implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Config holds the per-step timeout durations.
type Config struct {
	// CartValidationTimeout is the deadline for the cart service's response.
	CartValidationTimeout time.Duration

	// PaymentTimeout is the deadline for the payment service's response.
	PaymentTimeout time.Duration

	// ConfirmationTimeout is the deadline for confirming the order after a
	// completed payment.
	ConfirmationTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.CartValidationTimeout == 0 {
		c.CartValidationTimeout = 2 * time.Minute
	}
	if c.PaymentTimeout == 0 {
		c.PaymentTimeout = 5 * time.Minute
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = time.Minute
	}
}

// Orchestrator drives the order saga: it persists saga progress, emits step
// requests, arms step timeouts, retries within the persisted budget and runs
// compensations when a step fails for good.
//
// All handlers are idempotent with respect to duplicate delivery: a result
// for a step the saga has already passed is acknowledged and dropped.
type Orchestrator struct {
	config    Config
	store     StateStore
	orders    *order.Service
	publisher EventPublisher
	timeouts  *timeout.Scheduler
	retries   *retry.Coordinator
	metrics   *metrics.SagaMetrics
	logger    watermill.LoggerAdapter

	now func() time.Time
}

// NewOrchestrator creates an Orchestrator. sagaMetrics may be nil.
func NewOrchestrator(
	config Config,
	store StateStore,
	orders *order.Service,
	publisher EventPublisher,
	timeouts *timeout.Scheduler,
	retries *retry.Coordinator,
	sagaMetrics *metrics.SagaMetrics,
	logger watermill.LoggerAdapter,
) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("missing state store")
	}
	if orders == nil {
		return nil, errors.New("missing order service")
	}
	if publisher == nil {
		return nil, errors.New("missing event publisher")
	}
	if timeouts == nil {
		return nil, errors.New("missing timeout scheduler")
	}
	if retries == nil {
		return nil, errors.New("missing retry coordinator")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	config.setDefaults()

	return &Orchestrator{
		config:    config,
		store:     store,
		orders:    orders,
		publisher: publisher,
		timeouts:  timeouts,
		retries:   retries,
		metrics:   sagaMetrics,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// StartSaga handles an inbound order-created event: it persists the creation
// event to the order's stream, creates the saga instance, announces the saga
// and requests cart validation.
func (o *Orchestrator) StartSaga(ctx context.Context, event *events.OrderCreated) error {
	orderID := event.AggregateID
	if orderID == "" {
		return &order.ValidationError{Reason: "order created event without aggregate id"}
	}

	if err := o.orders.RecordCreated(ctx, event); err != nil {
		return err
	}

	existing, err := o.store.FindByOrderID(ctx, orderID)
	switch {
	case err == nil && existing.State == StateStarted:
		// A previous delivery crashed between saving the saga and requesting
		// cart validation. The saga-started announcement may have been lost
		// with it, so emit it again before resuming.
		if err := o.publisher.Publish(ctx, sagaStartedEvent(existing)); err != nil {
			return errors.Wrap(err, "publishing saga started")
		}
		return o.requestCartValidation(ctx, existing)
	case err == nil:
		o.logger.Debug("Saga already exists, dropping duplicate order created", watermill.LogFields{
			"order_id": orderID,
			"state":    string(existing.State),
		})
		return nil
	case !errors.Is(err, ErrNotFound):
		return errors.Wrap(err, "checking for existing saga")
	}

	instance := NewInstance(event, o.now())
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	o.metrics.SagaStarted()
	o.logger.Info("Saga started", watermill.LogFields{"order_id": orderID})

	if err := o.publisher.Publish(ctx, sagaStartedEvent(instance)); err != nil {
		// Redelivery resumes from StateStarted and re-emits, so failing
		// here is safe.
		return errors.Wrap(err, "publishing saga started")
	}

	return o.requestCartValidation(ctx, instance)
}

// OnCartValidationResult handles the cart service's response.
func (o *Orchestrator) OnCartValidationResult(ctx context.Context, event *events.CartValidationCompleted) error {
	orderID := event.OrderID
	if orderID == "" {
		orderID = event.AggregateID
	}

	instance, err := o.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		o.logger.Info("Cart validation result for unknown saga, dropping", watermill.LogFields{"order_id": orderID})
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading saga")
	}

	if instance.State != StateCartValidationRequested {
		// Cancelling here would disarm whatever later step is in flight.
		o.logger.Debug("Cart validation result for already progressed saga, dropping", watermill.LogFields{
			"order_id": orderID,
			"state":    string(instance.State),
		})
		return nil
	}

	o.timeouts.Cancel(orderID)

	o.metrics.ObserveStep(StepCartValidation, o.now().Sub(instance.UpdatedAt))

	if !event.Valid {
		reason := "cart validation failed"
		if len(event.ValidationErrors) > 0 {
			reason += ": " + strings.Join(event.ValidationErrors, ", ")
		}

		instance.FailureReason = reason
		if err := instance.TransitionTo(StateCartValidationFailed, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}

		return o.compensateCartValidation(ctx, instance)
	}

	o.retries.ResetRetryCount(ctx, orderID)
	instance.RetryCount = 0

	if err := instance.TransitionTo(StateCartValidated, o.now()); err != nil {
		return err
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	return o.requestPayment(ctx, instance)
}

// OnPaymentResult handles the payment service's response.
func (o *Orchestrator) OnPaymentResult(ctx context.Context, event *events.PaymentProcessingCompleted) error {
	orderID := event.OrderID
	if orderID == "" {
		orderID = event.AggregateID
	}

	instance, err := o.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		o.logger.Info("Payment result for unknown saga, dropping", watermill.LogFields{"order_id": orderID})
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading saga")
	}

	if instance.State != StatePaymentRequested {
		// Cancelling here would disarm whatever later step is in flight.
		o.logger.Debug("Payment result for already progressed saga, dropping", watermill.LogFields{
			"order_id": orderID,
			"state":    string(instance.State),
		})
		return nil
	}

	o.timeouts.Cancel(orderID)

	o.metrics.ObserveStep(StepPayment, o.now().Sub(instance.UpdatedAt))

	switch event.Status {
	case events.PaymentCompleted:
		o.retries.ResetRetryCount(ctx, orderID)
		instance.RetryCount = 0

		if err := instance.TransitionTo(StatePaymentCompleted, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}

		return o.confirmOrder(ctx, instance)

	case events.PaymentFailed, events.PaymentTimeout:
		reason := "payment failed"
		if event.Status == events.PaymentTimeout {
			reason = "payment timed out"
		}
		if event.FailureReason != "" {
			reason += ": " + event.FailureReason
		}

		instance.FailureReason = reason
		if err := instance.TransitionTo(StatePaymentFailed, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}

		return o.compensatePayment(ctx, instance)

	default:
		return errors.Errorf("unknown payment status %q for order %s", event.Status, orderID)
	}
}

// OnStepTimeout runs when a step deadline expires. While retry budget
// remains, the step is re-issued after backoff; past the budget the step's
// failure and compensation path runs.
func (o *Orchestrator) OnStepTimeout(orderID, step string) error {
	ctx := context.Background()

	o.metrics.TimeoutFired()

	instance, err := o.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		o.logger.Info("Timeout fired for unknown saga, dropping", watermill.LogFields{"order_id": orderID})
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "loading saga on timeout")
	}

	if instance.State.Terminal() {
		return nil
	}

	if !o.retries.HasExceededLimit(ctx, orderID) {
		if o.retries.AttemptRetry(ctx, orderID, func() { o.retryStep(orderID, step) }) {
			o.metrics.RetryScheduled()
			return nil
		}
	}

	reason := fmt.Sprintf("%s timeout after %d retries", stepLabel(step), instance.RetryCount)
	instance.FailureReason = reason

	o.logger.Info("Step timeout exhausted retry budget, compensating", watermill.LogFields{
		"order_id": orderID,
		"step":     step,
		"reason":   reason,
	})

	switch step {
	case StepCartValidation:
		if err := instance.TransitionTo(StateCartValidationFailed, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}
		return o.compensateCartValidation(ctx, instance)

	case StepPayment:
		if err := instance.TransitionTo(StatePaymentFailed, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}
		return o.compensatePayment(ctx, instance)

	case StepConfirmation:
		// Payment already happened; undo it.
		return o.compensatePayment(ctx, instance)

	default:
		return errors.Errorf("unknown saga step %q", step)
	}
}

// MarkFailed forces the saga into SAGA_FAILED with a best-effort
// order-cancelled emission. Store and publish errors are logged, never
// returned: the persisted saga record is authoritative and the caller (the
// dead-letter path) must not fail recursively.
func (o *Orchestrator) MarkFailed(ctx context.Context, orderID, reason string) error {
	instance, err := o.store.FindByOrderID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		o.logger.Info("Cannot mark unknown saga failed", watermill.LogFields{"order_id": orderID})
		return nil
	}
	if err != nil {
		o.logger.Error("Cannot load saga to mark failed", err, watermill.LogFields{"order_id": orderID})
		return nil
	}

	if instance.State.Terminal() {
		return nil
	}

	instance.Fail(reason, o.now())
	if err := o.store.Save(ctx, instance); err != nil {
		o.logger.Error("Cannot persist failed saga", err, watermill.LogFields{"order_id": orderID})
		return nil
	}

	o.timeouts.Cancel(orderID)
	o.metrics.SagaFailed()
	o.cancelOrder(ctx, orderID, reason)

	return nil
}

// Rehydrate resumes all in-progress sagas after a restart: request states get
// a fresh, full-duration step timeout; transitional and failure states are
// driven forward immediately.
func (o *Orchestrator) Rehydrate(ctx context.Context) error {
	instances, err := o.store.FindInProgress(ctx)
	if err != nil {
		return errors.Wrap(err, "loading in-progress sagas")
	}

	for _, instance := range instances {
		o.logger.Info("Rehydrating saga", watermill.LogFields{
			"order_id": instance.OrderID,
			"state":    string(instance.State),
		})

		if err := o.resume(ctx, instance); err != nil {
			o.logger.Error("Cannot resume saga", err, watermill.LogFields{"order_id": instance.OrderID})
		}
	}

	return nil
}

// SweepTimedOut treats sagas stale for longer than staleAfter as timed out.
// It backs up in-process timeouts that were lost in a crash.
func (o *Orchestrator) SweepTimedOut(ctx context.Context, staleAfter time.Duration) error {
	stale, err := o.store.FindTimedOut(ctx, staleAfter)
	if err != nil {
		return errors.Wrap(err, "finding timed out sagas")
	}

	for _, instance := range stale {
		step := stepForState(instance.State)
		if step == "" {
			continue
		}

		o.logger.Info("Sweeping stale saga", watermill.LogFields{
			"order_id": instance.OrderID,
			"state":    string(instance.State),
		})

		if err := o.OnStepTimeout(instance.OrderID, step); err != nil {
			o.logger.Error("Cannot sweep stale saga", err, watermill.LogFields{"order_id": instance.OrderID})
		}
	}

	return nil
}

func (o *Orchestrator) resume(ctx context.Context, instance *Instance) error {
	switch instance.State {
	case StateStarted:
		// The crash may have eaten the saga-started announcement.
		if err := o.publisher.Publish(ctx, sagaStartedEvent(instance)); err != nil {
			return errors.Wrap(err, "publishing saga started")
		}
		return o.requestCartValidation(ctx, instance)
	case StateCartValidationRequested:
		o.timeouts.Schedule(instance.OrderID, StepCartValidation, o.config.CartValidationTimeout, o.OnStepTimeout)
	case StateCartValidated:
		return o.requestPayment(ctx, instance)
	case StatePaymentRequested:
		o.timeouts.Schedule(instance.OrderID, StepPayment, o.config.PaymentTimeout, o.OnStepTimeout)
	case StatePaymentCompleted, StateOrderConfirmed:
		return o.confirmOrder(ctx, instance)
	case StateCartValidationFailed, StateCompensatingCartValidation:
		return o.compensateCartValidation(ctx, instance)
	case StatePaymentFailed, StateCompensatingPayment:
		return o.compensatePayment(ctx, instance)
	}

	return nil
}

func (o *Orchestrator) requestCartValidation(ctx context.Context, instance *Instance) error {
	if err := instance.TransitionTo(StateCartValidationRequested, o.now()); err != nil {
		return err
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	o.timeouts.Schedule(instance.OrderID, StepCartValidation, o.config.CartValidationTimeout, o.OnStepTimeout)

	event := &events.CartValidationRequested{
		Envelope:   events.NewEnvelope(instance.OrderID, 1),
		OrderID:    instance.OrderID,
		CartID:     cartID(instance.CustomerID, instance.RestaurantID),
		CustomerID: instance.CustomerID,
	}

	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("Requesting cart validation failed", err, watermill.LogFields{"order_id": instance.OrderID})
		if !o.retries.AttemptRetry(ctx, instance.OrderID, func() { o.retryStep(instance.OrderID, StepCartValidation) }) {
			o.failSaga(ctx, instance.OrderID, "cart validation request failed after retries: "+err.Error())
		}
	}

	return nil
}

func (o *Orchestrator) requestPayment(ctx context.Context, instance *Instance) error {
	if instance.PaymentID == "" {
		instance.PaymentID = uuid.NewString()
	}

	if err := instance.TransitionTo(StatePaymentRequested, o.now()); err != nil {
		return err
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	o.timeouts.Schedule(instance.OrderID, StepPayment, o.config.PaymentTimeout, o.OnStepTimeout)

	event := &events.PaymentInitiationRequested{
		Envelope:   events.NewEnvelope(instance.OrderID, 1),
		OrderID:    instance.OrderID,
		PaymentID:  instance.PaymentID,
		Amount:     instance.TotalAmount,
		CustomerID: instance.CustomerID,
	}

	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("Requesting payment failed", err, watermill.LogFields{"order_id": instance.OrderID})
		if !o.retries.AttemptRetry(ctx, instance.OrderID, func() { o.retryStep(instance.OrderID, StepPayment) }) {
			o.failSaga(ctx, instance.OrderID, "payment request failed after retries: "+err.Error())
		}
	}

	return nil
}

func (o *Orchestrator) confirmOrder(ctx context.Context, instance *Instance) error {
	switch instance.State {
	case StatePaymentCompleted:
		if err := instance.TransitionTo(StateOrderConfirmed, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}
	case StateOrderConfirmed:
		// Re-issued confirmation.
	default:
		return nil
	}

	o.timeouts.Schedule(instance.OrderID, StepConfirmation, o.config.ConfirmationTimeout, o.OnStepTimeout)

	confirmed, err := o.orders.Confirm(ctx, instance.OrderID, instance.PaymentID)
	if err != nil {
		if order.IsInvalidStateError(err) || order.IsValidationError(err) || errors.Is(err, order.ErrNotFound) {
			o.failSaga(ctx, instance.OrderID, "order confirmation rejected: "+err.Error())
			return nil
		}

		o.logger.Error("Order confirmation failed", err, watermill.LogFields{"order_id": instance.OrderID})
		if !o.retries.AttemptRetry(ctx, instance.OrderID, func() { o.retryStep(instance.OrderID, StepConfirmation) }) {
			o.failSaga(ctx, instance.OrderID, "order confirmation failed after retries: "+err.Error())
		}
		return nil
	}

	if err := o.publisher.Publish(ctx, confirmed); err != nil {
		o.logger.Error("Publishing order confirmed failed", err, watermill.LogFields{"order_id": instance.OrderID})
		if !o.retries.AttemptRetry(ctx, instance.OrderID, func() { o.retryStep(instance.OrderID, StepConfirmation) }) {
			o.failSaga(ctx, instance.OrderID, "order confirmation failed after retries: "+err.Error())
		}
		return nil
	}

	o.timeouts.Cancel(instance.OrderID)
	o.retries.ResetRetryCount(ctx, instance.OrderID)
	instance.RetryCount = 0

	if err := instance.TransitionTo(StateCompleted, o.now()); err != nil {
		return err
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	o.metrics.SagaCompleted()
	o.logger.Info("Saga completed", watermill.LogFields{
		"order_id":   instance.OrderID,
		"payment_id": instance.PaymentID,
	})

	return nil
}

func (o *Orchestrator) compensateCartValidation(ctx context.Context, instance *Instance) error {
	return o.compensate(ctx, instance, StateCompensatingCartValidation)
}

func (o *Orchestrator) compensatePayment(ctx context.Context, instance *Instance) error {
	return o.compensate(ctx, instance, StateCompensatingPayment)
}

func (o *Orchestrator) compensate(ctx context.Context, instance *Instance, via State) error {
	if instance.State != via {
		if err := instance.TransitionTo(via, o.now()); err != nil {
			return err
		}
		if err := o.store.Save(ctx, instance); err != nil {
			return errors.Wrap(err, "saving saga state")
		}
	}

	o.metrics.SagaCompensated()
	o.cancelOrder(ctx, instance.OrderID, instance.FailureReason)

	if err := instance.TransitionTo(StateFailed, o.now()); err != nil {
		return err
	}
	if err := o.store.Save(ctx, instance); err != nil {
		return errors.Wrap(err, "saving saga state")
	}

	o.metrics.SagaFailed()
	o.logger.Info("Saga failed and compensated", watermill.LogFields{
		"order_id": instance.OrderID,
		"reason":   instance.FailureReason,
	})

	return nil
}

func (o *Orchestrator) failSaga(ctx context.Context, orderID, reason string) {
	o.logger.Error("Saga failed", errors.New(reason), watermill.LogFields{"order_id": orderID})
	_ = o.MarkFailed(ctx, orderID, reason)
}

// cancelOrder cancels the aggregate and publishes order-cancelled,
// best-effort: failures are logged only, the persisted saga record stays
// authoritative. A confirmed order is never announced as cancelled; its
// stream wins over the saga's failure.
func (o *Orchestrator) cancelOrder(ctx context.Context, orderID, reason string) {
	cancelled, err := o.orders.Cancel(ctx, orderID, reason)
	if err != nil {
		o.logger.Error("Cannot cancel order aggregate", err, watermill.LogFields{"order_id": orderID})
		if order.IsInvalidStateError(err) {
			return
		}
	}
	if cancelled == nil {
		cancelled = &events.OrderCancelled{
			Envelope: events.NewEnvelope(orderID, 1),
			OrderID:  orderID,
			Reason:   reason,
		}
	}

	if err := o.publisher.Publish(ctx, cancelled); err != nil {
		o.logger.Error("Cannot publish order cancelled", err, watermill.LogFields{"order_id": orderID})
	}
}

func (o *Orchestrator) retryStep(orderID, step string) {
	ctx := context.Background()

	instance, err := o.store.FindByOrderID(ctx, orderID)
	if err != nil {
		o.logger.Error("Cannot load saga for step re-issue", err, watermill.LogFields{"order_id": orderID})
		return
	}
	if instance.State.Terminal() {
		return
	}

	o.logger.Info("Re-issuing saga step", watermill.LogFields{
		"order_id": orderID,
		"step":     step,
		"attempt":  instance.RetryCount,
	})

	var stepErr error
	switch step {
	case StepCartValidation:
		stepErr = o.requestCartValidation(ctx, instance)
	case StepPayment:
		stepErr = o.requestPayment(ctx, instance)
	case StepConfirmation:
		stepErr = o.confirmOrder(ctx, instance)
	default:
		stepErr = errors.Errorf("unknown saga step %q", step)
	}

	if stepErr != nil {
		o.logger.Error("Step re-issue failed", stepErr, watermill.LogFields{
			"order_id": orderID,
			"step":     step,
		})
	}
}

func stepForState(s State) string {
	switch s {
	case StateStarted, StateCartValidationRequested:
		return StepCartValidation
	case StateCartValidated, StatePaymentRequested:
		return StepPayment
	case StatePaymentCompleted, StateOrderConfirmed:
		return StepConfirmation
	default:
		return ""
	}
}

func stepLabel(step string) string {
	return strings.ToLower(strings.ReplaceAll(step, "_", " "))
}

func cartID(customerID, restaurantID string) string {
	return customerID + "-" + restaurantID + "-cart"
}

func sagaStartedEvent(instance *Instance) *events.OrderSagaStarted {
	return &events.OrderSagaStarted{
		Envelope:     events.NewEnvelope(instance.OrderID, 1),
		CustomerID:   instance.CustomerID,
		RestaurantID: instance.RestaurantID,
		Items:        instance.Items,
		TotalAmount:  instance.TotalAmount,
	}
}
