// Package saga contains the order saga: its state machine, the persisted
// per-order saga instance, the state store contract and the orchestrator
// driving steps and compensations.
package saga

// State of a saga instance. SagaCompleted and SagaFailed are absorbing.
type State string

const (
	StateStarted                    State = "STARTED"
	StateCartValidationRequested    State = "CART_VALIDATION_REQUESTED"
	StateCartValidated              State = "CART_VALIDATED"
	StateCartValidationFailed       State = "CART_VALIDATION_FAILED"
	StatePaymentRequested           State = "PAYMENT_REQUESTED"
	StatePaymentCompleted           State = "PAYMENT_COMPLETED"
	StatePaymentFailed              State = "PAYMENT_FAILED"
	StateOrderConfirmed             State = "ORDER_CONFIRMED"
	StateCompensatingCartValidation State = "COMPENSATING_CART_VALIDATION"
	StateCompensatingPayment        State = "COMPENSATING_PAYMENT"
	StateCompleted                  State = "SAGA_COMPLETED"
	StateFailed                     State = "SAGA_FAILED"
)

// transitions is the saga's edge set. Self-edges on the request states allow
// a step to be re-issued after a timeout; every non-terminal state can reach
// StateFailed so that unrecoverable errors always have a legal exit.
var transitions = map[State][]State{
	StateStarted:                    {StateCartValidationRequested, StateFailed},
	StateCartValidationRequested:    {StateCartValidationRequested, StateCartValidated, StateCartValidationFailed, StateFailed},
	StateCartValidated:              {StatePaymentRequested, StateFailed},
	StateCartValidationFailed:       {StateCompensatingCartValidation, StateFailed},
	StatePaymentRequested:           {StatePaymentRequested, StatePaymentCompleted, StatePaymentFailed, StateFailed},
	StatePaymentCompleted:           {StateOrderConfirmed, StateCompensatingPayment, StateFailed},
	StatePaymentFailed:              {StateCompensatingPayment, StateFailed},
	StateOrderConfirmed:             {StateOrderConfirmed, StateCompleted, StateCompensatingPayment, StateFailed},
	StateCompensatingCartValidation: {StateFailed},
	StateCompensatingPayment:        {StateFailed},
	StateCompleted:                  {},
	StateFailed:                     {},
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Step of the saga a timeout or retry refers to.
const (
	StepCartValidation = "CART_VALIDATION"
	StepPayment        = "PAYMENT_PROCESSING"
	StepConfirmation   = "ORDER_CONFIRMATION"
)
