package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// Success records a successful execution.
	Success()
	// Failure records a failed execution.
	Failure(err error)
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker is a simple circuit breaker implementation.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.Failure(err)
		return err
	}

	cb.Success()
	return nil
}

func (cb *DefaultCircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *DefaultCircuitBreaker) Failure(_ error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A failed half-open trial call leaves the stored state open; refreshing
	// lastFailureTime starts another reset window.
	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// GuardedClient wraps a Client with a circuit breaker so that a provider
// outage fails fast instead of holding every webhook for a full timeout.
// ErrCustomerNotFound is an answer, not an outage, and does not trip it.
// The payment instrument lookup is best effort: it is refused while the
// breaker is open but its outcome is never recorded, so a lookup that keeps
// failing cannot block customer reads and subscription listings.
type GuardedClient struct {
	next    Client
	breaker CircuitBreaker
}

// NewGuardedClient wraps next with breaker.
func NewGuardedClient(next Client, breaker CircuitBreaker) *GuardedClient {
	return &GuardedClient{next: next, breaker: breaker}
}

func (g *GuardedClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var cust *Customer
	var notFound error
	err := g.breaker.Execute(ctx, func() error {
		var err error
		cust, err = g.next.GetCustomer(ctx, customerID)
		if errors.Is(err, ErrCustomerNotFound) {
			notFound = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return cust, nil
}

func (g *GuardedClient) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	var subs []Subscription
	err := g.breaker.Execute(ctx, func() error {
		var err error
		subs, err = g.next.ListSubscriptions(ctx, customerID)
		return err
	})
	return subs, err
}

func (g *GuardedClient) GetPaymentInstrument(ctx context.Context, paymentMethodID string) (*PaymentInstrument, error) {
	if g.breaker.State() == StateOpen {
		return nil, ErrCircuitOpen
	}
	return g.next.GetPaymentInstrument(ctx, paymentMethodID)
}
