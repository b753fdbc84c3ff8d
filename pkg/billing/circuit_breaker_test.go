package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCircuitBreaker(t *testing.T) {
	threshold := 3
	timeout := 100 * time.Millisecond
	var lastState CircuitBreakerState
	cb := NewDefaultCircuitBreaker(threshold, timeout, func(state CircuitBreakerState) {
		lastState = state
	})

	ctx := context.Background()

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < threshold-1; i++ {
		err := cb.Execute(ctx, func() error {
			return errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	// Next failure should open the circuit
	err := cb.Execute(ctx, func() error {
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, StateOpen, lastState)

	// When open, Execute should fail fast
	err = cb.Execute(ctx, func() error {
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(timeout + 10*time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Successful trial call closes the circuit
	err = cb.Execute(ctx, func() error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, StateClosed, lastState)

	for i := 0; i < threshold; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	}
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(timeout + 10*time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Failed trial call re-opens the circuit
	err = cb.Execute(ctx, func() error {
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

type flakyClient struct {
	err   error
	calls int
}

func (f *flakyClient) GetCustomer(_ context.Context, id string) (*Customer, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Customer{ID: id}, nil
}

func (f *flakyClient) ListSubscriptions(_ context.Context, _ string) ([]Subscription, error) {
	f.calls++
	return nil, f.err
}

func (f *flakyClient) GetPaymentInstrument(_ context.Context, _ string) (*PaymentInstrument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &PaymentInstrument{Brand: "visa", Last4: "4242"}, nil
}

func TestGuardedClient_OpensAfterFailures(t *testing.T) {
	inner := &flakyClient{err: errors.New("connection reset")}
	guarded := NewGuardedClient(inner, NewDefaultCircuitBreaker(2, time.Minute, nil))
	ctx := context.Background()

	_, err := guarded.ListSubscriptions(ctx, "cus_1")
	require.Error(t, err)
	_, err = guarded.ListSubscriptions(ctx, "cus_1")
	require.Error(t, err)

	_, err = guarded.GetPaymentInstrument(ctx, "pm_1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls)
}

func TestGuardedClient_CustomerNotFoundDoesNotTrip(t *testing.T) {
	inner := &flakyClient{err: ErrCustomerNotFound}
	guarded := NewGuardedClient(inner, NewDefaultCircuitBreaker(1, time.Minute, nil))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := guarded.GetCustomer(ctx, "cus_gone")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedClient_PassesThrough(t *testing.T) {
	guarded := NewGuardedClient(&flakyClient{}, NewDefaultCircuitBreaker(1, time.Minute, nil))

	cust, err := guarded.GetCustomer(context.Background(), "cus_ok")
	require.NoError(t, err)
	assert.Equal(t, "cus_ok", cust.ID)

	pi, err := guarded.GetPaymentInstrument(context.Background(), "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "4242", pi.Last4)
}

// cardlessClient answers customer and listing calls but every instrument
// lookup fails.
type cardlessClient struct {
	flakyClient
	lookupErr error
}

func (c *cardlessClient) GetPaymentInstrument(_ context.Context, _ string) (*PaymentInstrument, error) {
	c.calls++
	return nil, c.lookupErr
}

func TestGuardedClient_InstrumentFailuresDoNotTrip(t *testing.T) {
	inner := &cardlessClient{lookupErr: errors.New("payment method has no card")}
	breaker := NewDefaultCircuitBreaker(2, time.Minute, nil)
	guarded := NewGuardedClient(inner, breaker)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guarded.GetPaymentInstrument(ctx, "pm_sepa")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, StateClosed, breaker.State())

	cust, err := guarded.GetCustomer(ctx, "cus_ok")
	require.NoError(t, err)
	assert.Equal(t, "cus_ok", cust.ID)
}

func TestGuardedClient_OpenBreakerRefusesInstrumentLookup(t *testing.T) {
	inner := &flakyClient{}
	breaker := NewDefaultCircuitBreaker(1, time.Minute, nil)
	breaker.Failure(errors.New("connection reset"))
	require.Equal(t, StateOpen, breaker.State())

	_, err := NewGuardedClient(inner, breaker).GetPaymentInstrument(context.Background(), "pm_1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, inner.calls)
}
