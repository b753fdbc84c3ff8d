package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/storage/memory"
)

// fakeClient serves canned provider state keyed by customer id.
type fakeClient struct {
	mu          sync.Mutex
	customers   map[string]*billing.Customer
	subs        map[string][]billing.Subscription
	instruments map[string]*billing.PaymentInstrument
	listErr     error
	lookupErr   error
	lookupDelay time.Duration
	calls       int
	lookups     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		customers:   make(map[string]*billing.Customer),
		subs:        make(map[string][]billing.Subscription),
		instruments: make(map[string]*billing.PaymentInstrument),
	}
}

func (f *fakeClient) addCustomer(id string, subs ...billing.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[id] = &billing.Customer{ID: id}
	f.subs[id] = subs
}

func (f *fakeClient) GetCustomer(_ context.Context, id string) (*billing.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	cust, ok := f.customers[id]
	if !ok {
		return nil, billing.ErrCustomerNotFound
	}
	return cust, nil
}

func (f *fakeClient) ListSubscriptions(_ context.Context, id string) ([]billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs[id], nil
}

func (f *fakeClient) GetPaymentInstrument(ctx context.Context, pmID string) (*billing.PaymentInstrument, error) {
	f.mu.Lock()
	f.lookups++
	f.mu.Unlock()
	if f.lookupDelay > 0 {
		select {
		case <-time.After(f.lookupDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	pi, ok := f.instruments[pmID]
	if !ok {
		return nil, errors.New("no such payment method")
	}
	return pi, nil
}

// failingStore fails selected writes and delegates the rest.
type failingStore struct {
	*memory.Storage
	upsertErr  error
	accountErr error
}

func (s *failingStore) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Storage.UpsertSubscription(ctx, rec)
}

func (s *failingStore) UpdateAccountBilling(ctx context.Context, id string, state billing.AccountState) error {
	if s.accountErr != nil {
		return s.accountErr
	}
	return s.Storage.UpdateAccountBilling(ctx, id, state)
}

// recordingMetrics captures the calls the reconciler makes.
type recordingMetrics struct {
	billing.NoopMetrics
	mu            sync.Mutex
	syncs         []string
	unknown       []string
	planChanges   []string
	lookups       []string
	storeFailures []string
}

func (m *recordingMetrics) RecordSync(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, status)
}

func (m *recordingMetrics) RecordUnknownStatus(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unknown = append(m.unknown, status)
}

func (m *recordingMetrics) RecordPlanChange(_, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planChanges = append(m.planChanges, from+"->"+to)
}

func (m *recordingMetrics) RecordInstrumentLookup(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, status)
}

func (m *recordingMetrics) RecordStoreWrite(op, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == "error" {
		m.storeFailures = append(m.storeFailures, op)
	}
}

func sub(id, status string, created int64) billing.Subscription {
	return billing.Subscription{ID: id, Status: status, Created: created}
}
