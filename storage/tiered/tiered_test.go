package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/storage/memory"
)

// flakyCache is a memory cache whose writes can be made to fail.
type flakyCache struct {
	*memory.Storage
	writeErr error
	gate     chan struct{}
}

func (f *flakyCache) wait() {
	if f.gate != nil {
		<-f.gate
	}
}

func (f *flakyCache) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	f.wait()
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Storage.UpsertSubscription(ctx, rec)
}

func (f *flakyCache) UpdateAccountBilling(ctx context.Context, customerID string, state billing.AccountState) error {
	f.wait()
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Storage.UpdateAccountBilling(ctx, customerID, state)
}

func (f *flakyCache) PutAccount(ctx context.Context, acct *billing.Account) error {
	f.wait()
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Storage.PutAccount(ctx, acct)
}

// errorCollector gathers AsyncErrorHandler calls.
type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCollector) handle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

func strPtr(s string) *string { return &s }

func activeState() billing.AccountState {
	return billing.AccountState{
		SubscriptionStatus: billing.StatusActive,
		Plan:               billing.PlanPro,
		BillingMode:        billing.BillingModeStandard,
		SubscriptionID:     strPtr("sub_1"),
	}
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
		assert.NoError(t, storage.Close())
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
	})

	t.Run("default sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotWrites: true})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 1000, cap(storage.syncQueue))
	})

	t.Run("custom sync buffer size", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotWrites: true, SyncBufferSize: 500})
		require.NoError(t, err)
		defer storage.Close()
		assert.Equal(t, 500, cap(storage.syncQueue))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New(), AsyncHotWrites: true})
		require.NoError(t, err)
		assert.NoError(t, storage.Close())
		assert.NoError(t, storage.Close())
	})
}

// --- Read-Through Strategy Tests ---

func TestStorage_GetAccountByCustomer_ReadThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()

	ctx := context.Background()

	_, err := cold.CreateAccount(ctx, "acct_1", "cus_A")
	require.NoError(t, err)
	require.NoError(t, cold.UpdateAccountBilling(ctx, "cus_A", activeState()))

	_, err = hot.GetAccountByCustomer(ctx, "cus_A")
	require.ErrorIs(t, err, billing.ErrAccountNotFound)

	acct, err := storage.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)

	// Hot was filled from Cold
	cached, err := hot.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", cached.ID)
	assert.Equal(t, billing.PlanPro, cached.Plan)

	_, err = storage.GetAccountByCustomer(ctx, "cus_missing")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)
}

func TestStorage_GetSubscription_ReadThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()

	ctx := context.Background()
	rec := &billing.SubscriptionRecord{CustomerID: "cus_A", SubscriptionID: "sub_1", Status: billing.StatusTrialing}
	require.NoError(t, cold.UpsertSubscription(ctx, rec))

	got, err := storage.GetSubscription(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.SubscriptionID)

	cached, err := hot.GetSubscription(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, cached.Status)

	_, err = storage.GetSubscription(ctx, "cus_missing")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestStorage_ListCustomerIDs_ColdOnly(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()

	ctx := context.Background()
	_, _ = cold.CreateAccount(ctx, "acct_1", "cus_A")
	_, _ = hot.CreateAccount(ctx, "acct_stale", "cus_stale")

	ids, err := storage.ListCustomerIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cus_A"}, ids)
}

// --- Write-Through Strategy Tests ---

func TestStorage_WriteThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()

	ctx := context.Background()

	_, err := storage.CreateAccount(ctx, "acct_1", "cus_A")
	require.NoError(t, err)
	_, err = hot.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err, "create should populate hot")

	require.NoError(t, storage.UpdateAccountBilling(ctx, "cus_A", activeState()))
	for _, store := range []billing.Store{hot, cold} {
		acct, err := store.GetAccountByCustomer(ctx, "cus_A")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)
	}

	rec := &billing.SubscriptionRecord{CustomerID: "cus_A", SubscriptionID: "sub_1", Status: billing.StatusActive}
	require.NoError(t, storage.UpsertSubscription(ctx, rec))
	for _, store := range []billing.Store{hot, cold} {
		_, err := store.GetSubscription(ctx, "cus_A")
		require.NoError(t, err)
	}

	require.NoError(t, storage.DeleteSubscription(ctx, "cus_A"))
	for _, store := range []billing.Store{hot, cold} {
		_, err := store.GetSubscription(ctx, "cus_A")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	}
}

func TestStorage_ColdFailureFailsWrite(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	defer storage.Close()

	ctx := context.Background()

	err := storage.UpdateAccountBilling(ctx, "cus_missing", activeState())
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)

	_, err = storage.CreateAccount(ctx, "acct_1", "cus_A")
	require.NoError(t, err)
	_, err = storage.CreateAccount(ctx, "acct_1", "cus_B")
	assert.ErrorIs(t, err, billing.ErrAccountExists)
	_, err = hot.GetAccountByCustomer(ctx, "cus_B")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound, "failed create must not reach hot")
}

func TestStorage_UpdateSkipsUncachedAccount(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	errs := &errorCollector{}
	storage, _ := New(Config{Hot: hot, Cold: cold, AsyncErrorHandler: errs.handle})
	defer storage.Close()

	ctx := context.Background()
	_, _ = cold.CreateAccount(ctx, "acct_1", "cus_A")

	require.NoError(t, storage.UpdateAccountBilling(ctx, "cus_A", activeState()))
	assert.Zero(t, errs.count())
	_, err := hot.GetAccountByCustomer(ctx, "cus_A")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)
}

func TestStorage_HotFailureEvicts(t *testing.T) {
	hot := &flakyCache{Storage: memory.New()}
	cold := memory.New()
	errs := &errorCollector{}
	storage, _ := New(Config{Hot: hot, Cold: cold, AsyncErrorHandler: errs.handle})
	defer storage.Close()

	ctx := context.Background()
	_, err := storage.CreateAccount(ctx, "acct_1", "cus_A")
	require.NoError(t, err)
	require.NoError(t, storage.UpsertSubscription(ctx, &billing.SubscriptionRecord{CustomerID: "cus_A", Status: billing.StatusTrialing}))

	hot.writeErr = errors.New("redis down")

	require.NoError(t, storage.UpdateAccountBilling(ctx, "cus_A", activeState()), "cold succeeded")
	require.NoError(t, storage.UpsertSubscription(ctx, &billing.SubscriptionRecord{CustomerID: "cus_A", Status: billing.StatusActive}))
	assert.Equal(t, 2, errs.count())

	// Stale hot entries were evicted rather than left behind
	_, err = hot.Storage.GetAccountByCustomer(ctx, "cus_A")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	_, err = hot.Storage.GetSubscription(ctx, "cus_A")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	hot.writeErr = nil
	acct, err := storage.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)
}

// --- Async Hot Writes ---

func TestStorage_AsyncHotWrites(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, err := New(Config{Hot: hot, Cold: cold, AsyncHotWrites: true})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = storage.CreateAccount(ctx, "acct_1", "cus_A")
	require.NoError(t, err)
	require.NoError(t, storage.UpdateAccountBilling(ctx, "cus_A", activeState()))

	// Cold is written synchronously
	acct, err := cold.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, acct.SubscriptionStatus)

	// Close drains the queue
	require.NoError(t, storage.Close())
	cached, err := hot.GetAccountByCustomer(ctx, "cus_A")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, cached.SubscriptionStatus)
}

func TestStorage_AsyncQueueFullEvicts(t *testing.T) {
	hot := &flakyCache{Storage: memory.New(), gate: make(chan struct{})}
	cold := memory.New()
	errs := &errorCollector{}
	storage, err := New(Config{
		Hot:               hot,
		Cold:              cold,
		AsyncHotWrites:    true,
		SyncBufferSize:    1,
		AsyncErrorHandler: errs.handle,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = cold.CreateAccount(ctx, "acct_1", "cus_A")
	stale := &billing.Account{ID: "acct_1", CustomerID: "cus_A"}
	stale.Apply(billing.InactiveState())
	require.NoError(t, hot.Storage.PutAccount(ctx, stale))

	// The first job blocks the worker on the gate, the second fills the buffer
	require.NoError(t, storage.UpsertSubscription(ctx, &billing.SubscriptionRecord{CustomerID: "cus_A", Status: billing.StatusActive}))
	require.Eventually(t, func() bool { return len(storage.syncQueue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, storage.UpsertSubscription(ctx, &billing.SubscriptionRecord{CustomerID: "cus_A", Status: billing.StatusActive}))

	// Queue is full: the account update evicts inline instead of queueing
	require.NoError(t, storage.UpdateAccountBilling(ctx, "cus_A", activeState()))
	_, err = hot.Storage.GetAccountByCustomer(ctx, "cus_A")
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)
	assert.Equal(t, 1, errs.count())

	close(hot.gate)
	require.NoError(t, storage.Close())
}
