// Package tiered provides a Hot/Cold tiered storage adapter that puts a fast
// cache (Hot) in front of the durable source of truth (Cold).
//
// Reads go Hot first and fall back to Cold, filling Hot on the way out.
// Writes go to Cold first; a Cold failure fails the operation. The Hot write
// that follows is best effort, and a Hot entry that could not be updated is
// evicted so readers never see a value older than Cold's.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Cache is a billing.Store that can also be filled and invalidated
// account by account. Implemented by storage/redis and storage/memory.
type Cache interface {
	billing.Store

	// PutAccount writes a full account copied from Cold
	PutAccount(ctx context.Context, acct *billing.Account) error

	// EvictAccount drops the cached account for the customer, if any
	EvictAccount(ctx context.Context, customerID string) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache (e.g., Redis, Memory)
	Hot Cache

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore), the source of truth
	Cold billing.Store

	// AsyncHotWrites moves the Hot half of every write onto a background worker.
	// Cold writes stay synchronous.
	AsyncHotWrites bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a Hot write fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements billing.Store over a Hot/Cold pair.
type Storage struct {
	hot  Cache
	cold billing.Store
	conf Config

	// Channel for async synchronization
	syncQueue chan hotWrite
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

var _ billing.Store = (*Storage)(nil)

// hotWrite is one queued Hot update plus the eviction that undoes it on failure.
type hotWrite struct {
	apply func(ctx context.Context) error
	evict func(ctx context.Context) error
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan hotWrite, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotWrites {
		s.startWorker()
	}

	return s, nil
}

// Close drains and stops the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncHotWrites {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Jobs run one at a time so writes for a customer land in order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.run(context.Background(), job)
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						s.run(context.Background(), job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) run(ctx context.Context, job hotWrite) {
	err := job.apply(ctx)
	if err == nil {
		return
	}
	if evictErr := job.evict(ctx); evictErr != nil {
		err = errors.Join(err, fmt.Errorf("evict: %w", evictErr))
	}
	s.report(fmt.Errorf("tiered hot write failed: %w", err))
}

func (s *Storage) report(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// writeHot applies job to Hot, inline or through the worker.
func (s *Storage) writeHot(ctx context.Context, job hotWrite) {
	if !s.conf.AsyncHotWrites {
		s.run(ctx, job)
		return
	}

	select {
	case s.syncQueue <- job:
	default:
		// Dropping the update would leave Hot stale, so evict inline instead
		if err := job.evict(ctx); err != nil {
			s.report(fmt.Errorf("tiered storage: sync queue full, evict failed: %w", err))
			return
		}
		s.report(errors.New("tiered storage: sync queue full, evicted hot entry"))
	}
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// GetSubscription implements billing.SubscriptionStore with read-through strategy.
func (s *Storage) GetSubscription(ctx context.Context, customerID string) (*billing.SubscriptionRecord, error) {
	if rec, err := s.hot.GetSubscription(ctx, customerID); err == nil {
		return rec, nil
	}

	rec, err := s.cold.GetSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}

	_ = s.hot.UpsertSubscription(ctx, rec) //nolint:errcheck // Cache fill - errors are non-critical
	return rec, nil
}

// GetAccountByCustomer implements billing.AccountStore with read-through strategy.
func (s *Storage) GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error) {
	if acct, err := s.hot.GetAccountByCustomer(ctx, customerID); err == nil {
		return acct, nil
	}

	acct, err := s.cold.GetAccountByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	_ = s.hot.PutAccount(ctx, acct) //nolint:errcheck // Cache fill - errors are non-critical
	return acct, nil
}

// --- Strategy: Cold-Only ---

// ListCustomerIDs implements billing.AccountStore. Hot holds a partial view,
// so the listing always comes from Cold.
func (s *Storage) ListCustomerIDs(ctx context.Context) ([]string, error) {
	return s.cold.ListCustomerIDs(ctx)
}

// --- Strategy: Write-Through (Cold → Hot) ---

// UpsertSubscription implements billing.SubscriptionStore with write-through strategy.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	if err := s.cold.UpsertSubscription(ctx, rec); err != nil {
		return err
	}

	recCopy := *rec
	customerID := rec.CustomerID
	s.writeHot(ctx, hotWrite{
		apply: func(ctx context.Context) error { return s.hot.UpsertSubscription(ctx, &recCopy) },
		evict: func(ctx context.Context) error { return s.hot.DeleteSubscription(ctx, customerID) },
	})
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore with write-through strategy.
func (s *Storage) DeleteSubscription(ctx context.Context, customerID string) error {
	if err := s.cold.DeleteSubscription(ctx, customerID); err != nil {
		return err
	}

	del := func(ctx context.Context) error { return s.hot.DeleteSubscription(ctx, customerID) }
	s.writeHot(ctx, hotWrite{apply: del, evict: del})
	return nil
}

// CreateAccount implements billing.AccountStore with write-through strategy.
func (s *Storage) CreateAccount(ctx context.Context, accountID, customerID string) (*billing.Account, error) {
	acct, err := s.cold.CreateAccount(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}

	if customerID != "" {
		acctCopy := *acct
		s.writeHot(ctx, hotWrite{
			apply: func(ctx context.Context) error { return s.hot.PutAccount(ctx, &acctCopy) },
			evict: func(ctx context.Context) error { return s.hot.EvictAccount(ctx, customerID) },
		})
	}
	return acct, nil
}

// UpdateAccountBilling implements billing.AccountStore with write-through strategy.
// An account Hot has never seen is left for the next read to fill.
func (s *Storage) UpdateAccountBilling(ctx context.Context, customerID string, state billing.AccountState) error {
	if err := s.cold.UpdateAccountBilling(ctx, customerID, state); err != nil {
		return err
	}

	if state.SubscriptionID != nil {
		id := *state.SubscriptionID
		state.SubscriptionID = &id
	}
	s.writeHot(ctx, hotWrite{
		apply: func(ctx context.Context) error {
			err := s.hot.UpdateAccountBilling(ctx, customerID, state)
			if errors.Is(err, billing.ErrAccountNotFound) {
				return nil
			}
			return err
		},
		evict: func(ctx context.Context) error { return s.hot.EvictAccount(ctx, customerID) },
	})
	return nil
}
