// Package memory provides an in-memory implementation of the billing.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Storage implements billing.Store using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	accounts      map[string]*billing.Account // account id -> account
	byCustomer    map[string]string           // customer id -> account id
	subscriptions map[string]*billing.SubscriptionRecord
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		accounts:      make(map[string]*billing.Account),
		byCustomer:    make(map[string]string),
		subscriptions: make(map[string]*billing.SubscriptionRecord),
	}
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(_ context.Context, rec *billing.SubscriptionRecord) error {
	if rec == nil || rec.CustomerID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[rec.CustomerID] = copyRecord(rec)
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, customerID)
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(_ context.Context, customerID string) (*billing.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.subscriptions[customerID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return copyRecord(rec), nil
}

// CreateAccount implements billing.AccountStore
func (s *Storage) CreateAccount(_ context.Context, accountID, customerID string) (*billing.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; ok {
		return nil, billing.ErrAccountExists
	}
	if customerID != "" {
		if _, ok := s.byCustomer[customerID]; ok {
			return nil, billing.ErrAccountExists
		}
		s.byCustomer[customerID] = accountID
	}

	acct := &billing.Account{ID: accountID, CustomerID: customerID}
	acct.Apply(billing.InactiveState())
	s.accounts[accountID] = acct
	return copyAccount(acct), nil
}

// UpdateAccountBilling implements billing.AccountStore
func (s *Storage) UpdateAccountBilling(_ context.Context, customerID string, state billing.AccountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accountID, ok := s.byCustomer[customerID]
	if !ok {
		return billing.ErrAccountNotFound
	}
	s.accounts[accountID].Apply(copyState(state))
	return nil
}

// GetAccountByCustomer implements billing.AccountStore
func (s *Storage) GetAccountByCustomer(_ context.Context, customerID string) (*billing.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.byCustomer[customerID]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	return copyAccount(s.accounts[accountID]), nil
}

// ListCustomerIDs implements billing.AccountStore
func (s *Storage) ListCustomerIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byCustomer))
	for id := range s.byCustomer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// PutAccount writes a full account, replacing any account with the same id
// or customer id. Used to fill a hot cache from a durable store.
func (s *Storage) PutAccount(_ context.Context, acct *billing.Account) error {
	if acct == nil || acct.ID == "" || acct.CustomerID == "" {
		return fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accounts[acct.ID]; ok && prev.CustomerID != acct.CustomerID {
		delete(s.byCustomer, prev.CustomerID)
	}
	if prevID, ok := s.byCustomer[acct.CustomerID]; ok && prevID != acct.ID {
		delete(s.accounts, prevID)
	}
	s.accounts[acct.ID] = copyAccount(acct)
	s.byCustomer[acct.CustomerID] = acct.ID
	return nil
}

// EvictAccount drops the account with the given customer id, if any
func (s *Storage) EvictAccount(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if accountID, ok := s.byCustomer[customerID]; ok {
		delete(s.accounts, accountID)
		delete(s.byCustomer, customerID)
	}
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*billing.Account)
	s.byCustomer = make(map[string]string)
	s.subscriptions = make(map[string]*billing.SubscriptionRecord)
}

// Copies keep callers from mutating stored state through shared pointers.

func copyRecord(rec *billing.SubscriptionRecord) *billing.SubscriptionRecord {
	c := *rec
	c.PaymentBrand = copyString(rec.PaymentBrand)
	c.PaymentLast4 = copyString(rec.PaymentLast4)
	return &c
}

func copyAccount(acct *billing.Account) *billing.Account {
	c := *acct
	c.SubscriptionID = copyString(acct.SubscriptionID)
	return &c
}

func copyState(state billing.AccountState) billing.AccountState {
	state.SubscriptionID = copyString(state.SubscriptionID)
	return state
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
