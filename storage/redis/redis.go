// Package redis provides a Redis implementation of the billing.Store interface.
// Account provisioning and billing updates run as Lua scripts so the
// uniqueness checks and writes are atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Storage implements billing.Store using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

var _ billing.Store = (*Storage)(nil)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:")
	KeyPrefix string

	// SubscriptionTTL is the TTL for subscription record keys (0 = no expiration).
	// Set it when Redis is a cache in front of a durable store.
	SubscriptionTTL time.Duration

	// AccountTTL is the TTL for accounts written with PutAccount (0 = no expiration)
	AccountTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "subsync:",
	}
}

// CacheConfig returns a Config suited to a hot cache in front of a durable store
func CacheConfig() Config {
	return Config{
		KeyPrefix:       "subsync:",
		SubscriptionTTL: time.Hour,
		AccountTTL:      time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "subsync:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	// Load Lua scripts
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Provision an account; fails if the account id or customer id is taken
	s.scripts["create_account"] = redis.NewScript(`
		local idKey = KEYS[1]
		local accountKey = KEYS[2]
		local customersKey = KEYS[3]
		local customerID = ARGV[2]

		if redis.call('EXISTS', idKey) == 1 then
			return 0
		end
		if customerID ~= '' and redis.call('EXISTS', accountKey) == 1 then
			return 0
		end

		redis.call('SET', idKey, customerID)
		if customerID ~= '' then
			redis.call('HSET', accountKey,
				'id', ARGV[1],
				'customer_id', customerID,
				'status', ARGV[3],
				'plan', ARGV[4],
				'mode', ARGV[5],
				'subscription_id', '')
			redis.call('SADD', customersKey, customerID)
		end
		return 1
	`)

	// Overwrite the reconciler-owned fields of an existing account
	s.scripts["update_account"] = redis.NewScript(`
		local accountKey = KEYS[1]
		if redis.call('EXISTS', accountKey) == 0 then
			return 0
		end
		redis.call('HSET', accountKey,
			'status', ARGV[1],
			'plan', ARGV[2],
			'mode', ARGV[3],
			'subscription_id', ARGV[4])
		return 1
	`)
}

type subscriptionDoc struct {
	CustomerID         string    `json:"customer_id"`
	SubscriptionID     string    `json:"subscription_id"`
	Status             string    `json:"status"`
	PriceID            string    `json:"price_id"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	PaymentBrand       *string   `json:"payment_brand"`
	PaymentLast4       *string   `json:"payment_last4"`
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	if rec == nil || rec.CustomerID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	data, err := json.Marshal(subscriptionDoc{
		CustomerID:         rec.CustomerID,
		SubscriptionID:     rec.SubscriptionID,
		Status:             string(rec.Status),
		PriceID:            rec.PriceID,
		CurrentPeriodStart: rec.CurrentPeriodStart,
		CurrentPeriodEnd:   rec.CurrentPeriodEnd,
		CancelAtPeriodEnd:  rec.CancelAtPeriodEnd,
		PaymentBrand:       rec.PaymentBrand,
		PaymentLast4:       rec.PaymentLast4,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := s.client.Set(ctx, s.subscriptionKey(rec.CustomerID), data, s.config.SubscriptionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, s.subscriptionKey(customerID)).Err(); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, customerID string) (*billing.SubscriptionRecord, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var doc subscriptionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return &billing.SubscriptionRecord{
		CustomerID:         doc.CustomerID,
		SubscriptionID:     doc.SubscriptionID,
		Status:             billing.Status(doc.Status),
		PriceID:            doc.PriceID,
		CurrentPeriodStart: doc.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   doc.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:  doc.CancelAtPeriodEnd,
		PaymentBrand:       doc.PaymentBrand,
		PaymentLast4:       doc.PaymentLast4,
	}, nil
}

// CreateAccount implements billing.AccountStore
func (s *Storage) CreateAccount(ctx context.Context, accountID, customerID string) (*billing.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	acct := &billing.Account{ID: accountID, CustomerID: customerID}
	acct.Apply(billing.InactiveState())

	created, err := s.scripts["create_account"].Run(ctx, s.client,
		[]string{s.accountIDKey(accountID), s.accountKey(customerID), s.customersKey()},
		accountID, customerID, string(acct.SubscriptionStatus), string(acct.Plan), string(acct.BillingMode),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if created == 0 {
		return nil, billing.ErrAccountExists
	}
	return acct, nil
}

// UpdateAccountBilling implements billing.AccountStore
func (s *Storage) UpdateAccountBilling(ctx context.Context, customerID string, state billing.AccountState) error {
	updated, err := s.scripts["update_account"].Run(ctx, s.client,
		[]string{s.accountKey(customerID)},
		string(state.SubscriptionStatus), string(state.Plan), string(state.BillingMode), deref(state.SubscriptionID),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to update account billing: %w", err)
	}
	if updated == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}

// GetAccountByCustomer implements billing.AccountStore
func (s *Storage) GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(customerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(fields) == 0 {
		return nil, billing.ErrAccountNotFound
	}

	acct := &billing.Account{
		ID:                 fields["id"],
		CustomerID:         fields["customer_id"],
		SubscriptionStatus: billing.Status(fields["status"]),
		Plan:               billing.Plan(fields["plan"]),
		BillingMode:        billing.BillingMode(fields["mode"]),
	}
	if id := fields["subscription_id"]; id != "" {
		acct.SubscriptionID = &id
	}
	return acct, nil
}

// ListCustomerIDs implements billing.AccountStore
func (s *Storage) ListCustomerIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.customersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list customer ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// PutAccount writes a full account, as a cache fill from a durable store
func (s *Storage) PutAccount(ctx context.Context, acct *billing.Account) error {
	if acct == nil || acct.CustomerID == "" {
		return fmt.Errorf("invalid account")
	}

	key := s.accountKey(acct.CustomerID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", acct.ID,
			"customer_id", acct.CustomerID,
			"status", string(acct.SubscriptionStatus),
			"plan", string(acct.Plan),
			"mode", string(acct.BillingMode),
			"subscription_id", deref(acct.SubscriptionID),
		)
		if s.config.AccountTTL > 0 {
			pipe.Expire(ctx, key, s.config.AccountTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// EvictAccount removes a cached account
func (s *Storage) EvictAccount(ctx context.Context, customerID string) error {
	if err := s.client.Del(ctx, s.accountKey(customerID)).Err(); err != nil {
		return fmt.Errorf("failed to evict account: %w", err)
	}
	return nil
}

// subscriptionKey generates the Redis key for a subscription record
func (s *Storage) subscriptionKey(customerID string) string {
	return fmt.Sprintf("%ssubscription:%s", s.config.KeyPrefix, customerID)
}

// accountKey generates the Redis key for an account, addressed by customer id
func (s *Storage) accountKey(customerID string) string {
	return fmt.Sprintf("%saccount:%s", s.config.KeyPrefix, customerID)
}

// accountIDKey reserves an account id
func (s *Storage) accountIDKey(accountID string) string {
	return fmt.Sprintf("%saccount_id:%s", s.config.KeyPrefix, accountID)
}

func (s *Storage) customersKey() string {
	return s.config.KeyPrefix + "customers"
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
