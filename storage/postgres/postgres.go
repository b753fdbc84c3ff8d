// Package postgres provides a PostgreSQL implementation of the billing.Store interface.
// Uniqueness on customer id is enforced by the schema; upserts use ON CONFLICT.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const uniqueViolation = "23505"

// Storage implements billing.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

var _ billing.Store = (*Storage)(nil)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies pending migrations in New.
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := Migrate(config.ConnectionString); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertSubscription implements billing.SubscriptionStore
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	if rec == nil || rec.CustomerID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (customer_id, subscription_id, status, price_id,
				current_period_start, current_period_end, cancel_at_period_end, payment_brand, payment_last4)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (customer_id) DO UPDATE SET
				subscription_id = EXCLUDED.subscription_id,
				status = EXCLUDED.status,
				price_id = EXCLUDED.price_id,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				payment_brand = EXCLUDED.payment_brand,
				payment_last4 = EXCLUDED.payment_last4`,
		rec.CustomerID, rec.SubscriptionID, string(rec.Status), rec.PriceID,
		nullTime(rec.CurrentPeriodStart), nullTime(rec.CurrentPeriodEnd), rec.CancelAtPeriodEnd,
		rec.PaymentBrand, rec.PaymentLast4,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, customerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, customerID string) (*billing.SubscriptionRecord, error) {
	var rec billing.SubscriptionRecord
	var status string
	var start, end *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, subscription_id, status, price_id, current_period_start,
				current_period_end, cancel_at_period_end, payment_brand, payment_last4
			FROM subscriptions WHERE customer_id = $1`,
		customerID).Scan(
		&rec.CustomerID,
		&rec.SubscriptionID,
		&status,
		&rec.PriceID,
		&start,
		&end,
		&rec.CancelAtPeriodEnd,
		&rec.PaymentBrand,
		&rec.PaymentLast4,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	rec.Status = billing.Status(status)
	rec.CurrentPeriodStart = fromNullTime(start)
	rec.CurrentPeriodEnd = fromNullTime(end)
	return &rec, nil
}

// CreateAccount implements billing.AccountStore
func (s *Storage) CreateAccount(ctx context.Context, accountID, customerID string) (*billing.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	acct := &billing.Account{ID: accountID, CustomerID: customerID}
	acct.Apply(billing.InactiveState())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_accounts (id, customer_id, subscription_status, plan, billing_mode, subscription_id)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULL)`,
		acct.ID, acct.CustomerID, string(acct.SubscriptionStatus), string(acct.Plan), string(acct.BillingMode),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, billing.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// UpdateAccountBilling implements billing.AccountStore
func (s *Storage) UpdateAccountBilling(ctx context.Context, customerID string, state billing.AccountState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE billing_accounts
			SET subscription_status = $2, plan = $3, billing_mode = $4, subscription_id = $5
			WHERE customer_id = $1`,
		customerID, string(state.SubscriptionStatus), string(state.Plan), string(state.BillingMode), state.SubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}

// GetAccountByCustomer implements billing.AccountStore
func (s *Storage) GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error) {
	var acct billing.Account
	var status, plan, mode string

	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, subscription_status, plan, billing_mode, subscription_id
			FROM billing_accounts WHERE customer_id = $1`,
		customerID).Scan(
		&acct.ID,
		&acct.CustomerID,
		&status,
		&plan,
		&mode,
		&acct.SubscriptionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.SubscriptionStatus = billing.Status(status)
	acct.Plan = billing.Plan(plan)
	acct.BillingMode = billing.BillingMode(mode)
	return &acct, nil
}

// ListCustomerIDs implements billing.AccountStore
func (s *Storage) ListCustomerIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT customer_id FROM billing_accounts WHERE customer_id IS NOT NULL ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list customer ids: %w", err)
	}
	return ids, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
