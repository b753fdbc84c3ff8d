// Package firestore provides a Firestore implementation of the billing.Store interface.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// Storage implements billing.Store using Google Cloud Firestore.
//
// Layout:
//
//	{accounts}/{accountID}          account fields
//	{customers}/{customerID}        {accountId} index, unique per customer
//	{subscriptions}/{customerID}    the local subscription record
type Storage struct {
	client                  *firestore.Client
	accountsCollection      string
	customersCollection     string
	subscriptionsCollection string
}

var _ billing.Store = (*Storage)(nil)

// Config holds Firestore storage configuration
type Config struct {
	// AccountsCollection is the Firestore collection for billing accounts
	// Default: "billing_accounts"
	AccountsCollection string

	// CustomersCollection indexes accounts by provider customer id
	// Default: "billing_customers"
	CustomersCollection string

	// SubscriptionsCollection is the Firestore collection for subscription records
	// Default: "billing_subscriptions"
	SubscriptionsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.AccountsCollection == "" {
		config.AccountsCollection = "billing_accounts"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}

	return &Storage{
		client:                  client,
		accountsCollection:      config.AccountsCollection,
		customersCollection:     config.CustomersCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
	}, nil
}

// UpsertSubscription implements billing.SubscriptionStore.
// Set without merge replaces every field, so cleared payment fields do not linger.
func (s *Storage) UpsertSubscription(ctx context.Context, rec *billing.SubscriptionRecord) error {
	if rec == nil || rec.CustomerID == "" {
		return fmt.Errorf("invalid subscription record")
	}

	doc := s.client.Collection(s.subscriptionsCollection).Doc(rec.CustomerID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"subscriptionId":     rec.SubscriptionID,
		"status":             string(rec.Status),
		"priceId":            rec.PriceID,
		"currentPeriodStart": rec.CurrentPeriodStart,
		"currentPeriodEnd":   rec.CurrentPeriodEnd,
		"cancelAtPeriodEnd":  rec.CancelAtPeriodEnd,
		"paymentBrand":       stringOrNil(rec.PaymentBrand),
		"paymentLast4":       stringOrNil(rec.PaymentLast4),
	})
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// DeleteSubscription implements billing.SubscriptionStore
func (s *Storage) DeleteSubscription(ctx context.Context, customerID string) error {
	_, err := s.client.Collection(s.subscriptionsCollection).Doc(customerID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// GetSubscription implements billing.SubscriptionStore
func (s *Storage) GetSubscription(ctx context.Context, customerID string) (*billing.SubscriptionRecord, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, billing.ErrSubscriptionNotFound
	}

	data := snap.Data()
	return &billing.SubscriptionRecord{
		CustomerID:         customerID,
		SubscriptionID:     getString(data, "subscriptionId"),
		Status:             billing.Status(getString(data, "status")),
		PriceID:            getString(data, "priceId"),
		CurrentPeriodStart: getTime(data, "currentPeriodStart"),
		CurrentPeriodEnd:   getTime(data, "currentPeriodEnd"),
		CancelAtPeriodEnd:  getBool(data, "cancelAtPeriodEnd"),
		PaymentBrand:       getStringPtr(data, "paymentBrand"),
		PaymentLast4:       getStringPtr(data, "paymentLast4"),
	}, nil
}

// CreateAccount implements billing.AccountStore.
// The account and its customer index are created in one transaction.
func (s *Storage) CreateAccount(ctx context.Context, accountID, customerID string) (*billing.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	acct := &billing.Account{ID: accountID, CustomerID: customerID}
	acct.Apply(billing.InactiveState())

	acctRef := s.client.Collection(s.accountsCollection).Doc(accountID)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// Reads must precede writes in a transaction
		exists, err := docExists(tx, acctRef)
		if err != nil {
			return err
		}
		if exists {
			return billing.ErrAccountExists
		}

		var custRef *firestore.DocumentRef
		if customerID != "" {
			custRef = s.client.Collection(s.customersCollection).Doc(customerID)
			exists, err = docExists(tx, custRef)
			if err != nil {
				return err
			}
			if exists {
				return billing.ErrAccountExists
			}
		}

		if err := tx.Create(acctRef, accountData(acct)); err != nil {
			return err
		}
		if custRef != nil {
			return tx.Create(custRef, map[string]interface{}{"accountId": accountID})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, billing.ErrAccountExists) || status.Code(err) == codes.AlreadyExists {
			return nil, billing.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// UpdateAccountBilling implements billing.AccountStore
func (s *Storage) UpdateAccountBilling(ctx context.Context, customerID string, state billing.AccountState) error {
	custRef := s.client.Collection(s.customersCollection).Doc(customerID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(custRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return billing.ErrAccountNotFound
			}
			return err
		}

		acctRef := s.client.Collection(s.accountsCollection).Doc(getString(snap.Data(), "accountId"))
		return tx.Update(acctRef, []firestore.Update{
			{Path: "subscriptionStatus", Value: string(state.SubscriptionStatus)},
			{Path: "plan", Value: string(state.Plan)},
			{Path: "billingMode", Value: string(state.BillingMode)},
			{Path: "subscriptionId", Value: stringOrNil(state.SubscriptionID)},
		})
	})
	if err != nil {
		if errors.Is(err, billing.ErrAccountNotFound) || status.Code(err) == codes.NotFound {
			return billing.ErrAccountNotFound
		}
		return fmt.Errorf("failed to update account billing: %w", err)
	}
	return nil
}

// GetAccountByCustomer implements billing.AccountStore
func (s *Storage) GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error) {
	custSnap, err := s.client.Collection(s.customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get customer index: %w", err)
	}

	accountID := getString(custSnap.Data(), "accountId")
	snap, err := s.client.Collection(s.accountsCollection).Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	data := snap.Data()
	return &billing.Account{
		ID:                 accountID,
		CustomerID:         customerID,
		SubscriptionStatus: billing.Status(getString(data, "subscriptionStatus")),
		Plan:               billing.Plan(getString(data, "plan")),
		BillingMode:        billing.BillingMode(getString(data, "billingMode")),
		SubscriptionID:     getStringPtr(data, "subscriptionId"),
	}, nil
}

// ListCustomerIDs implements billing.AccountStore
func (s *Storage) ListCustomerIDs(ctx context.Context) ([]string, error) {
	snaps, err := s.client.Collection(s.customersCollection).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func accountData(acct *billing.Account) map[string]interface{} {
	return map[string]interface{}{
		"customerId":         acct.CustomerID,
		"subscriptionStatus": string(acct.SubscriptionStatus),
		"plan":               string(acct.Plan),
		"billingMode":        string(acct.BillingMode),
		"subscriptionId":     stringOrNil(acct.SubscriptionID),
	}
}

// docExists reads ref inside tx, treating NotFound as a plain miss
func docExists(tx *firestore.Transaction, ref *firestore.DocumentRef) (bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return snap.Exists(), nil
}

// Helper functions for type conversion from Firestore data

func stringOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getStringPtr(data map[string]interface{}, key string) *string {
	if v, ok := data[key].(string); ok {
		return &v
	}
	return nil
}

func getBool(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
