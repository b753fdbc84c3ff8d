package billing

import (
	"context"
	"net/http"
)

// Client is the read-only view of the billing provider used by reconciliation.
type Client interface {
	// GetCustomer retrieves a customer by id.
	// Returns ErrCustomerNotFound when the provider does not know the id.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// ListSubscriptions returns every subscription of the customer in any
	// status, walking all pages.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// GetPaymentInstrument resolves a payment method reference to its card
	// display fields.
	GetPaymentInstrument(ctx context.Context, paymentMethodID string) (*PaymentInstrument, error)
}

// SubscriptionStore persists LocalSubscriptionRecords.
// Implementations enforce at most one record per customer id.
type SubscriptionStore interface {
	// UpsertSubscription inserts the record or replaces every field of the
	// existing record for the same customer id.
	UpsertSubscription(ctx context.Context, rec *SubscriptionRecord) error

	// DeleteSubscription removes the record for the customer. Deleting a
	// missing record is not an error.
	DeleteSubscription(ctx context.Context, customerID string) error

	// GetSubscription returns ErrSubscriptionNotFound when there is no record.
	GetSubscription(ctx context.Context, customerID string) (*SubscriptionRecord, error)
}

// AccountStore persists BillingAccounts.
type AccountStore interface {
	// CreateAccount provisions an account at the inactive baseline.
	CreateAccount(ctx context.Context, accountID, customerID string) (*Account, error)

	// UpdateAccountBilling overwrites the reconciler-owned fields of the
	// account with the given customer id. Returns ErrAccountNotFound if none.
	UpdateAccountBilling(ctx context.Context, customerID string, state AccountState) error

	// GetAccountByCustomer returns ErrAccountNotFound when there is no account.
	GetAccountByCustomer(ctx context.Context, customerID string) (*Account, error)

	// ListCustomerIDs returns the customer ids of every account that has one.
	ListCustomerIDs(ctx context.Context) ([]string, error)
}

// Store is the full local persistence surface.
type Store interface {
	SubscriptionStore
	AccountStore
}

// WebhookProvider is implemented by billing backends that ingest webhooks.
type WebhookProvider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The handler must receive the raw, unparsed request body.
	WebhookHandler() http.Handler
}
