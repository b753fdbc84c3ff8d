package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrMissingSignature is returned when a webhook request carries no signature header
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrCustomerNotFound is returned when a customer cannot be found in the provider.
	// During reconciliation this points at corrupted local data, not a race.
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrAccountNotFound is returned when no local account carries the customer id
	ErrAccountNotFound = errors.New("billing account not found")

	// ErrAccountExists is returned when provisioning an account id or customer id twice
	ErrAccountExists = errors.New("billing account already exists")

	// ErrSubscriptionNotFound is returned when no local subscription record exists
	ErrSubscriptionNotFound = errors.New("subscription record not found")

	// ErrInvalidCustomerID is returned for an empty customer id
	ErrInvalidCustomerID = errors.New("invalid customer id")
)
