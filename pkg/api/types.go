package api

import "time"

// AccountResponse is the local billing state of one customer
type AccountResponse struct {
	CustomerID         string            `json:"customer_id"`
	AccountID          string            `json:"account_id"`
	SubscriptionStatus string            `json:"subscription_status"`
	Plan               string            `json:"plan"`
	BillingMode        string            `json:"billing_mode"`
	SubscriptionID     *string           `json:"subscription_id"`
	Subscription       *SubscriptionView `json:"subscription,omitempty"`
}

// SubscriptionView is the stored subscription record
type SubscriptionView struct {
	SubscriptionID     string     `json:"subscription_id"`
	Status             string     `json:"status"`
	PriceID            string     `json:"price_id,omitempty"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PaymentBrand       *string    `json:"payment_brand,omitempty"`
	PaymentLast4       *string    `json:"payment_last4,omitempty"`
}

// ResyncResponse reports an on-demand reconciliation
type ResyncResponse struct {
	CustomerID         string            `json:"customer_id"`
	Handled            bool              `json:"handled"`
	SubscriptionStatus string            `json:"subscription_status,omitempty"`
	Plan               string            `json:"plan,omitempty"`
	UnknownStatus      bool              `json:"unknown_status,omitempty"`
	Subscription       *SubscriptionView `json:"subscription,omitempty"`
	Errors             []string          `json:"errors,omitempty"`
}
