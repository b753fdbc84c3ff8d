package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	providerName       = "stripe"
	defaultHTTPTimeout = 10 * time.Second

	endpointCustomers      = "/v1/customers"
	endpointSubscriptions  = "/v1/subscriptions"
	endpointPaymentMethods = "/v1/payment_methods"
)

// Client implements billing.Client on the Stripe API.
type Client struct {
	stripeClient *stripe.Client
	metrics      billing.Metrics
}

var _ billing.Client = (*Client)(nil)

// NewClient creates a Stripe API client from config.APIKey.
func NewClient(config billing.Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: stripe API key is required", billing.ErrProviderNotConfigured)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Client{
		stripeClient: stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackends(httpClient))),
		metrics:      metrics,
	}, nil
}

// GetCustomer implements billing.Client
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*billing.Customer, error) {
	startTime := time.Now()
	cust, err := c.stripeClient.V1Customers.Retrieve(ctx, customerID, nil)
	c.recordCall(endpointCustomers, startTime, err)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, customerID)
		}
		return nil, fmt.Errorf("%w: retrieve customer: %w", billing.ErrProviderAPIError, err)
	}
	return &billing.Customer{ID: cust.ID, Deleted: cust.Deleted}, nil
}

// ListSubscriptions implements billing.Client. It lists every status and
// every page, with the default payment method expanded so the card fields
// rarely need a second call.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	startTime := time.Now()
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.AddExpand("data.default_payment_method")

	var subs []billing.Subscription
	for sub, err := range c.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			c.recordCall(endpointSubscriptions, startTime, err)
			return nil, fmt.Errorf("%w: list subscriptions: %w", billing.ErrProviderAPIError, err)
		}
		subs = append(subs, fromStripeSubscription(sub))
	}

	c.recordCall(endpointSubscriptions, startTime, nil)
	return subs, nil
}

// GetPaymentInstrument implements billing.Client. Methods without a card
// return a nil instrument and no error.
func (c *Client) GetPaymentInstrument(ctx context.Context, paymentMethodID string) (*billing.PaymentInstrument, error) {
	startTime := time.Now()
	pm, err := c.stripeClient.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
	c.recordCall(endpointPaymentMethods, startTime, err)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve payment method: %w", billing.ErrProviderAPIError, err)
	}
	return cardInstrument(pm), nil
}

func cardInstrument(pm *stripe.PaymentMethod) *billing.PaymentInstrument {
	if pm == nil || pm.Card == nil || pm.Card.Last4 == "" {
		return nil
	}
	return &billing.PaymentInstrument{Brand: string(pm.Card.Brand), Last4: pm.Card.Last4}
}

func (c *Client) recordCall(endpoint string, startTime time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
}

func isNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

// fromStripeSubscription converts to the provider-neutral view. Period bounds
// live on the subscription items in current API versions.
func fromStripeSubscription(sub *stripe.Subscription) billing.Subscription {
	out := billing.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Created:           sub.Created,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			si := billing.SubscriptionItem{
				CurrentPeriodStart: item.CurrentPeriodStart,
				CurrentPeriodEnd:   item.CurrentPeriodEnd,
			}
			if item.Price != nil {
				si.PriceID = item.Price.ID
			}
			out.Items = append(out.Items, si)
		}
	}
	if pm := sub.DefaultPaymentMethod; pm != nil && pm.ID != "" {
		// An unexpanded reference decodes to a bare id; the type is only
		// present on the full object.
		ref := &billing.PaymentMethodRef{ID: pm.ID, Expanded: pm.Type != ""}
		if card := cardInstrument(pm); card != nil {
			ref.Expanded = true
			ref.Card = card
		}
		out.DefaultPaymentMethod = ref
	}
	return out
}
