package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
	"github.com/mihaimyh/subsync/pkg/reconcile"
)

const (
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
)

// Reconciler re-derives a customer's billing state from the provider.
// *reconcile.Reconciler implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, customerID string) (*reconcile.Result, error)
}

// Config extends billing.Config with webhook options
type Config struct {
	billing.Config // WebhookSecret, SignatureTolerance, Metrics, Logger

	// Reconciler is invoked for every verified, relevant event (required).
	Reconciler Reconciler

	// RateLimitRequests per RateLimitWindow per client IP. Zero uses defaults.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Provider serves the Stripe webhook endpoint.
//
// Delivery policy: once a request is authentic, the endpoint always answers
// 200, even when reconciliation fails. The failure is logged and counted in
// webhook_errors_total{error_type="reconcile_failed"} instead of asking the
// provider to retry, which would only repeat the same full resync. Recovery
// is the next event for the customer, the periodic sweep, or an operator
// resync.
type Provider struct {
	reconciler    Reconciler
	rateLimiter   *internal.RateLimiter
	webhookSecret string
	tolerance     time.Duration
	metrics       billing.Metrics
	logger        billing.Logger
}

var _ billing.WebhookProvider = (*Provider)(nil)

// NewProvider creates a new Stripe webhook provider
func NewProvider(config Config) (*Provider, error) {
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", billing.ErrProviderNotConfigured)
	}
	if config.Reconciler == nil {
		return nil, fmt.Errorf("%w: reconciler is required", billing.ErrProviderNotConfigured)
	}

	requests := config.RateLimitRequests
	if requests <= 0 {
		requests = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	tolerance := config.SignatureTolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	return &Provider{
		reconciler:    config.Reconciler,
		rateLimiter:   internal.NewRateLimiter(requests, window),
		webhookSecret: secret,
		tolerance:     tolerance,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}
