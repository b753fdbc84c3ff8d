// Package gin provides Gin middleware that gates routes on the reconciled
// billing plan.
package gin

import (
	"context"
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// AccountKey is the Gin context key holding the entitled *billing.Account
const AccountKey = "subsync.account"

// AccountReader reads the reconciled account for a customer
type AccountReader interface {
	GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error)
}

// CustomerIDExtractor extracts the billing customer id from a Gin context
// Return empty string if the caller is not authenticated
type CustomerIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Accounts reads the reconciled account state (required)
	Accounts AccountReader

	// GetCustomerID extracts the customer id from context (required)
	GetCustomerID CustomerIDExtractor

	// Plan is the plan the route requires
	// Default: billing.PlanPro
	Plan billing.Plan

	// OnInsufficientPlan is called when the account does not carry Plan
	// If nil, returns 402 Payment Required
	OnInsufficientPlan func(c *gongin.Context, acct *billing.Account)

	// OnUnauthorized is called when no customer id is present
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when the account lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only entitled customers
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Accounts == nil {
		panic("subsync/gin: Config.Accounts is required")
	}
	if cfg.GetCustomerID == nil {
		panic("subsync/gin: Config.GetCustomerID is required")
	}
	if cfg.Plan == "" {
		cfg.Plan = billing.PlanPro
	}

	return func(c *gongin.Context) {
		customerID := cfg.GetCustomerID(c)
		if customerID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		acct, err := cfg.Accounts.GetAccountByCustomer(c.Request.Context(), customerID)
		if err != nil && !errors.Is(err, billing.ErrAccountNotFound) {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c)
			}
			c.Abort()
			return
		}

		if !acct.Entitles(cfg.Plan) {
			if cfg.OnInsufficientPlan != nil {
				cfg.OnInsufficientPlan(c, acct)
			} else {
				defaultInsufficientPlan(c, acct, cfg.Plan)
			}
			c.Abort()
			return
		}

		c.Set(AccountKey, acct)
		c.Next()
	}
}

// RequirePlan is Middleware with the default responses
func RequirePlan(accounts AccountReader, getCustomerID CustomerIDExtractor, plan billing.Plan) gongin.HandlerFunc {
	return Middleware(Config{Accounts: accounts, GetCustomerID: getCustomerID, Plan: plan})
}

// MountWebhook registers the provider's webhook handler as a POST route.
// Do not put body-binding middleware in front of it: the signature covers the raw bytes.
func MountWebhook(r gongin.IRoutes, path string, provider billing.WebhookProvider) {
	r.POST(path, gongin.WrapH(provider.WebhookHandler()))
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultInsufficientPlan(c *gongin.Context, acct *billing.Account, required billing.Plan) {
	body := gongin.H{
		"error":         "Payment Required",
		"required_plan": required,
	}
	if acct != nil {
		body["plan"] = acct.Plan
		body["subscription_status"] = acct.SubscriptionStatus
	}
	c.JSON(http.StatusPaymentRequired, body)
}

func defaultError(c *gongin.Context) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// AccountFromContext returns the account stored by Middleware, or nil
func AccountFromContext(c *gongin.Context) *billing.Account {
	if val, exists := c.Get(AccountKey); exists {
		if acct, ok := val.(*billing.Account); ok {
			return acct
		}
	}
	return nil
}

// Convenience extractors for the customer id

// FromContext returns a CustomerIDExtractor that gets the customer id from Gin context values.
// Use it with auth middleware that calls c.Set(key, customerID).
func FromContext(key string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets the customer id from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets the customer id from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
