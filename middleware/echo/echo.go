// Package echo provides Echo middleware that gates routes on the reconciled
// billing plan.
package echo

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// AccountKey is the Echo context key holding the entitled *billing.Account
const AccountKey = "subsync.account"

// AccountReader reads the reconciled account for a customer
type AccountReader interface {
	GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error)
}

// CustomerIDExtractor extracts the billing customer id from an Echo context
// Return empty string if the caller is not authenticated
type CustomerIDExtractor func(c echo.Context) string

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
	OnInsufficientPlan func(c echo.Context, acct *billing.Account) error

	// OnUnauthorized is called when no customer id is present
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when the account lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits only entitled customers
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Accounts == nil {
		panic("subsync/echo: Config.Accounts is required")
	}
	if cfg.GetCustomerID == nil {
		panic("subsync/echo: Config.GetCustomerID is required")
	}
	if cfg.Plan == "" {
		cfg.Plan = billing.PlanPro
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			customerID := cfg.GetCustomerID(c)
			if customerID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			acct, err := cfg.Accounts.GetAccountByCustomer(c.Request().Context(), customerID)
			if err != nil && !errors.Is(err, billing.ErrAccountNotFound) {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c)
			}

			if !acct.Entitles(cfg.Plan) {
				if cfg.OnInsufficientPlan != nil {
					return cfg.OnInsufficientPlan(c, acct)
				}
				return defaultInsufficientPlan(c, acct, cfg.Plan)
			}

			c.Set(AccountKey, acct)
			return next(c)
		}
	}
}

// RequirePlan is Middleware with the default responses
func RequirePlan(accounts AccountReader, getCustomerID CustomerIDExtractor, plan billing.Plan) echo.MiddlewareFunc {
	return Middleware(Config{Accounts: accounts, GetCustomerID: getCustomerID, Plan: plan})
}

// Router is implemented by *echo.Echo and *echo.Group
type Router interface {
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// MountWebhook registers the provider's webhook handler as a POST route.
// Do not bind the body before it: the signature covers the raw bytes.
func MountWebhook(r Router, path string, provider billing.WebhookProvider) {
	r.POST(path, echo.WrapHandler(provider.WebhookHandler()))
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultInsufficientPlan(c echo.Context, acct *billing.Account, required billing.Plan) error {
	body := map[string]interface{}{
		"error":         "Payment Required",
		"required_plan": required,
	}
	if acct != nil {
		body["plan"] = acct.Plan
		body["subscription_status"] = acct.SubscriptionStatus
	}
	return c.JSON(http.StatusPaymentRequired, body)
}

func defaultError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// AccountFromContext returns the account stored by Middleware, or nil
func AccountFromContext(c echo.Context) *billing.Account {
	acct, _ := c.Get(AccountKey).(*billing.Account)
	return acct
}

// Convenience extractors for the customer id

// FromContext returns a CustomerIDExtractor that gets the customer id from Echo context values
func FromContext(key string) CustomerIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets the customer id from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets the customer id from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
