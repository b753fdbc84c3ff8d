// Package fiber provides Fiber middleware that gates routes on the reconciled
// billing plan.
package fiber

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// AccountKey is the Fiber Locals key holding the entitled *billing.Account
const AccountKey = "subsync.account"

// AccountReader reads the reconciled account for a customer
type AccountReader interface {
	GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error)
}

// CustomerIDExtractor extracts the billing customer id from a Fiber context
// Return empty string if the caller is not authenticated
type CustomerIDExtractor func(c *fiber.Ctx) string

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
	OnInsufficientPlan func(c *fiber.Ctx, acct *billing.Account) error

	// OnUnauthorized is called when no customer id is present
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when the account lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only entitled customers
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Accounts == nil {
		panic("subsync/fiber: Config.Accounts is required")
	}
	if cfg.GetCustomerID == nil {
		panic("subsync/fiber: Config.GetCustomerID is required")
	}
	if cfg.Plan == "" {
		cfg.Plan = billing.PlanPro
	}

	return func(c *fiber.Ctx) error {
		customerID := cfg.GetCustomerID(c)
		if customerID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		acct, err := cfg.Accounts.GetAccountByCustomer(c.UserContext(), customerID)
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

		c.Locals(AccountKey, acct)
		return c.Next()
	}
}

// RequirePlan is Middleware with the default responses
func RequirePlan(accounts AccountReader, getCustomerID CustomerIDExtractor, plan billing.Plan) fiber.Handler {
	return Middleware(Config{Accounts: accounts, GetCustomerID: getCustomerID, Plan: plan})
}

// MountWebhook registers the provider's webhook handler as a POST route
// through the net/http adaptor, which passes the raw body through.
func MountWebhook(r fiber.Router, path string, provider billing.WebhookProvider) {
	r.Post(path, adaptor.HTTPHandler(provider.WebhookHandler()))
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultInsufficientPlan(c *fiber.Ctx, acct *billing.Account, required billing.Plan) error {
	body := fiber.Map{
		"error":         "Payment Required",
		"required_plan": required,
	}
	if acct != nil {
		body["plan"] = acct.Plan
		body["subscription_status"] = acct.SubscriptionStatus
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(body)
}

func defaultError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// AccountFromContext returns the account stored by Middleware, or nil
func AccountFromContext(c *fiber.Ctx) *billing.Account {
	acct, _ := c.Locals(AccountKey).(*billing.Account)
	return acct
}

// Convenience extractors for the customer id

// FromContext returns a CustomerIDExtractor that gets the customer id from Fiber Locals
func FromContext(key string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets the customer id from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a CustomerIDExtractor that gets the customer id from a route parameter
func FromParam(paramName string) CustomerIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
