// Package http provides net/http middleware that gates routes on the
// reconciled billing plan.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// AccountReader reads the reconciled account for a customer.
// billing.Store implementations satisfy it.
type AccountReader interface {
	GetAccountByCustomer(ctx context.Context, customerID string) (*billing.Account, error)
}

// CustomerIDExtractor extracts the billing customer id from an HTTP request
// Return empty string if the caller is not authenticated
type CustomerIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Accounts reads the reconciled account state (required)
	Accounts AccountReader

	// GetCustomerID extracts the customer id from request (required)
	GetCustomerID CustomerIDExtractor

	// Plan is the plan the route requires
	// Default: billing.PlanPro
	Plan billing.Plan

	// OnInsufficientPlan is called when the account does not carry Plan.
	// acct is nil when the customer has no local account.
	// If nil, returns 402 Payment Required
	OnInsufficientPlan func(w http.ResponseWriter, r *http.Request, acct *billing.Account)

	// OnUnauthorized is called when no customer id is present
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the account lookup fails
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only entitled customers
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Accounts == nil {
		panic("subsync/http: Config.Accounts is required")
	}
	if config.GetCustomerID == nil {
		panic("subsync/http: Config.GetCustomerID is required")
	}
	if config.Plan == "" {
		config.Plan = billing.PlanPro
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			customerID := config.GetCustomerID(r)
			if customerID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeError(w, http.StatusUnauthorized, "Unauthorized")
				}
				return
			}

			acct, err := config.Accounts.GetAccountByCustomer(r.Context(), customerID)
			if err != nil && !errors.Is(err, billing.ErrAccountNotFound) {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
				}
				return
			}

			if !acct.Entitles(config.Plan) {
				if config.OnInsufficientPlan != nil {
					config.OnInsufficientPlan(w, r, acct)
				} else {
					defaultInsufficientPlan(w, acct, config.Plan)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AccountKey, acct)))
		})
	}
}

// RequirePlan is Middleware with the default responses
func RequirePlan(accounts AccountReader, getCustomerID CustomerIDExtractor, plan billing.Plan) func(http.Handler) http.Handler {
	return Middleware(Config{Accounts: accounts, GetCustomerID: getCustomerID, Plan: plan})
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// MountWebhook registers the provider's webhook handler on mux at path.
// The handler reads the raw body itself, so nothing may wrap it that parses it.
func MountWebhook(mux *http.ServeMux, path string, provider billing.WebhookProvider) {
	mux.Handle(path, provider.WebhookHandler())
}

func defaultInsufficientPlan(w http.ResponseWriter, acct *billing.Account, required billing.Plan) {
	body := map[string]interface{}{
		"error":         "Payment Required",
		"required_plan": required,
	}
	if acct != nil {
		body["plan"] = acct.Plan
		body["subscription_status"] = acct.SubscriptionStatus
	}
	writeJSON(w, http.StatusPaymentRequired, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // response already committed
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// AccountKey is the context key for the entitled *billing.Account
	AccountKey ContextKey = "subsync:account"
)

// AccountFromContext returns the account stored by Middleware, or nil
func AccountFromContext(ctx context.Context) *billing.Account {
	acct, _ := ctx.Value(AccountKey).(*billing.Account)
	return acct
}

// FromContext returns a CustomerIDExtractor that gets the customer id from request context
func FromContext(key interface{}) CustomerIDExtractor {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}

// FromHeader returns a CustomerIDExtractor that gets the customer id from a header
func FromHeader(headerName string) CustomerIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
