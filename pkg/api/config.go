package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/reconcile"
)

// Resyncer reconciles one customer on demand.
// *reconcile.Reconciler implements it.
type Resyncer interface {
	Reconcile(ctx context.Context, customerID string) (*reconcile.Result, error)
}

// Config holds configuration for the operator API handler
type Config struct {
	// Store reads local billing state (required)
	Store billing.Store

	// Resyncer runs on-demand reconciliations (required)
	Resyncer Resyncer

	// GetCustomerID extracts the customer id from the request.
	// If nil, the {customerID} route parameter is used.
	GetCustomerID func(*http.Request) string

	// OperatorToken, when set, must be presented as a bearer token.
	OperatorToken string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional
	Logger billing.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Resyncer == nil {
		return fmt.Errorf("resyncer is required")
	}
	return nil
}

// NewHandler creates a new operator API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetCustomerID == nil {
		config.GetCustomerID = FromURLParam("customerID")
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common customer id extraction patterns

// FromURLParam returns a GetCustomerID function that reads a chi route parameter
func FromURLParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// FromHeader returns a GetCustomerID function that extracts the id from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
