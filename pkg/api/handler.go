package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const maxCustomerIDLen = 255

// Handler provides HTTP endpoints for inspecting and repairing billing state
type Handler struct {
	config Config
}

// Routes returns a router with GET /{customerID} and POST /{customerID}/resync.
// Mount it under a prefix such as /billing/accounts.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	if h.config.OperatorToken != "" {
		r.Use(h.requireToken)
	}
	r.Get("/{customerID}", h.GetAccount)
	r.Post("/{customerID}/resync", h.Resync)
	return r
}

// GetAccount returns the account billing fields and the stored subscription record
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	acct, err := h.config.Store.GetAccountByCustomer(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, billing.ErrAccountNotFound) {
			h.handleError(w, r, err, http.StatusNotFound)
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to get account: %w", err), http.StatusInternalServerError)
		return
	}

	response := AccountResponse{
		CustomerID:         customerID,
		AccountID:          acct.ID,
		SubscriptionStatus: string(acct.SubscriptionStatus),
		Plan:               string(acct.Plan),
		BillingMode:        string(acct.BillingMode),
		SubscriptionID:     acct.SubscriptionID,
	}

	rec, err := h.config.Store.GetSubscription(r.Context(), customerID)
	switch {
	case err == nil:
		response.Subscription = toView(rec)
	case !errors.Is(err, billing.ErrSubscriptionNotFound):
		h.handleError(w, r, fmt.Errorf("failed to get subscription: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// Resync reconciles the customer against the provider now.
// Provider failures answer 502, local write failures 500.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}

	res, err := h.config.Resyncer.Reconcile(r.Context(), customerID)
	if err != nil {
		h.config.Logger.Warn("operator resync failed",
			billing.F("customer_id", customerID),
			billing.F("error", err),
		)
		switch {
		case errors.Is(err, billing.ErrCustomerNotFound):
			h.handleError(w, r, err, http.StatusNotFound)
		case errors.Is(err, billing.ErrInvalidCustomerID):
			h.handleError(w, r, err, http.StatusBadRequest)
		default:
			h.handleError(w, r, err, http.StatusBadGateway)
		}
		return
	}

	response := ResyncResponse{
		CustomerID:         customerID,
		Handled:            res.Err() == nil,
		SubscriptionStatus: string(res.Account.SubscriptionStatus),
		Plan:               string(res.Account.Plan),
		UnknownStatus:      res.UnknownStatus,
		Subscription:       toView(res.Record),
	}
	for _, e := range []error{res.RecordErr, res.AccountErr} {
		if e != nil {
			response.Errors = append(response.Errors, e.Error())
		}
	}

	code := http.StatusOK
	if !response.Handled {
		code = http.StatusInternalServerError
	}
	h.config.Logger.Info("operator resync",
		billing.F("customer_id", customerID),
		billing.F("handled", response.Handled),
	)
	writeJSON(w, code, response)
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID := strings.TrimSpace(h.config.GetCustomerID(r))
	if customerID == "" || len(customerID) > maxCustomerIDLen {
		h.handleError(w, r, billing.ErrInvalidCustomerID, http.StatusBadRequest)
		return "", false
	}
	return customerID, true
}

func (h *Handler) requireToken(next http.Handler) http.Handler {
	want := []byte(h.config.OperatorToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			h.handleError(w, r, fmt.Errorf("unauthorized"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toView(rec *billing.SubscriptionRecord) *SubscriptionView {
	if rec == nil {
		return nil
	}
	return &SubscriptionView{
		SubscriptionID:     rec.SubscriptionID,
		Status:             string(rec.Status),
		PriceID:            rec.PriceID,
		CurrentPeriodStart: timePtr(rec.CurrentPeriodStart),
		CurrentPeriodEnd:   timePtr(rec.CurrentPeriodEnd),
		CancelAtPeriodEnd:  rec.CancelAtPeriodEnd,
		PaymentBrand:       rec.PaymentBrand,
		PaymentLast4:       rec.PaymentLast4,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Log encoding error but response already sent
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{
		"error": err.Error(),
	})
}
