package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/storage/memory"
)

// errorReader is an AccountReader that always fails
type errorReader struct{}

func (errorReader) GetAccountByCustomer(_ context.Context, _ string) (*billing.Account, error) {
	return nil, errors.New("connection refused")
}

// Test helper to create a store with one pro and one free account
func setupStore(t *testing.T) *memory.Storage {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	if _, err := store.CreateAccount(ctx, "acct_pro", "cus_pro"); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	subID := "sub_1"
	err := store.UpdateAccountBilling(ctx, "cus_pro", billing.AccountState{
		SubscriptionStatus: billing.StatusTrialing,
		Plan:               billing.PlanPro,
		BillingMode:        billing.BillingModeTrial,
		SubscriptionID:     &subID,
	})
	if err != nil {
		t.Fatalf("Failed to update account: %v", err)
	}
	if _, err := store.CreateAccount(ctx, "acct_free", "cus_free"); err != nil {
		t.Fatalf("Failed to create account: %v", err)
	}
	return store
}

func setupEcho(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/api/pro", func(c echo.Context) error {
		acct := AccountFromContext(c)
		if acct == nil {
			return c.NoContent(http.StatusTeapot)
		}
		return c.String(http.StatusOK, acct.ID)
	}, mw)
	return e
}

func doRequest(e *echo.Echo, customerID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/pro", http.NoBody)
	if customerID != "" {
		req.Header.Set("X-Customer-ID", customerID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequirePlan(t *testing.T) {
	e := setupEcho(RequirePlan(setupStore(t), FromHeader("X-Customer-ID"), billing.PlanPro))

	rec := doRequest(e, "cus_pro")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "acct_pro" {
		t.Errorf("Expected 'acct_pro', got %s", rec.Body.String())
	}

	rec = doRequest(e, "cus_free")
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"required_plan":"pro"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}

	if rec := doRequest(e, "cus_missing"); rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected status 402 for unknown customer, got %d", rec.Code)
	}
	if rec := doRequest(e, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_LookupError(t *testing.T) {
	e := setupEcho(RequirePlan(errorReader{}, FromHeader("X-Customer-ID"), billing.PlanPro))
	if rec := doRequest(e, "cus_pro"); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}

	e = setupEcho(Middleware(Config{
		Accounts:      errorReader{},
		GetCustomerID: FromHeader("X-Customer-ID"),
		OnError: func(c echo.Context, _ error) error {
			return c.NoContent(http.StatusServiceUnavailable)
		},
	}))
	if rec := doRequest(e, "cus_pro"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	e := setupEcho(Middleware(Config{
		Accounts:      setupStore(t),
		GetCustomerID: FromHeader("X-Customer-ID"),
		OnInsufficientPlan: func(c echo.Context, _ *billing.Account) error {
			return c.NoContent(http.StatusForbidden)
		},
		OnUnauthorized: func(c echo.Context) error {
			return c.NoContent(http.StatusForbidden)
		},
	}))

	if rec := doRequest(e, "cus_free"); rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
	if rec := doRequest(e, ""); rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsWithoutAccounts(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Middleware(Config{GetCustomerID: FromHeader("X-Customer-ID")})
}

func TestFromParam(t *testing.T) {
	e := echo.New()
	e.GET("/accounts/:customerID", func(c echo.Context) error {
		return c.String(http.StatusOK, FromParam("customerID")(c))
	}, RequirePlan(setupStore(t), FromParam("customerID"), billing.PlanPro))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/cus_pro", http.NoBody))
	if rec.Code != http.StatusOK || rec.Body.String() != "cus_pro" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

type stubProvider struct{ hits int }

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.hits++
		w.WriteHeader(http.StatusOK)
	})
}

func TestMountWebhook(t *testing.T) {
	e := echo.New()
	provider := &stubProvider{}
	MountWebhook(e.Group("/webhooks"), "/billing", provider)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/billing", http.NoBody))
	if rec.Code != http.StatusOK || provider.hits != 1 {
		t.Errorf("status = %d, hits = %d", rec.Code, provider.hits)
	}
}
