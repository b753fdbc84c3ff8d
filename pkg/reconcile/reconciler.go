// Package reconcile re-derives local billing state from a full read of the
// billing provider.
//
// Every reconciliation lists all of a customer's subscriptions, selects one
// winner deterministically and replaces the local state wholesale. Nothing is
// applied as a delta, so duplicate, reordered or concurrent runs for the same
// customer converge on the same result without locks.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	DefaultProviderTimeout = 10 * time.Second
	DefaultStoreTimeout    = 5 * time.Second
)

// Config configures a Reconciler.
type Config struct {
	// Client reads provider state (required).
	Client billing.Client

	// Store persists local state (required).
	Store billing.Store

	// Priorities ranks subscription statuses. Nil uses DefaultPriorities.
	Priorities Priorities

	// ProviderTimeout bounds the customer lookup and the subscription listing.
	ProviderTimeout time.Duration

	// StoreTimeout bounds each local write.
	StoreTimeout time.Duration

	// InstrumentTimeout bounds the best-effort payment instrument lookup.
	InstrumentTimeout time.Duration

	// Provider labels metrics (e.g., "stripe").
	Provider string

	Logger  billing.Logger
	Metrics billing.Metrics
}

// Result describes one reconciliation.
type Result struct {
	CustomerID string
	Account    billing.AccountState
	// Record is nil when the customer has no subscriptions.
	Record        *billing.SubscriptionRecord
	UnknownStatus bool

	// RecordErr and AccountErr hold failures of the two independent writes.
	RecordErr  error
	AccountErr error
}

// Err joins the write failures, or returns nil when both writes succeeded.
func (r *Result) Err() error {
	return errors.Join(r.RecordErr, r.AccountErr)
}

// Reconciler performs full fetch-and-replace syncs for single customers.
type Reconciler struct {
	client          billing.Client
	store           billing.Store
	priorities      Priorities
	projector       *Projector
	providerTimeout time.Duration
	storeTimeout    time.Duration
	provider        string
	logger          billing.Logger
	metrics         billing.Metrics
}

// New creates a Reconciler.
func New(config Config) (*Reconciler, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("reconcile: client is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("reconcile: store is required")
	}
	if config.Priorities == nil {
		config.Priorities = DefaultPriorities()
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultProviderTimeout
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.Provider == "" {
		config.Provider = "unknown"
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}

	return &Reconciler{
		client:     config.Client,
		store:      config.Store,
		priorities: config.Priorities,
		projector: &Projector{
			Instruments:       config.Client,
			InstrumentTimeout: config.InstrumentTimeout,
			Provider:          config.Provider,
			Logger:            config.Logger,
			Metrics:           config.Metrics,
		},
		providerTimeout: config.ProviderTimeout,
		storeTimeout:    config.StoreTimeout,
		provider:        config.Provider,
		logger:          config.Logger,
		metrics:         config.Metrics,
	}, nil
}

// Reconcile re-derives the billing state of one customer from the provider
// and writes it locally.
//
// The returned error is non-nil only when provider state could not be read;
// nothing is written in that case. Local write failures are reported on the
// Result (see Result.Err) because the two writes are attempted independently.
func (r *Reconciler) Reconcile(ctx context.Context, customerID string) (*Result, error) {
	startTime := time.Now()
	defer func() {
		r.metrics.RecordSyncDuration(r.provider, time.Since(startTime))
	}()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		r.metrics.RecordSync(r.provider, "error")
		return nil, billing.ErrInvalidCustomerID
	}

	subs, err := r.fetch(ctx, customerID)
	if err != nil {
		r.metrics.RecordSync(r.provider, "error")
		r.logger.Error("reconcile: provider read failed",
			billing.F("customer_id", customerID),
			billing.F("error", err),
		)
		return nil, err
	}

	var winner *billing.Subscription
	if sub, ok := Select(r.priorities, subs); ok {
		winner = &sub
	}
	proj := r.projector.Project(ctx, customerID, winner)
	if proj.UnknownStatus {
		r.metrics.RecordUnknownStatus(r.provider, string(proj.Account.SubscriptionStatus))
		r.logger.Warn("reconcile: unknown provider subscription status stored verbatim",
			billing.F("customer_id", customerID),
			billing.F("subscription_id", winner.ID),
			billing.F("status", winner.Status),
		)
	}

	r.recordPlanChange(ctx, customerID, proj.Account.Plan)

	result := &Result{
		CustomerID:    customerID,
		Account:       proj.Account,
		Record:        proj.Record,
		UnknownStatus: proj.UnknownStatus,
		RecordErr:     r.writeRecord(ctx, customerID, proj.Record),
		AccountErr:    r.writeAccount(ctx, customerID, proj.Account),
	}

	fields := []billing.Field{
		billing.F("customer_id", customerID),
		billing.F("subscriptions", len(subs)),
		billing.F("status", proj.Account.SubscriptionStatus),
		billing.F("plan", proj.Account.Plan),
		billing.F("duration_ms", time.Since(startTime).Milliseconds()),
	}
	if err := result.Err(); err != nil {
		r.metrics.RecordSync(r.provider, "partial")
		r.logger.Error("reconcile: local write failed", append(fields, billing.F("error", err))...)
		return result, nil
	}

	r.metrics.RecordSync(r.provider, "success")
	r.logger.Info("reconcile: customer synced", fields...)
	return result, nil
}

// fetch confirms the customer and lists all of its subscriptions.
func (r *Reconciler) fetch(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	cust, err := r.client.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	if cust == nil || cust.Deleted {
		return nil, fmt.Errorf("get customer %s: %w", customerID, billing.ErrCustomerNotFound)
	}

	subs, err := r.client.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return subs, nil
}

func (r *Reconciler) writeRecord(ctx context.Context, customerID string, rec *billing.SubscriptionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	op := "upsert_subscription"
	var err error
	if rec == nil {
		op = "delete_subscription"
		err = r.store.DeleteSubscription(ctx, customerID)
	} else {
		err = r.store.UpsertSubscription(ctx, rec)
	}
	if err != nil {
		r.metrics.RecordStoreWrite(op, "error")
		r.logger.Error("reconcile: subscription record write failed",
			billing.F("customer_id", customerID),
			billing.F("operation", op),
			billing.F("error", err),
		)
		return fmt.Errorf("%s: %w", op, err)
	}
	r.metrics.RecordStoreWrite(op, "success")
	return nil
}

func (r *Reconciler) writeAccount(ctx context.Context, customerID string, state billing.AccountState) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	if err := r.store.UpdateAccountBilling(ctx, customerID, state); err != nil {
		r.metrics.RecordStoreWrite("update_account", "error")
		r.logger.Error("reconcile: account update failed",
			billing.F("customer_id", customerID),
			billing.F("error", err),
		)
		return fmt.Errorf("update_account: %w", err)
	}
	r.metrics.RecordStoreWrite("update_account", "success")
	return nil
}

// recordPlanChange compares against the stored plan. It only feeds
// observability, so read failures are ignored.
func (r *Reconciler) recordPlanChange(ctx context.Context, customerID string, plan billing.Plan) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	prev, err := r.store.GetAccountByCustomer(ctx, customerID)
	if err != nil || prev.Plan == plan {
		return
	}
	r.metrics.RecordPlanChange(r.provider, string(prev.Plan), string(plan))
	r.logger.Info("reconcile: plan changed",
		billing.F("customer_id", customerID),
		billing.F("from", prev.Plan),
		billing.F("to", plan),
	)
}
