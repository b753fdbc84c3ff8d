package reconcile

import (
	"context"
	"time"

	"github.com/mihaimyh/subsync/pkg/billing"
)

// DefaultInstrumentTimeout bounds the best-effort payment instrument lookup.
const DefaultInstrumentTimeout = 3 * time.Second

// InstrumentLookup resolves a payment method id to card display fields.
type InstrumentLookup interface {
	GetPaymentInstrument(ctx context.Context, paymentMethodID string) (*billing.PaymentInstrument, error)
}

// Projection is the local state derived from a winning subscription.
type Projection struct {
	Account billing.AccountState
	// Record is nil when the customer has no subscription.
	Record *billing.SubscriptionRecord
	// UnknownStatus is set when the provider status was stored verbatim.
	UnknownStatus bool
}

// Projector maps provider subscriptions onto local billing fields.
type Projector struct {
	Instruments       InstrumentLookup
	InstrumentTimeout time.Duration
	Provider          string
	Logger            billing.Logger
	Metrics           billing.Metrics
}

// providerStatusPrefix marks an unknown provider status that would otherwise
// collide with the local inactive status.
const providerStatusPrefix = "provider_"

// MapStatus maps a provider status through the known vocabulary. Unknown
// statuses are returned verbatim with known=false, except a raw "inactive",
// which is stored as "provider_inactive": locally, inactive means there is
// no subscription at all.
func MapStatus(providerStatus string) (status billing.Status, known bool) {
	if s, ok := billing.KnownStatuses[providerStatus]; ok {
		return s, true
	}
	if billing.Status(providerStatus) == billing.StatusInactive {
		return billing.Status(providerStatusPrefix + providerStatus), false
	}
	return billing.Status(providerStatus), false
}

// ProjectAccount derives the account fields. A nil winner yields the
// inactive baseline.
func ProjectAccount(winner *billing.Subscription) (billing.AccountState, bool) {
	if winner == nil {
		return billing.InactiveState(), true
	}
	status, known := MapStatus(winner.Status)
	mode := billing.BillingModeStandard
	if status == billing.StatusTrialing {
		mode = billing.BillingModeTrial
	}
	id := winner.ID
	return billing.AccountState{
		SubscriptionStatus: status,
		Plan:               billing.PlanPro,
		BillingMode:        mode,
		SubscriptionID:     &id,
	}, known
}

// Project derives the account state and subscription record for customerID.
// The instrument lookup never fails the projection; on error the brand and
// last4 stay nil.
func (p *Projector) Project(ctx context.Context, customerID string, winner *billing.Subscription) Projection {
	account, known := ProjectAccount(winner)
	if winner == nil {
		return Projection{Account: account}
	}

	start, end := winner.PeriodBounds()
	rec := &billing.SubscriptionRecord{
		CustomerID:         customerID,
		SubscriptionID:     winner.ID,
		Status:             account.SubscriptionStatus,
		PriceID:            winner.PriceID(),
		CurrentPeriodStart: fromEpoch(start),
		CurrentPeriodEnd:   fromEpoch(end),
		CancelAtPeriodEnd:  winner.CancelAtPeriodEnd,
	}
	if card := p.instrument(ctx, winner.DefaultPaymentMethod); card != nil {
		brand, last4 := card.Brand, card.Last4
		rec.PaymentBrand = &brand
		rec.PaymentLast4 = &last4
	}

	return Projection{Account: account, Record: rec, UnknownStatus: !known}
}

func (p *Projector) instrument(ctx context.Context, ref *billing.PaymentMethodRef) *billing.PaymentInstrument {
	if ref == nil {
		return nil
	}
	if ref.Card != nil || ref.Expanded {
		return ref.Card
	}
	if ref.ID == "" || p.Instruments == nil {
		return nil
	}

	timeout := p.InstrumentTimeout
	if timeout <= 0 {
		timeout = DefaultInstrumentTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	card, err := p.Instruments.GetPaymentInstrument(lookupCtx, ref.ID)
	if err != nil {
		p.metrics().RecordInstrumentLookup(p.Provider, "error")
		p.logger().Warn("payment instrument lookup failed",
			billing.F("payment_method_id", ref.ID),
			billing.F("error", err),
		)
		return nil
	}
	if card == nil {
		p.metrics().RecordInstrumentLookup(p.Provider, "no_card")
		return nil
	}
	p.metrics().RecordInstrumentLookup(p.Provider, "success")
	return card
}

func (p *Projector) logger() billing.Logger {
	if p.Logger == nil {
		return &billing.NoopLogger{}
	}
	return p.Logger
}

func (p *Projector) metrics() billing.Metrics {
	if p.Metrics == nil {
		return &billing.NoopMetrics{}
	}
	return p.Metrics
}

func fromEpoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
