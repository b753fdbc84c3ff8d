package billing

import "time"

// Status is the local subscription status of an account.
// Provider statuses outside the known vocabulary are stored verbatim.
type Status string

const (
	StatusInactive          Status = "inactive"
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// KnownStatuses maps provider status strings to local statuses.
var KnownStatuses = map[string]Status{
	"active":             StatusActive,
	"trialing":           StatusTrialing,
	"past_due":           StatusPastDue,
	"canceled":           StatusCanceled,
	"unpaid":             StatusUnpaid,
	"incomplete":         StatusIncomplete,
	"incomplete_expired": StatusIncompleteExpired,
	"paused":             StatusPaused,
}

// Plan is the product tier of an account.
type Plan string

const (
	PlanHobby Plan = "hobby"
	PlanPro   Plan = "pro"
)

// BillingMode distinguishes trial accounts from paying ones.
type BillingMode string

const (
	BillingModeStandard BillingMode = "standard"
	BillingModeTrial    BillingMode = "trial"
)

// Account is the local billing account.
// SubscriptionID is non-nil iff SubscriptionStatus is not StatusInactive.
type Account struct {
	ID                 string
	CustomerID         string
	SubscriptionStatus Status
	Plan               Plan
	BillingMode        BillingMode
	SubscriptionID     *string
}

// AccountState is the set of account fields owned by the reconciler.
type AccountState struct {
	SubscriptionStatus Status
	Plan               Plan
	BillingMode        BillingMode
	SubscriptionID     *string
}

// InactiveState is the baseline state of an account without subscriptions.
func InactiveState() AccountState {
	return AccountState{
		SubscriptionStatus: StatusInactive,
		Plan:               PlanHobby,
		BillingMode:        BillingModeStandard,
	}
}

// State returns the reconciler-owned fields of the account.
func (a *Account) State() AccountState {
	return AccountState{
		SubscriptionStatus: a.SubscriptionStatus,
		Plan:               a.Plan,
		BillingMode:        a.BillingMode,
		SubscriptionID:     a.SubscriptionID,
	}
}

// Apply overwrites the reconciler-owned fields of the account.
func (a *Account) Apply(state AccountState) {
	a.SubscriptionStatus = state.SubscriptionStatus
	a.Plan = state.Plan
	a.BillingMode = state.BillingMode
	a.SubscriptionID = state.SubscriptionID
}

var planRank = map[Plan]int{
	PlanHobby: 0,
	PlanPro:   1,
}

// Entitles reports whether the account is owed the features of plan.
// Anything above hobby needs an active or trialing subscription.
func (a *Account) Entitles(plan Plan) bool {
	if plan == "" || plan == PlanHobby {
		return true
	}
	if a == nil {
		return false
	}
	if a.SubscriptionStatus != StatusActive && a.SubscriptionStatus != StatusTrialing {
		return false
	}
	have, ok := planRank[a.Plan]
	return ok && have >= planRank[plan]
}

// SubscriptionRecord is the local denormalized copy of the winning
// subscription, keyed uniquely by CustomerID. It carries no sync timestamp:
// reconciling an unchanged customer must leave identical state.
type SubscriptionRecord struct {
	CustomerID         string
	SubscriptionID     string
	Status             Status
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	PaymentBrand       *string
	PaymentLast4       *string
}

// Customer is the provider's view of a customer.
type Customer struct {
	ID      string
	Deleted bool
}

// SubscriptionItem is one line item of a provider subscription.
type SubscriptionItem struct {
	PriceID            string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
}

// PaymentMethodRef references a payment method. Expanded is set when the
// provider returned the full object; Card is then nil for non-card methods
// (bank debits, wallets) and no further lookup is needed.
type PaymentMethodRef struct {
	ID       string
	Expanded bool
	Card     *PaymentInstrument
}

// PaymentInstrument holds the display fields of a card.
type PaymentInstrument struct {
	Brand string
	Last4 string
}

// Subscription is a read-only view of a provider subscription.
// Timestamps are epoch seconds, as the provider reports them.
type Subscription struct {
	ID                   string
	CustomerID           string
	Status               string
	Created              int64
	Items                []SubscriptionItem
	CurrentPeriodStart   int64
	CurrentPeriodEnd     int64
	CancelAtPeriodEnd    bool
	DefaultPaymentMethod *PaymentMethodRef
}

// PriceID returns the price of the first line item, or "".
func (s *Subscription) PriceID() string {
	if len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].PriceID
}

// PeriodBounds returns the current period, falling back to the first item's
// bounds when the subscription itself does not carry them.
func (s *Subscription) PeriodBounds() (start, end int64) {
	start, end = s.CurrentPeriodStart, s.CurrentPeriodEnd
	if len(s.Items) > 0 {
		if start == 0 {
			start = s.Items[0].CurrentPeriodStart
		}
		if end == 0 {
			end = s.Items[0].CurrentPeriodEnd
		}
	}
	return start, end
}
