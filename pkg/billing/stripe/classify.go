package stripe

import "sort"

// Kind groups relevant event types by payload shape.
type Kind string

const (
	KindIrrelevant    Kind = ""
	KindCheckout      Kind = "checkout"
	KindSubscription  Kind = "subscription"
	KindInvoice       Kind = "invoice"
	KindPaymentIntent Kind = "payment_intent"
)

// eventKinds is the closed allow-list of events that can change billing state.
var eventKinds = map[string]Kind{
	"checkout.session.completed": KindCheckout,

	"customer.subscription.created":                KindSubscription,
	"customer.subscription.updated":                KindSubscription,
	"customer.subscription.deleted":                KindSubscription,
	"customer.subscription.paused":                 KindSubscription,
	"customer.subscription.resumed":                KindSubscription,
	"customer.subscription.trial_will_end":         KindSubscription,
	"customer.subscription.pending_update_applied": KindSubscription,
	"customer.subscription.pending_update_expired": KindSubscription,

	"invoice.paid":                    KindInvoice,
	"invoice.payment_failed":          KindInvoice,
	"invoice.payment_action_required": KindInvoice,
	"invoice.upcoming":                KindInvoice,
	"invoice.marked_uncollectible":    KindInvoice,
	"invoice.payment_succeeded":       KindInvoice,

	"payment_intent.succeeded":      KindPaymentIntent,
	"payment_intent.payment_failed": KindPaymentIntent,
	"payment_intent.canceled":       KindPaymentIntent,
}

// Classify returns the Kind of eventType, or KindIrrelevant.
func Classify(eventType string) Kind {
	return eventKinds[eventType]
}

// IsRelevant reports whether eventType may change billing state.
func IsRelevant(eventType string) bool {
	return Classify(eventType) != KindIrrelevant
}

// RelevantEvents returns the allow-list, sorted. Useful when registering a
// webhook endpoint with the provider.
func RelevantEvents() []string {
	events := make([]string, 0, len(eventKinds))
	for t := range eventKinds {
		events = append(events, t)
	}
	sort.Strings(events)
	return events
}
