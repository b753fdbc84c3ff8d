package stripe

import (
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v83"
)

// ResolveSubject extracts the customer id an event is about.
//
// A plain string "customer" field on the event object wins. Otherwise the
// object is decoded into the shape its Kind implies; this also covers an
// expanded customer object. ok is false when no id can be found.
func ResolveSubject(event *stripe.Event) (customerID string, ok bool) {
	if event == nil || event.Data == nil {
		return "", false
	}
	if id, isString := event.Data.Object["customer"].(string); isString && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id), true
	}

	raw := event.Data.Raw
	switch Classify(string(event.Type)) {
	case KindCheckout:
		return decodeCustomer(raw, func(s *stripe.CheckoutSession) *stripe.Customer { return s.Customer })
	case KindSubscription:
		return decodeCustomer(raw, func(s *stripe.Subscription) *stripe.Customer { return s.Customer })
	case KindInvoice:
		return decodeCustomer(raw, func(i *stripe.Invoice) *stripe.Customer { return i.Customer })
	case KindPaymentIntent:
		return decodeCustomer(raw, func(pi *stripe.PaymentIntent) *stripe.Customer { return pi.Customer })
	default:
		return "", false
	}
}

func decodeCustomer[T any](raw json.RawMessage, customer func(*T) *stripe.Customer) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var obj T
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	cust := customer(&obj)
	if cust == nil || strings.TrimSpace(cust.ID) == "" {
		return "", false
	}
	return strings.TrimSpace(cust.ID), true
}
