package stripe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const (
	// SignatureHeader carries the provider's HMAC signature.
	SignatureHeader = "Stripe-Signature"

	// DefaultSignatureTolerance bounds the age of a signed payload.
	DefaultSignatureTolerance = 5 * time.Minute
)

// VerifyEvent authenticates payload against the signature header and decodes
// the event. payload must be the exact request bytes; any re-encoding breaks
// the signature.
//
// Signature failures wrap billing.ErrInvalidWebhookSignature, an authentic but
// undecodable payload wraps billing.ErrInvalidWebhookPayload.
func VerifyEvent(payload []byte, header, secret string, tolerance time.Duration) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, billing.ErrMissingSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	// The engine re-reads the provider on every event, so the payload's API
	// version does not matter.
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	return event, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld) ||
		errors.Is(err, webhook.ErrInvalidHeader)
}
