package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/subsync/pkg/billing"
)

func TestVerifyEvent(t *testing.T) {
	payload := eventPayload("invoice.paid", `{"id":"in_1","customer":"cus_1"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeWebhookSecret,
		Timestamp: time.Now(),
	})

	event, err := VerifyEvent(payload, signed.Header, testStripeWebhookSecret, 0)
	if err != nil {
		t.Fatalf("Expected valid event, got %v", err)
	}
	if event.ID != "evt_test" || string(event.Type) != "invoice.paid" {
		t.Errorf("Unexpected event %s/%s", event.ID, event.Type)
	}
}

func TestVerifyEvent_Failures(t *testing.T) {
	payload := eventPayload("invoice.paid", `{"id":"in_1"}`)
	valid := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testStripeWebhookSecret,
	})
	old := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeWebhookSecret,
		Timestamp: time.Now().Add(-time.Hour),
	})
	notJSON := []byte("not json")
	notJSONSigned := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: notJSON,
		Secret:  testStripeWebhookSecret,
	})

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		want    error
	}{
		{"missing header", payload, "", testStripeWebhookSecret, billing.ErrMissingSignature},
		{"wrong secret", payload, valid.Header, "whsec_other", billing.ErrInvalidWebhookSignature},
		{"malformed header", payload, "garbage", testStripeWebhookSecret, billing.ErrInvalidWebhookSignature},
		{"outside tolerance", payload, old.Header, testStripeWebhookSecret, billing.ErrInvalidWebhookSignature},
		{"authentic but not json", notJSON, notJSONSigned.Header, testStripeWebhookSecret, billing.ErrInvalidWebhookPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyEvent(tt.payload, tt.header, tt.secret, 5*time.Minute)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}
