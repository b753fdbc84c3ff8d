package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/subsync/pkg/billing"
	"github.com/mihaimyh/subsync/pkg/billing/internal"
)

// DeliveryIDHeader echoes the id assigned to each webhook request.
const DeliveryIDHeader = "X-Delivery-ID"

const (
	reasonUnhandled       = "unhandled event type"
	reasonNoCustomer      = "no customer id"
	reasonReconcileFailed = "reconcile failed"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Handled  *bool  `json:"handled,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	deliveryID := uuid.NewString()
	w.Header().Set(DeliveryIDHeader, deliveryID)
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		p.reject(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			p.reject(w, http.StatusRequestEntityTooLarge, "payload too large")
		} else {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			p.reject(w, http.StatusBadRequest, "invalid payload")
		}
		return
	}

	event, err := VerifyEvent(body, r.Header.Get(SignatureHeader), p.webhookSecret, p.tolerance)
	if err != nil {
		reason := "invalid signature"
		switch {
		case errors.Is(err, billing.ErrMissingSignature):
			reason = "missing signature"
		case errors.Is(err, billing.ErrInvalidWebhookPayload):
			reason = "invalid payload"
		}
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("stripe webhook rejected",
			billing.F("delivery_id", deliveryID),
			billing.F("reason", reason),
			billing.F("error", err),
		)
		p.reject(w, http.StatusBadRequest, reason)
		return
	}

	eventType := string(event.Type)
	fields := []billing.Field{
		billing.F("delivery_id", deliveryID),
		billing.F("event_id", event.ID),
		billing.F("event_type", eventType),
	}
	defer func() {
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	}()

	if !IsRelevant(eventType) {
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
		p.logger.Debug("stripe webhook ignored", fields...)
		p.ack(w, false, reasonUnhandled)
		return
	}

	customerID, ok := ResolveSubject(&event)
	if !ok {
		p.metrics.RecordWebhookEvent(providerName, eventType, "no_subject")
		p.logger.Warn("stripe webhook has no customer id", fields...)
		p.ack(w, false, reasonNoCustomer)
		return
	}
	fields = append(fields, billing.F("customer_id", customerID))

	// The reconciler bounds its own calls; a provider hang-up must not abort
	// writes halfway.
	res, err := p.reconciler.Reconcile(context.WithoutCancel(r.Context()), customerID)
	if err == nil && res != nil {
		err = res.Err()
	}
	if err != nil {
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "reconcile_failed")
		p.logger.Error("stripe webhook reconcile failed", append(fields, billing.F("error", err))...)
		p.ack(w, false, reasonReconcileFailed)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "handled")
	p.logger.Info("stripe webhook handled", fields...)
	p.ack(w, true, "")
}

func (p *Provider) ack(w http.ResponseWriter, handled bool, reason string) {
	if err := internal.WriteJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Handled:  &handled,
		Reason:   reason,
	}); err != nil {
		p.logger.Debug("stripe webhook response write failed", billing.F("error", err))
	}
}

func (p *Provider) reject(w http.ResponseWriter, code int, reason string) {
	if err := internal.WriteJSON(w, code, webhookResponse{Received: false, Reason: reason}); err != nil {
		p.logger.Debug("stripe webhook response write failed", billing.F("error", err))
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
