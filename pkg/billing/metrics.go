package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The type of event (e.g., "customer.subscription.updated")
	// status: "handled", "ignored", "no_subject" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "reconcile_failed")
	RecordWebhookError(provider, errorType string)

	// RecordSync records a customer reconciliation.
	// status: "success", "partial" or "error"
	RecordSync(provider, status string)

	// RecordSyncDuration records how long a reconciliation took.
	RecordSyncDuration(provider string, duration time.Duration)

	// RecordPlanChange records when an account's plan changes.
	RecordPlanChange(provider, fromPlan, toPlan string)

	// RecordUnknownStatus records a provider status outside the known vocabulary.
	RecordUnknownStatus(provider, status string)

	// RecordInstrumentLookup records the best-effort payment instrument lookup.
	// status: "success" or "error"
	RecordInstrumentLookup(provider, status string)

	// RecordStoreWrite records a local persistence write.
	// operation: "upsert_subscription", "delete_subscription" or "update_account"
	RecordStoreWrite(operation, status string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/v1/subscriptions")
	// status: "success" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordSync(_, _ string)                                       {}
func (n *NoopMetrics) RecordSyncDuration(_ string, _ time.Duration)                 {}
func (n *NoopMetrics) RecordPlanChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordUnknownStatus(_, _ string)                              {}
func (n *NoopMetrics) RecordInstrumentLookup(_, _ string)                           {}
func (n *NoopMetrics) RecordStoreWrite(_, _ string)                                 {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
