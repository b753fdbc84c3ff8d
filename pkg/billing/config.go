package billing

import (
	"net/http"
	"time"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// WebhookSecret is the signing secret used to verify incoming webhook
	// requests. An empty secret is a configuration error.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation (e.g., OpenTelemetry).
	HTTPClient *http.Client

	// SignatureTolerance bounds the age of a signed webhook payload.
	// Zero uses the provider default.
	SignatureTolerance time.Duration

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is an optional structured logger. If nil, logs are discarded.
	Logger Logger
}
