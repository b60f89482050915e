// Package external is the boundary between the billing processor and the
// outside world: inbound payment-provider signature verification, the
// outbound ops alert webhook, and CloudWatch outcome metrics. All outbound
// HTTP goes through BaseClient, which applies circuit breaking, retries
// with backoff, and error mapping.
package external

import (
	"context"

	"bizpulse/internal/types"
)

// SignatureVerifier abstracts payment-provider webhook signature checking.
type SignatureVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Provider event type constants prevent magic strings in routing code.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
)

// OutcomeMetrics records one counter per processed event, dimensioned by
// event type and outcome. Implementations must never fail the caller.
type OutcomeMetrics interface {
	RecordOutcome(ctx context.Context, eventType string, outcome types.EventOutcome)
}
