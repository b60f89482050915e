package external

import (
	stripe "github.com/stripe/stripe-go/v82"
)

// StripeVerifier implements SignatureVerifier using stripe-go's webhook
// signature verification: HMAC-SHA256 over "{timestamp}.{payload}" with a
// constant-time compare and the SDK's default timestamp tolerance, which
// bounds replay of captured payloads.
type StripeVerifier struct{}

// Verify validates a webhook payload against the Stripe-Signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

var _ SignatureVerifier = (*StripeVerifier)(nil)
