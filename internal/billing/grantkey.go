package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// GrantKey derives the deterministic dedup key for one logical credit
// grant: hash(tenant, purchase reference, billing period or invoice).
// Every event type announcing the same grant must derive the same key,
// which is what collapses "first payment notified three different ways"
// into one applied effect. The transport-level event id is deliberately
// NOT an input: the provider never reuses an event id, so keying on it
// would double-grant across event types.
func GrantKey(tenantID, purchaseRef, periodKey string) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(purchaseRef))
	h.Write([]byte{0})
	h.Write([]byte(periodKey))
	return hex.EncodeToString(h.Sum(nil))
}

// PeriodKey renders a billing period start as a grant-key component. All
// grant-bearing events carry the period start in epoch seconds, so the
// RFC3339 UTC rendering is stable across event types.
func PeriodKey(periodStart time.Time) string {
	return periodStart.UTC().Format(time.RFC3339)
}
