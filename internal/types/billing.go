// Package types defines the domain model shared across the BizPulse billing
// event processor: subscriptions, credit grants, event outcomes, and the
// AppError taxonomy.
package types

import "time"

// SubscriptionStatus is the lifecycle state of a recurring billing
// relationship as tracked locally. It mirrors the payment provider's view
// but is owned and mutated exclusively by this processor.
type SubscriptionStatus string

const (
	// SubStatusPending is the initial state, created out-of-band when a
	// recurring checkout is started, before the provider confirms it.
	SubStatusPending SubscriptionStatus = "pending"
	SubStatusActive  SubscriptionStatus = "active"
	SubStatusPastDue SubscriptionStatus = "past_due"
	// SubStatusCanceled is terminal. Canceled subscriptions are never
	// hard-deleted and never leave this state.
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubStatusCanceled
}

// Subscription is the durable record of one recurring-billing relationship,
// keyed by the provider-owned subscription id.
type Subscription struct {
	SubscriptionID string             `json:"subscription_id"`
	TenantID       string             `json:"tenant_id"`
	PlanID         string             `json:"plan_id"`
	Status         SubscriptionStatus `json:"status"`
	// CreditsPerPeriod is the credit quantity granted for each paid billing
	// period. Stored locally when the checkout collaborator pre-creates the
	// pending row, so renewal invoices that omit metadata stay resolvable.
	CreditsPerPeriod   int64      `json:"credits_per_period"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SubscriptionChange is the delta a billing event applies to a Subscription.
// Zero values mean "no information": empty TenantID/PlanID and nil period
// pointers leave the stored fields untouched, which is what makes the upsert
// order-independent when an Updated event arrives before its Created event.
type SubscriptionChange struct {
	SubscriptionID    string
	TenantID          string
	PlanID            string
	Status            SubscriptionStatus
	CreditsPerPeriod  int64
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time
}

// CreditGrant is the durable dedup record for one applied credit batch.
// Existence of a row for a grant key is the sole authority for "has this
// batch already been applied". Rows are inserted atomically with the balance
// increment and never updated or deleted.
type CreditGrant struct {
	GrantKey        string    `json:"grant_key"`
	TenantID        string    `json:"tenant_id"`
	Amount          int64     `json:"amount"`
	SourceEventID   string    `json:"source_event_id"`
	SourceEventType string    `json:"source_event_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreditBalance is a tenant's running balance of purchasable usage credits.
// This processor only ever increases it; the spend side lives elsewhere.
type CreditBalance struct {
	TenantID         string    `json:"tenant_id"`
	CreditsAvailable int64     `json:"credits_available"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GrantResult distinguishes a fresh grant from an idempotent replay.
type GrantResult string

const (
	GrantApplied        GrantResult = "applied"
	GrantAlreadyApplied GrantResult = "already_applied"
)

// EventOutcome classifies how a delivered event was handled. Every delivery
// produces exactly one outcome; no event is silently dropped.
type EventOutcome string

const (
	// OutcomeApplied: the event mutated local state (subscription and/or ledger).
	OutcomeApplied EventOutcome = "applied"
	// OutcomeAlreadyApplied: a duplicate delivery; state was already current.
	OutcomeAlreadyApplied EventOutcome = "already_applied"
	// OutcomeIgnored: an event type this processor does not consume.
	OutcomeIgnored EventOutcome = "ignored"
	// OutcomeRejected: terminal failure (bad signature, malformed payload,
	// invariant violation). The provider must not redeliver.
	OutcomeRejected EventOutcome = "rejected"
	// OutcomeRetryRequested: transient failure; the provider should redeliver.
	OutcomeRetryRequested EventOutcome = "retry_requested"
)

// EventAudit is one row of the processing audit trail.
type EventAudit struct {
	ID        string       `json:"id"`
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	TenantID  string       `json:"tenant_id,omitempty"`
	Outcome   EventOutcome `json:"outcome"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ReconciliationAlert is the payload posted to the ops alert webhook when an
// invariant violation needs manual reconciliation.
type ReconciliationAlert struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	GrantKey  string    `json:"grant_key,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
}
