// Package billing contains the payment-event processor: envelope parsing,
// grant-key derivation, the subscription state machine, and the idempotent
// credit granter orchestration.
package billing

import (
	"encoding/json"
	"strconv"
	"time"

	"bizpulse/internal/external"
	"bizpulse/internal/types"
)

// Metadata keys attached by the checkout collaborator when it creates a
// session or subscription, and echoed back by the payment provider.
const (
	metaKeyTenantID = "tenant_id"
	metaKeyPlanID   = "plan_id"
	metaKeyCredits  = "credits"
)

// Event is a minimal representation of a provider webhook event tailored to
// the fields this processor routes on. The full stripe.Event type is not
// imported here; the typed accessors below parse only what each handler
// needs, which keeps the processor decoupled from the SDK's object model
// and makes tests straightforward.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// ParseEvent deserializes a verified payload into an Event. A payload that
// does not parse, or that lacks an event id or type, can never become
// processable on redelivery and is rejected as malformed.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedEvent, "invalid event JSON", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "event missing id or type", nil)
	}
	return &ev, nil
}

// OccurredAt returns the provider-assigned event timestamp.
func (e *Event) OccurredAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

func (e *Event) object() (json.RawMessage, error) {
	var data eventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedEvent, "invalid event data wrapper", err)
	}
	if len(data.Object) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "event data has no object", nil)
	}
	return data.Object, nil
}

// CheckoutSession is the subset of a checkout.session.completed object this
// processor consumes.
type CheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// TenantID resolves the purchasing tenant, preferring client_reference_id
// (set by the checkout collaborator) over the metadata map.
func (s *CheckoutSession) TenantID() string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata[metaKeyTenantID]
}

// CheckoutSession parses the event's data object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var s CheckoutSession
	if err := json.Unmarshal(obj, &s); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedEvent, "invalid checkout session object", err)
	}
	if s.ID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "checkout session missing id", nil)
	}
	return &s, nil
}

// SubscriptionObject is the subset of a customer.subscription.* object this
// processor consumes. Period bounds are provider epoch seconds; zero means
// absent.
type SubscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         int64             `json:"canceled_at"`
	Metadata           map[string]string `json:"metadata"`
}

// Subscription parses the event's data object as a subscription.
func (e *Event) Subscription() (*SubscriptionObject, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var s SubscriptionObject
	if err := json.Unmarshal(obj, &s); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedEvent, "invalid subscription object", err)
	}
	if s.ID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "subscription missing id", nil)
	}
	return &s, nil
}

// PeriodStart returns the current period start as a time, or nil if absent.
func (s *SubscriptionObject) PeriodStart() *time.Time {
	return unixPtr(s.CurrentPeriodStart)
}

// PeriodEnd returns the current period end as a time, or nil if absent.
func (s *SubscriptionObject) PeriodEnd() *time.Time {
	return unixPtr(s.CurrentPeriodEnd)
}

// LocalStatus maps the provider's status vocabulary onto the four states
// tracked locally. Provisional provider states (incomplete, trialing) stay
// pending until the provider confirms them; anything unrecognized is treated
// as pending so an unknown future status never corrupts the machine.
func (s *SubscriptionObject) LocalStatus() types.SubscriptionStatus {
	switch s.Status {
	case "active":
		return types.SubStatusActive
	case "past_due", "unpaid":
		return types.SubStatusPastDue
	case "canceled", "incomplete_expired":
		return types.SubStatusCanceled
	case "incomplete", "trialing":
		return types.SubStatusPending
	default:
		return types.SubStatusPending
	}
}

// Invoice is the subset of an invoice.payment_succeeded object this
// processor consumes. PeriodStart is the billing period the payment covers.
type Invoice struct {
	ID                  string            `json:"id"`
	Subscription        string            `json:"subscription"`
	PeriodStart         int64             `json:"period_start"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *invoiceSubDetail `json:"subscription_details"`
}

type invoiceSubDetail struct {
	Metadata map[string]string `json:"metadata"`
}

// Invoice parses the event's data object as an invoice.
func (e *Event) Invoice() (*Invoice, error) {
	obj, err := e.object()
	if err != nil {
		return nil, err
	}
	var inv Invoice
	if err := json.Unmarshal(obj, &inv); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedEvent, "invalid invoice object", err)
	}
	if inv.ID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invoice missing id", nil)
	}
	return &inv, nil
}

// Meta resolves a metadata key, preferring subscription_details.metadata
// (which the provider copies from the subscription) over the invoice's own
// metadata map.
func (inv *Invoice) Meta(key string) string {
	if inv.SubscriptionDetails != nil {
		if v := inv.SubscriptionDetails.Metadata[key]; v != "" {
			return v
		}
	}
	return inv.Metadata[key]
}

// creditsFromMeta parses a credit quantity out of a metadata map. Returns
// 0 when the key is absent; a present-but-unparsable value is malformed.
func creditsFromMeta(meta map[string]string) (int64, error) {
	raw, ok := meta[metaKeyCredits]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedEvent,
			"credits metadata is not a non-negative integer",
			err,
			map[string]any{"credits": raw},
		)
	}
	return n, nil
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// Consumed event types, re-exported so handlers and tests route on the same
// constants the verifier boundary declares.
const (
	EventCheckoutCompleted   = external.EventCheckoutCompleted
	EventInvoicePaid         = external.EventInvoicePaid
	EventSubscriptionCreated = external.EventSubscriptionCreated
	EventSubscriptionUpdated = external.EventSubscriptionUpdated
)
