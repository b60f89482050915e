package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bizpulse/internal/types"
)

// ---------------------------------------------------------------------------
// Processor dependencies
// ---------------------------------------------------------------------------

// SubscriptionStore persists the subscription state machine. The subset of
// db.SubscriptionRepo the processor needs.
type SubscriptionStore interface {
	// Apply upserts a change by subscription id; zero-valued fields in the
	// change leave stored data untouched. Returns the resulting row.
	Apply(ctx context.Context, change types.SubscriptionChange) (*types.Subscription, error)

	// GetBySubscriptionID fetches a subscription by its provider id.
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Subscription, error)
}

// CreditGranter applies credit grants exactly once per grant key. The
// subset of db.CreditLedgerRepo the processor needs.
type CreditGranter interface {
	Grant(ctx context.Context, tenantID string, amount int64, grantKey, sourceEventID, sourceEventType string) (types.GrantResult, error)
}

// TenantDirectory checks tenant existence before the ledger is touched.
type TenantDirectory interface {
	Exists(ctx context.Context, tenantID string) (bool, error)
}

// AlertNotifier delivers reconciliation alerts for invariant violations.
// Delivery failures never change the event outcome.
type AlertNotifier interface {
	SendReconciliationAlert(ctx context.Context, alert types.ReconciliationAlert) error
}

// ---------------------------------------------------------------------------
// Processor
// ---------------------------------------------------------------------------

// Result is the classified outcome of processing one event delivery.
type Result struct {
	Outcome  types.EventOutcome
	TenantID string
	Detail   string
}

// Processor routes verified billing events to their handlers: subscription
// lifecycle events mutate the state machine, grant-bearing events go
// through the idempotent credit granter. Handlers are safe to invoke in
// any order and any number of times.
type Processor struct {
	subs    SubscriptionStore
	credits CreditGranter
	tenants TenantDirectory
	alerts  AlertNotifier
	logger  *slog.Logger

	now func() time.Time
}

// NewProcessor creates a Processor with the provided dependencies.
func NewProcessor(
	subs SubscriptionStore,
	credits CreditGranter,
	tenants TenantDirectory,
	alerts AlertNotifier,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		subs:    subs,
		credits: credits,
		tenants: tenants,
		alerts:  alerts,
		logger:  logger,
		now:     time.Now,
	}
}

// Process handles one verified event delivery and classifies the outcome.
// The returned error is non-nil whenever the outcome is RetryRequested or
// Rejected; callers decide the transport response from the outcome, not
// the error.
func (p *Processor) Process(ctx context.Context, ev *Event) (Result, error) {
	res, err := p.route(ctx, ev)
	if err == nil {
		return res, nil
	}

	if types.IsTransient(err) {
		p.logger.WarnContext(ctx, "event processing failed transiently, requesting redelivery",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()),
		)
		res.Outcome = types.OutcomeRetryRequested
		res.Detail = "transient failure, redelivery requested"
		return res, err
	}

	// Permanent failure: redelivery cannot fix it. Invariant violations
	// (conflicting grants, unresolvable references) additionally raise a
	// reconciliation alert so an operator investigates the data problem.
	var appErr *types.AppError
	if errors.As(err, &appErr) && isInvariantViolation(appErr.Code) {
		p.raiseAlert(ctx, ev, res.TenantID, appErr)
	}

	p.logger.ErrorContext(ctx, "event rejected permanently",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("error", err.Error()),
	)
	res.Outcome = types.OutcomeRejected
	res.Detail = err.Error()
	return res, err
}

func (p *Processor) route(ctx context.Context, ev *Event) (Result, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, ev)
	case EventSubscriptionCreated:
		return p.handleSubscriptionCreated(ctx, ev)
	case EventSubscriptionUpdated:
		return p.handleSubscriptionUpdated(ctx, ev)
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, ev)
	default:
		// Forward compatibility: unknown types are acknowledged no-ops so
		// future provider event types never trigger endless redelivery.
		p.logger.InfoContext(ctx, "ignoring unhandled event type",
			slog.String("event_id", ev.ID),
			slog.String("event_type", ev.Type),
		)
		return Result{Outcome: types.OutcomeIgnored, Detail: "event type not consumed"}, nil
	}
}

// isInvariantViolation reports whether a permanent error code indicates a
// data problem worth a reconciliation alert, as opposed to a plainly
// malformed payload.
func isInvariantViolation(code types.ErrorCode) bool {
	s := string(code)
	return strings.HasPrefix(s, "conflict_") || strings.HasPrefix(s, "not_found_")
}

func (p *Processor) raiseAlert(ctx context.Context, ev *Event, tenantID string, appErr *types.AppError) {
	alert := types.ReconciliationAlert{
		EventID:   ev.ID,
		EventType: ev.Type,
		TenantID:  tenantID,
		Reason:    string(appErr.Code),
		Detail:    appErr.Message,
		RaisedAt:  p.now().UTC(),
	}
	if key, ok := appErr.Details["grant_key"].(string); ok {
		alert.GrantKey = key
	}
	if err := p.alerts.SendReconciliationAlert(ctx, alert); err != nil {
		p.logger.ErrorContext(ctx, "failed to deliver reconciliation alert",
			slog.String("event_id", ev.ID),
			slog.String("reason", alert.Reason),
			slog.String("error", err.Error()),
		)
	}
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

// handleCheckoutCompleted processes checkout.session.completed.
//
// One-time purchases grant immediately, keyed by the session id (a one-time
// purchase has no billing period, so the session id serves as both purchase
// reference and period component).
//
// Subscription-mode checkouts do NOT grant: the session cannot know the
// subscription's initial period start, which is the period component of the
// grant key shared with subscription.created and the first invoice. Instead
// the handler persists a pending subscription row carrying the checkout
// metadata, so later events can resolve tenant and credit quantity even
// when the provider omits metadata on them.
func (p *Processor) handleCheckoutCompleted(ctx context.Context, ev *Event) (Result, error) {
	session, err := ev.CheckoutSession()
	if err != nil {
		return Result{}, err
	}

	tenantID := session.TenantID()
	res := Result{TenantID: tenantID}
	if tenantID == "" {
		return res, types.NewAppErrorWithDetails(
			types.ErrCodeConflictUnresolved,
			"checkout session carries no resolvable tenant",
			nil,
			map[string]any{"session_id": session.ID},
		)
	}

	credits, err := creditsFromMeta(session.Metadata)
	if err != nil {
		return res, err
	}

	if session.Mode == "subscription" {
		if session.Subscription == "" {
			// Nothing durable to attach the metadata to; the subscription
			// events carry their own copy.
			res.Outcome = types.OutcomeApplied
			res.Detail = "subscription checkout acknowledged, no subscription reference yet"
			return res, nil
		}
		_, err := p.subs.Apply(ctx, types.SubscriptionChange{
			SubscriptionID:   session.Subscription,
			TenantID:         tenantID,
			PlanID:           session.Metadata[metaKeyPlanID],
			Status:           types.SubStatusPending,
			CreditsPerPeriod: credits,
		})
		if err != nil {
			return res, err
		}
		res.Outcome = types.OutcomeApplied
		res.Detail = "pending subscription recorded"
		return res, nil
	}

	if credits == 0 {
		return res, types.NewAppErrorWithDetails(
			types.ErrCodeConflictUnresolved,
			"one-time checkout carries no credit quantity",
			nil,
			map[string]any{"session_id": session.ID},
		)
	}

	grantResult, err := p.grant(ctx, ev, tenantID, credits, GrantKey(tenantID, session.ID, session.ID))
	if err != nil {
		return res, err
	}
	return p.grantOutcome(res, grantResult), nil
}

// handleSubscriptionCreated processes customer.subscription.created: upserts
// the subscription and, when the provider reports it active, grants the
// initial period's credits. The grant key (tenant, subscription id, initial
// period start) is the same one the first invoice derives, so whichever
// event arrives first wins the grant and the other observes a duplicate.
func (p *Processor) handleSubscriptionCreated(ctx context.Context, ev *Event) (Result, error) {
	sub, err := ev.Subscription()
	if err != nil {
		return Result{}, err
	}

	credits, err := creditsFromMeta(sub.Metadata)
	if err != nil {
		return Result{}, err
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	row, err := p.subs.Apply(ctx, types.SubscriptionChange{
		SubscriptionID:    sub.ID,
		TenantID:          sub.Metadata[metaKeyTenantID],
		PlanID:            sub.Metadata[metaKeyPlanID],
		Status:            sub.LocalStatus(),
		CreditsPerPeriod:  credits,
		PeriodStart:       sub.PeriodStart(),
		PeriodEnd:         sub.PeriodEnd(),
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
		CanceledAt:        unixPtr(sub.CanceledAt),
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{TenantID: row.TenantID}

	if sub.LocalStatus() != types.SubStatusActive {
		res.Outcome = types.OutcomeApplied
		res.Detail = "subscription recorded, not yet active"
		return res, nil
	}

	// Resolve the grant inputs, falling back to the stored row (pre-created
	// by the checkout) when the event's metadata is missing.
	if credits == 0 {
		credits = row.CreditsPerPeriod
	}
	if row.TenantID == "" {
		return res, types.NewAppErrorWithDetails(
			types.ErrCodeConflictUnresolved,
			"active subscription has no resolvable tenant",
			nil,
			map[string]any{"subscription_id": sub.ID},
		)
	}
	if credits == 0 {
		res.Outcome = types.OutcomeApplied
		res.Detail = "subscription active, plan grants no credits"
		return res, nil
	}

	periodStart := sub.PeriodStart()
	if periodStart == nil {
		periodStart = row.CurrentPeriodStart
	}
	if periodStart == nil {
		return res, types.NewAppErrorWithDetails(
			types.ErrCodeConflictUnresolved,
			"active subscription has no billing period start for grant keying",
			nil,
			map[string]any{"subscription_id": sub.ID},
		)
	}

	grantResult, err := p.grant(ctx, ev, row.TenantID, credits,
		GrantKey(row.TenantID, sub.ID, PeriodKey(*periodStart)))
	if err != nil {
		return res, err
	}
	return p.grantOutcome(res, grantResult), nil
}

// handleSubscriptionUpdated processes customer.subscription.updated: pure
// state-machine maintenance, never a grant (renewal grants ride on invoice
// events). A scheduled cancellation whose period has already elapsed is
// folded into the terminal canceled state here, since the provider may not
// send a separate cancellation event.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, ev *Event) (Result, error) {
	sub, err := ev.Subscription()
	if err != nil {
		return Result{}, err
	}

	credits, err := creditsFromMeta(sub.Metadata)
	if err != nil {
		return Result{}, err
	}

	status := sub.LocalStatus()
	if sub.CancelAtPeriodEnd {
		if end := sub.PeriodEnd(); end != nil && end.Before(p.now()) {
			status = types.SubStatusCanceled
		}
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	row, err := p.subs.Apply(ctx, types.SubscriptionChange{
		SubscriptionID:    sub.ID,
		TenantID:          sub.Metadata[metaKeyTenantID],
		PlanID:            sub.Metadata[metaKeyPlanID],
		Status:            status,
		CreditsPerPeriod:  credits,
		PeriodStart:       sub.PeriodStart(),
		PeriodEnd:         sub.PeriodEnd(),
		CancelAtPeriodEnd: &cancelAtPeriodEnd,
		CanceledAt:        unixPtr(sub.CanceledAt),
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:  types.OutcomeApplied,
		TenantID: row.TenantID,
		Detail:   fmt.Sprintf("subscription status %s", row.Status),
	}, nil
}

// handleInvoicePaid processes invoice.payment_succeeded: the renewal grant
// path. Tenant and quantity come from event metadata when present and from
// the locally stored subscription row otherwise; the metadata echo is only
// a bootstrap, the row is the durable resolution path.
func (p *Processor) handleInvoicePaid(ctx context.Context, ev *Event) (Result, error) {
	inv, err := ev.Invoice()
	if err != nil {
		return Result{}, err
	}

	tenantID := inv.Meta(metaKeyTenantID)
	credits, err := creditsFromMeta(map[string]string{metaKeyCredits: inv.Meta(metaKeyCredits)})
	if err != nil {
		return Result{}, err
	}

	if (tenantID == "" || credits == 0) && inv.Subscription != "" {
		row, err := p.subs.GetBySubscriptionID(ctx, inv.Subscription)
		if err != nil {
			return Result{TenantID: tenantID}, err
		}
		if tenantID == "" {
			tenantID = row.TenantID
		}
		if credits == 0 {
			credits = row.CreditsPerPeriod
		}
	}

	res := Result{TenantID: tenantID}
	if tenantID == "" || credits == 0 {
		return res, types.NewAppErrorWithDetails(
			types.ErrCodeConflictUnresolved,
			"invoice carries no resolvable tenant or credit quantity",
			nil,
			map[string]any{"invoice_id": inv.ID, "subscription_id": inv.Subscription},
		)
	}

	// Recurring invoices key on (subscription, period start) so the first
	// invoice collides with the subscription-created grant. One-off or
	// period-less invoices fall back to the invoice id, which the provider
	// never reuses across logical occurrences.
	purchaseRef := inv.Subscription
	periodKey := inv.ID
	if purchaseRef == "" {
		purchaseRef = inv.ID
	}
	if start := unixPtr(inv.PeriodStart); start != nil && inv.Subscription != "" {
		periodKey = PeriodKey(*start)
	}

	grantResult, err := p.grant(ctx, ev, tenantID, credits, GrantKey(tenantID, purchaseRef, periodKey))
	if err != nil {
		return res, err
	}
	return p.grantOutcome(res, grantResult), nil
}

// grant verifies the tenant exists, then applies the grant idempotently.
func (p *Processor) grant(ctx context.Context, ev *Event, tenantID string, amount int64, grantKey string) (types.GrantResult, error) {
	exists, err := p.tenants.Exists(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundTenant,
			"grant references a tenant that does not exist",
			nil,
			map[string]any{"tenant_id": tenantID, "grant_key": grantKey},
		)
	}
	return p.credits.Grant(ctx, tenantID, amount, grantKey, ev.ID, ev.Type)
}

func (p *Processor) grantOutcome(res Result, gr types.GrantResult) Result {
	switch gr {
	case types.GrantAlreadyApplied:
		res.Outcome = types.OutcomeAlreadyApplied
		res.Detail = "grant already applied"
	default:
		res.Outcome = types.OutcomeApplied
		res.Detail = "credits granted"
	}
	return res
}
