// Package handlers contains the HTTP handlers for the BizPulse billing
// event processor.
//
// The webhook endpoint is NOT behind auth middleware -- it is called
// directly by the payment provider. Security is provided by verifying the
// Stripe-Signature header using HMAC-SHA256.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bizpulse/internal/billing"
	"bizpulse/internal/core"
	"bizpulse/internal/external"
	"bizpulse/internal/types"
)

// maxWebhookBodySize caps provider payloads at 64 KB. Real payloads are a
// few kilobytes; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// EventProcessor handles one verified event delivery. The subset of
// billing.Processor the handler needs.
type EventProcessor interface {
	Process(ctx context.Context, ev *billing.Event) (billing.Result, error)
}

// AuditRecorder appends processing outcomes to the billing event log.
type AuditRecorder interface {
	Record(ctx context.Context, audit types.EventAudit) error
	ListByEventID(ctx context.Context, eventID string) ([]types.EventAudit, error)
}

// BillingWebhookHandler receives signed provider events, verifies them,
// hands them to the processor, and answers with the retry-oriented
// response contract:
//
//   - HTTP 200 acknowledges the delivery and stops redelivery. This covers
//     success, duplicates, ignored types, AND permanent rejections (bad
//     signature, malformed payload, invariant violations) -- redelivering a
//     permanently bad payload can never succeed, so the provider must not
//     keep trying. The JSON body names the outcome for anyone auditing.
//   - HTTP 503 requests redelivery, returned only for transient failures
//     (storage down, deadline expired).
type BillingWebhookHandler struct {
	verifier  external.SignatureVerifier
	processor EventProcessor
	audits    AuditRecorder
	metrics   external.OutcomeMetrics
	secret    string
	logger    *slog.Logger
}

// NewBillingWebhookHandler creates a handler with the given dependencies.
func NewBillingWebhookHandler(
	verifier external.SignatureVerifier,
	processor EventProcessor,
	audits AuditRecorder,
	metrics external.OutcomeMetrics,
	secret string,
	logger *slog.Logger,
) *BillingWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = external.NoopOutcomeMetrics{}
	}
	return &BillingWebhookHandler{
		verifier:  verifier,
		processor: processor,
		audits:    audits,
		metrics:   metrics,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook and the ops audit lookup.
func (h *BillingWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/billing", h.Handle)
	r.Get("/ops/events/{eventID}", h.HandleEventLookup)
}

// webhookResponse is the body returned to the provider. The provider only
// interprets the status code; the body serves humans replaying deliveries
// from its dashboard.
type webhookResponse struct {
	Received bool               `json:"received"`
	EventID  string             `json:"event_id,omitempty"`
	Outcome  types.EventOutcome `json:"outcome"`
	Detail   string             `json:"detail,omitempty"`
}

// Handle processes one inbound event delivery.
func (h *BillingWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", slog.String("error", err.Error()))
		h.reject(w, r, "", "unreadable or oversized request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(ctx, "missing Stripe-Signature header")
		h.reject(w, r, "", "missing signature header")
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		// Rejected before any state mutation; the payload never reaches
		// the processor.
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			slog.String("error", err.Error()),
		)
		h.reject(w, r, "", "signature verification failed")
		return
	}

	ev, err := billing.ParseEvent(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "malformed webhook event", slog.String("error", err.Error()))
		h.reject(w, r, "", "malformed event payload")
		return
	}

	h.logger.InfoContext(ctx, "processing billing event",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
	)

	result, procErr := h.processor.Process(ctx, ev)

	h.recordAudit(ctx, ev, result)
	h.metrics.RecordOutcome(ctx, ev.Type, result.Outcome)

	if result.Outcome == types.OutcomeRetryRequested {
		errDetail := result.Detail
		if procErr != nil {
			errDetail = procErr.Error()
		}
		h.logger.WarnContext(ctx, "requesting event redelivery",
			slog.String("event_id", ev.ID),
			slog.String("error", errDetail),
		)
		core.JSON(w, r, http.StatusServiceUnavailable, webhookResponse{
			Received: true,
			EventID:  ev.ID,
			Outcome:  result.Outcome,
			Detail:   result.Detail,
		})
		return
	}

	core.JSON(w, r, http.StatusOK, webhookResponse{
		Received: true,
		EventID:  ev.ID,
		Outcome:  result.Outcome,
		Detail:   result.Detail,
	})
}

// reject answers deliveries that fail before the processor runs: bad
// signatures and unparsable payloads. These are permanent, so the status is
// 200 (do not redeliver). They are logged and counted but not written to
// the audit log, since an unverified payload's content cannot be trusted.
func (h *BillingWebhookHandler) reject(w http.ResponseWriter, r *http.Request, eventID, detail string) {
	h.metrics.RecordOutcome(r.Context(), "unverified", types.OutcomeRejected)
	core.JSON(w, r, http.StatusOK, webhookResponse{
		Received: true,
		EventID:  eventID,
		Outcome:  types.OutcomeRejected,
		Detail:   detail,
	})
}

// recordAudit appends the outcome row. Audit failures never change the
// response; the ledger is the source of truth and the failure is logged.
func (h *BillingWebhookHandler) recordAudit(ctx context.Context, ev *billing.Event, result billing.Result) {
	audit := types.EventAudit{
		EventID:   ev.ID,
		EventType: ev.Type,
		TenantID:  result.TenantID,
		Outcome:   result.Outcome,
		Detail:    result.Detail,
	}
	if err := h.audits.Record(ctx, audit); err != nil {
		h.logger.ErrorContext(ctx, "failed to record event audit",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

// HandleEventLookup returns the audit trail for a provider event id. Ops
// tooling uses it to answer "what happened to this delivery".
func (h *BillingWebhookHandler) HandleEventLookup(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "event id is required", nil,
		))
		return
	}

	audits, err := h.audits.ListByEventID(r.Context(), eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(audits) == 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundGrant, "no processing record for event", nil,
		))
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{"data": audits})
}
