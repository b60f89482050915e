package db

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"bizpulse/internal/types"
)

// AuditRepo appends to the billing event log. Every delivery attempt gets a
// row regardless of outcome, so operators can trace what happened to any
// provider event id after the fact.
type AuditRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAuditRepo creates an AuditRepo backed by the given database connection.
func NewAuditRepo(db DBTX, logger *slog.Logger) *AuditRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepo{db: db, logger: logger}
}

// Record appends one audit row. Audit failures are logged by the caller and
// never block event processing; the ledger, not the log, is the source of
// truth.
func (r *AuditRepo) Record(ctx context.Context, audit types.EventAudit) error {
	id := audit.ID
	if id == "" {
		id = uuid.New().String()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_event_log (id, event_id, event_type, tenant_id, outcome, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, audit.EventID, audit.EventType, audit.TenantID, string(audit.Outcome), audit.Detail,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record billing event audit", err)
	}
	return nil
}

// ListByEventID returns the audit trail for a provider event id, oldest
// first. Used by the ops lookup endpoint.
func (r *AuditRepo) ListByEventID(ctx context.Context, eventID string) ([]types.EventAudit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, event_type, tenant_id, outcome, detail, created_at
		 FROM billing_event_log
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list event audit rows", err)
	}
	defer rows.Close()

	var audits []types.EventAudit
	for rows.Next() {
		var a types.EventAudit
		if err := rows.Scan(&a.ID, &a.EventID, &a.EventType, &a.TenantID, &a.Outcome, &a.Detail, &a.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event audit row", err)
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate event audit rows", err)
	}
	return audits, nil
}
