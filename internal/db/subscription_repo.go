package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"bizpulse/internal/types"
)

// SubscriptionRepo persists the per-subscription state machine. Apply is
// the only write path; it upserts a SubscriptionChange so that events
// arriving in any order converge on the same final row.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// applySQL upserts one subscription change. The CASE guards encode the
// state-machine rules directly in the statement so concurrent deliveries
// of the same subscription serialize on the row without read-modify-write
// races:
//
//   - canceled is terminal: once stored, no later event changes the status.
//   - an incoming pending status never replaces a non-pending status
//     (a late-arriving creation event must not regress an active row).
//   - period bounds move forward only: they are replaced when the incoming
//     current_period_end is newer than the stored one, otherwise kept.
//   - tenant_id, plan_id and credits_per_period are informational fields;
//     empty or zero incoming values mean "no information" and keep the
//     stored value.
//   - canceled_at keeps the earliest recorded cancellation time.
const applySQL = `
INSERT INTO subscriptions (
    subscription_id, tenant_id, plan_id, status, credits_per_period,
    current_period_start, current_period_end, cancel_at_period_end,
    canceled_at, created_at, updated_at
)
VALUES ($1, $2, $3, CASE WHEN $4 = '' THEN 'pending' ELSE $4 END, $5, $6, $7,
        COALESCE($8, FALSE), $9, NOW(), NOW())
ON CONFLICT (subscription_id) DO UPDATE SET
    tenant_id = CASE WHEN EXCLUDED.tenant_id <> '' THEN EXCLUDED.tenant_id
                     ELSE subscriptions.tenant_id END,
    plan_id = CASE WHEN EXCLUDED.plan_id <> '' THEN EXCLUDED.plan_id
                   ELSE subscriptions.plan_id END,
    credits_per_period = CASE WHEN EXCLUDED.credits_per_period > 0 THEN EXCLUDED.credits_per_period
                              ELSE subscriptions.credits_per_period END,
    status = CASE
        WHEN subscriptions.status = 'canceled' THEN subscriptions.status
        WHEN EXCLUDED.status = 'pending' THEN subscriptions.status
        WHEN EXCLUDED.status = '' THEN subscriptions.status
        ELSE EXCLUDED.status
    END,
    current_period_start = CASE
        WHEN EXCLUDED.current_period_end IS NOT NULL
             AND (subscriptions.current_period_end IS NULL
                  OR EXCLUDED.current_period_end > subscriptions.current_period_end)
        THEN EXCLUDED.current_period_start
        ELSE subscriptions.current_period_start
    END,
    current_period_end = CASE
        WHEN EXCLUDED.current_period_end IS NOT NULL
             AND (subscriptions.current_period_end IS NULL
                  OR EXCLUDED.current_period_end > subscriptions.current_period_end)
        THEN EXCLUDED.current_period_end
        ELSE subscriptions.current_period_end
    END,
    cancel_at_period_end = COALESCE($8, subscriptions.cancel_at_period_end),
    canceled_at = COALESCE(subscriptions.canceled_at, EXCLUDED.canceled_at),
    updated_at = NOW()
RETURNING subscription_id, tenant_id, plan_id, status, credits_per_period,
    current_period_start, current_period_end, cancel_at_period_end,
    canceled_at, created_at, updated_at`

// Apply upserts a subscription change and returns the resulting row. Zero
// values in the change mean "no information from this event" and never
// overwrite stored data.
func (r *SubscriptionRepo) Apply(ctx context.Context, change types.SubscriptionChange) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx, applySQL,
		change.SubscriptionID,
		change.TenantID,
		change.PlanID,
		string(change.Status),
		change.CreditsPerPeriod,
		change.PeriodStart,
		change.PeriodEnd,
		change.CancelAtPeriodEnd,
		change.CanceledAt,
	).Scan(
		&s.SubscriptionID,
		&s.TenantID,
		&s.PlanID,
		&s.Status,
		&s.CreditsPerPeriod,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription change", err)
	}

	r.logger.InfoContext(ctx, "subscription change applied",
		slog.String("subscription_id", s.SubscriptionID),
		slog.String("tenant_id", s.TenantID),
		slog.String("status", string(s.Status)),
	)
	return &s, nil
}

// GetBySubscriptionID fetches a subscription by its provider-assigned id.
func (r *SubscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Subscription, error) {
	var s types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT subscription_id, tenant_id, plan_id, status, credits_per_period,
		        current_period_start, current_period_end, cancel_at_period_end,
		        canceled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(
		&s.SubscriptionID,
		&s.TenantID,
		&s.PlanID,
		&s.Status,
		&s.CreditsPerPeriod,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CanceledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch subscription", err)
	}
	return &s, nil
}
