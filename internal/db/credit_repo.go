package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"bizpulse/internal/types"
)

// CreditLedgerRepo manages the additive side of the per-tenant credit
// ledger. The ledger is mutated only by Grant; decrements belong to the
// spend-side collaborator and never happen here.
//
// Key invariant: a grant key is applied at most once, ever. The dedup
// record (credit_grants row) and the balance increment are written by a
// single SQL statement, so there is no window in which one exists without
// the other -- a redelivery racing the original simply loses the insert
// and observes "already granted".
type CreditLedgerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewCreditLedgerRepo creates a CreditLedgerRepo backed by the given
// database connection (pool or transaction).
func NewCreditLedgerRepo(db DBTX, logger *slog.Logger) *CreditLedgerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditLedgerRepo{db: db, logger: logger}
}

// grantSQL inserts the dedup record and applies the balance increment as
// one atomic statement. The data-modifying CTE only feeds the balance
// upsert when the grant-key insert actually happened, so a duplicate
// delivery affects zero rows. Contention is scoped to the single grant key
// and tenant row; unrelated tenants never contend.
const grantSQL = `
WITH new_grant AS (
    INSERT INTO credit_grants (grant_key, tenant_id, amount, source_event_id, source_event_type, created_at)
    VALUES ($1, $2, $3, $4, $5, NOW())
    ON CONFLICT (grant_key) DO NOTHING
    RETURNING tenant_id, amount
)
INSERT INTO credit_balances (tenant_id, credits_available, updated_at)
SELECT tenant_id, amount, NOW() FROM new_grant
ON CONFLICT (tenant_id) DO UPDATE
SET credits_available = credit_balances.credits_available + EXCLUDED.credits_available,
    updated_at = NOW()`

// Grant atomically records a grant row for grantKey and increases the
// tenant's balance by amount. If a record for grantKey already exists the
// call is a no-op and reports GrantAlreadyApplied -- unless the existing
// record carries a different amount, which is an invariant violation
// (the same logical grant must never resolve to two quantities).
func (r *CreditLedgerRepo) Grant(
	ctx context.Context,
	tenantID string,
	amount int64,
	grantKey string,
	sourceEventID string,
	sourceEventType string,
) (types.GrantResult, error) {
	tag, err := r.db.Exec(ctx, grantSQL,
		grantKey, tenantID, amount, sourceEventID, sourceEventType,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to apply credit grant", err)
	}

	if tag.RowsAffected() > 0 {
		r.logger.InfoContext(ctx, "credit grant applied",
			slog.String("tenant_id", tenantID),
			slog.String("grant_key", grantKey),
			slog.Int64("amount", amount),
			slog.String("source_event_id", sourceEventID),
		)
		return types.GrantApplied, nil
	}

	// The grant key already existed. Verify the recorded amount matches;
	// a mismatch means two events claimed the same grant with different
	// quantities and needs manual reconciliation.
	existing, err := r.GetGrant(ctx, grantKey)
	if err != nil {
		return "", err
	}
	if existing.Amount != amount || existing.TenantID != tenantID {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeConflictGrantAmount,
			"grant key resolves to conflicting grant on repeat delivery",
			nil,
			map[string]any{
				"grant_key":       grantKey,
				"recorded_amount": existing.Amount,
				"recorded_tenant": existing.TenantID,
				"event_amount":    amount,
				"event_tenant":    tenantID,
			},
		)
	}

	return types.GrantAlreadyApplied, nil
}

// GetGrant fetches the grant row for a grant key.
func (r *CreditLedgerRepo) GetGrant(ctx context.Context, grantKey string) (*types.CreditGrant, error) {
	var g types.CreditGrant
	err := r.db.QueryRow(ctx,
		`SELECT grant_key, tenant_id, amount, source_event_id, source_event_type, created_at
		 FROM credit_grants
		 WHERE grant_key = $1`,
		grantKey,
	).Scan(&g.GrantKey, &g.TenantID, &g.Amount, &g.SourceEventID, &g.SourceEventType, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundGrant, "grant record not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch grant record", err)
	}
	return &g, nil
}

// GetBalance returns a tenant's current credit balance. A tenant with no
// balance row has a zero balance, not an error.
func (r *CreditLedgerRepo) GetBalance(ctx context.Context, tenantID string) (*types.CreditBalance, error) {
	var b types.CreditBalance
	err := r.db.QueryRow(ctx,
		`SELECT tenant_id, credits_available, updated_at
		 FROM credit_balances
		 WHERE tenant_id = $1`,
		tenantID,
	).Scan(&b.TenantID, &b.CreditsAvailable, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &types.CreditBalance{TenantID: tenantID}, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch credit balance", err)
	}
	return &b, nil
}
