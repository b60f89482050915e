package db

import (
	"context"
	"log/slog"

	"bizpulse/internal/types"
)

// TenantRepo reads tenant records. Tenants are provisioned elsewhere in the
// platform; the billing processor only needs to confirm a referenced tenant
// exists before mutating its ledger.
type TenantRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewTenantRepo creates a TenantRepo backed by the given database
// connection (pool or transaction).
func NewTenantRepo(db DBTX, logger *slog.Logger) *TenantRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantRepo{db: db, logger: logger}
}

// Exists reports whether a live (not soft-deleted) tenant exists.
func (r *TenantRepo) Exists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM tenants WHERE id = $1 AND deleted_at IS NULL
		 )`,
		tenantID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check tenant existence", err)
	}
	return exists, nil
}
