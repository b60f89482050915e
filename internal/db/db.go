// Package db provides PostgreSQL-backed repository implementations for the
// BizPulse billing event processor. All repositories accept a DBTX interface
// that is satisfied by both *pgxpool.Pool (for normal queries) and pgx.Tx
// (for transactional execution), enabling clean transaction support.
//
// Tables owned by this package:
//
//	tenants             (id, name, deleted_at, ...)        -- read-only here
//	subscriptions       (subscription_id PK, tenant_id, plan_id, status,
//	                     credits_per_period, current_period_start,
//	                     current_period_end, cancel_at_period_end,
//	                     canceled_at, created_at, updated_at)
//	credit_grants       (grant_key PK, tenant_id, amount, source_event_id,
//	                     source_event_type, created_at)
//	credit_balances     (tenant_id PK, credits_available, updated_at)
//	billing_event_log   (id PK, event_id, event_type, tenant_id, outcome,
//	                     detail, created_at)
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizpulse/internal/config"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool creates a pgx connection pool from the database configuration.
// Pool tuning (max/min connections, lifetimes) comes from config so that
// operational limits are adjustable without code changes.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// PingProbe adapts a connection pool to the core.HealthProbe interface.
type PingProbe struct {
	Pool *pgxpool.Pool
}

// Name identifies the probe in health responses.
func (p *PingProbe) Name() string { return "database" }

// Check pings the database, respecting the context deadline.
func (p *PingProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}
