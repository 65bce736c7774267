package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/silohq/silo/internal/domain"
)

// PgxDialer opens pgx pools for tenant descriptors. Each handle carries a
// small per-tenant pool; the process-wide connection bound is enforced by
// the caller, not here.
type PgxDialer struct {
	maxConns int32
}

func NewPgxDialer(maxConns int32) *PgxDialer {
	if maxConns <= 0 {
		maxConns = 2
	}
	return &PgxDialer{maxConns: maxConns}
}

func (d *PgxDialer) Dial(ctx context.Context, dsn string) (domain.TenantConn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	cfg.MaxConns = d.maxConns
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
