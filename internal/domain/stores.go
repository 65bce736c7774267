package domain

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TenantDirectory is the canonical store of tenant records.
type TenantDirectory interface {
	Create(ctx context.Context, t *Tenant) error
	FindByID(ctx context.Context, id string) (*Tenant, error)
	FindByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	// UpdateConfig merges partial into the tenant's config map.
	UpdateConfig(ctx context.Context, id string, partial map[string]string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// ContextCache is a time-bounded cache of resolved tenant contexts.
// Operations never surface backend faults: a failed read is a miss and a
// failed write is dropped, logged by the implementation.
type ContextCache interface {
	Get(ctx context.Context, tenantID string) (*TenantContext, bool)
	// Set inserts or replaces the entry and schedules its expiry at
	// now + ttl, superseding any pending expiry for the same id.
	Set(ctx context.Context, tenantID string, tctx *TenantContext, ttl time.Duration)
	Invalidate(ctx context.Context, tenantID string)
	InvalidateAll(ctx context.Context)
	Close() error
}

// TenantConn is a live handle to a tenant's dedicated database.
// *pgxpool.Pool satisfies it; Close is idempotent.
type TenantConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Dialer opens a connection handle for a descriptor.
type Dialer interface {
	Dial(ctx context.Context, dsn string) (TenantConn, error)
}

// StorageAdmin issues administrative commands against the database server
// hosting the per-tenant databases.
type StorageAdmin interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	DatabaseExists(ctx context.Context, name string) (bool, error)
	// TerminateSessions force-disconnects every backend session bound to
	// the named database. Required before a drop can succeed.
	TerminateSessions(ctx context.Context, name string) error
	Backup(ctx context.Context, name, path string) error
	Restore(ctx context.Context, name, path string) error
}

// FieldCipher seals sensitive config values before they reach the
// directory's backing store.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
