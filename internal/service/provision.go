package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/metrics"
	"github.com/silohq/silo/internal/store"
	"go.uber.org/zap"
)

var (
	ErrStorageExists = errors.New("storage unit already exists")
	ErrPathRequired  = errors.New("path is required")
)

// ProvisioningError wraps a failed create, drop, backup or restore. The
// tenant record itself is fine; the storage operation against the backend
// did not complete.
type ProvisioningError struct {
	TenantID string
	Op       string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%s storage for tenant %s: %v", e.Op, e.TenantID, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ConnectionCloser releases a tenant's pooled handle, if any.
type ConnectionCloser interface {
	Close(tenantID string)
}

// ProvisionService manages the lifecycle of per-tenant storage units.
type ProvisionService struct {
	directory   domain.TenantDirectory
	admin       domain.StorageAdmin
	cache       domain.ContextCache
	pool        ConnectionCloser
	metrics     *metrics.Metrics
	dsnTemplate string
	logger      *zap.Logger
}

func NewProvisionService(
	directory domain.TenantDirectory,
	admin domain.StorageAdmin,
	cache domain.ContextCache,
	pool ConnectionCloser,
	m *metrics.Metrics,
	dsnTemplate string,
	logger *zap.Logger,
) *ProvisionService {
	return &ProvisionService{
		directory:   directory,
		admin:       admin,
		cache:       cache,
		pool:        pool,
		metrics:     m,
		dsnTemplate: dsnTemplate,
		logger:      logger,
	}
}

// CreateStorage provisions the tenant's storage unit and persists its
// connection descriptor. The descriptor is written only after the backend
// reports success, so a failed create leaves the record untouched.
func (s *ProvisionService) CreateStorage(ctx context.Context, tenantID string) error {
	start := time.Now()
	err := s.createStorage(ctx, tenantID)
	s.record("create", start, err)
	return err
}

func (s *ProvisionService) createStorage(ctx context.Context, tenantID string) error {
	t, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	name, err := domain.StorageUnitName(t.ID)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: err}
	}

	exists, err := s.admin.DatabaseExists(ctx, name)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: err}
	}
	if exists {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: ErrStorageExists}
	}

	if err := s.admin.CreateDatabase(ctx, name); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: err}
	}

	dsn, err := domain.RenderDSN(s.dsnTemplate, t.ID)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: err}
	}
	if err := s.directory.UpdateConfig(ctx, t.ID, map[string]string{domain.ConfigKeyDSN: dsn}); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "create", Err: err}
	}
	s.cache.Invalidate(ctx, t.ID)

	s.logger.Info("provisioned tenant storage",
		zap.String("tenant_id", t.ID),
		zap.String("database", name))
	return nil
}

// DropStorage tears the tenant's storage unit down. The pooled handle is
// released first and remaining sessions are terminated before the drop;
// the backend rejects a drop while sessions remain open. The cached
// context is invalidated only once the drop succeeded.
func (s *ProvisionService) DropStorage(ctx context.Context, tenantID string) error {
	start := time.Now()
	err := s.dropStorage(ctx, tenantID)
	s.record("drop", start, err)
	return err
}

func (s *ProvisionService) dropStorage(ctx context.Context, tenantID string) error {
	t, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	name, err := domain.StorageUnitName(t.ID)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "drop", Err: err}
	}

	s.pool.Close(t.ID)

	if err := s.admin.TerminateSessions(ctx, name); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "drop", Err: err}
	}
	if err := s.admin.DropDatabase(ctx, name); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "drop", Err: err}
	}
	s.cache.Invalidate(ctx, t.ID)

	s.logger.Info("dropped tenant storage",
		zap.String("tenant_id", t.ID),
		zap.String("database", name))
	return nil
}

// BackupStorage dumps the tenant's storage unit to path on the server's
// filesystem. Pooled handles and cached contexts are left alone.
func (s *ProvisionService) BackupStorage(ctx context.Context, tenantID, path string) error {
	start := time.Now()
	err := s.backupStorage(ctx, tenantID, path)
	s.record("backup", start, err)
	return err
}

func (s *ProvisionService) backupStorage(ctx context.Context, tenantID, path string) error {
	if path == "" {
		return ErrPathRequired
	}
	t, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	name, err := domain.StorageUnitName(t.ID)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "backup", Err: err}
	}

	if err := s.admin.Backup(ctx, name, path); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "backup", Err: err}
	}

	s.logger.Info("backed up tenant storage",
		zap.String("tenant_id", t.ID),
		zap.String("path", path))
	return nil
}

// RestoreStorage loads a dump produced by BackupStorage into the tenant's
// storage unit. Like BackupStorage it does not touch the pool or cache.
func (s *ProvisionService) RestoreStorage(ctx context.Context, tenantID, path string) error {
	start := time.Now()
	err := s.restoreStorage(ctx, tenantID, path)
	s.record("restore", start, err)
	return err
}

func (s *ProvisionService) restoreStorage(ctx context.Context, tenantID, path string) error {
	if path == "" {
		return ErrPathRequired
	}
	t, err := s.findTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	name, err := domain.StorageUnitName(t.ID)
	if err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "restore", Err: err}
	}

	if err := s.admin.Restore(ctx, name, path); err != nil {
		return &ProvisioningError{TenantID: t.ID, Op: "restore", Err: err}
	}

	s.logger.Info("restored tenant storage",
		zap.String("tenant_id", t.ID),
		zap.String("path", path))
	return nil
}

func (s *ProvisionService) findTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}
	t, err := s.directory.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	return t, nil
}

func (s *ProvisionService) record(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordProvision(op, status, time.Since(start).Seconds())
}
