package service

import (
	"context"

	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/metrics"
	"go.uber.org/zap"
)

// ConnectionProvider hands out a live handle for a tenant.
type ConnectionProvider interface {
	GetOrCreate(ctx context.Context, tenantID string) (domain.TenantConn, error)
}

// HealthService probes tenant storage reachability.
type HealthService struct {
	pool    ConnectionProvider
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHealthService(pool ConnectionProvider, m *metrics.Metrics, logger *zap.Logger) *HealthService {
	return &HealthService{pool: pool, metrics: m, logger: logger}
}

// Check reports whether the tenant's storage answers. It never returns an
// error: unknown tenants, failed dials and failed pings are all simply
// unhealthy.
func (s *HealthService) Check(ctx context.Context, tenantID string) bool {
	conn, err := s.pool.GetOrCreate(ctx, tenantID)
	if err != nil {
		s.logger.Warn("health check could not obtain handle",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		s.metrics.RecordHealthCheck(false)
		return false
	}

	if err := conn.Ping(ctx); err != nil {
		s.logger.Warn("health check ping failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		s.metrics.RecordHealthCheck(false)
		return false
	}

	s.metrics.RecordHealthCheck(true)
	return true
}
