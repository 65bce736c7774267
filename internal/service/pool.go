package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/metrics"
	"github.com/silohq/silo/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrTenantNotFound covers tenants that do not exist and tenants that are
// deactivated. Callers must not retry against a different identifier.
var ErrTenantNotFound = errors.New("tenant not found or inactive")

// ConnectionError wraps a failed dial. The descriptor resolved but the
// tenant's database could not be reached; retrying is the caller's call.
type ConnectionError struct {
	TenantID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect tenant %s: %v", e.TenantID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type PoolConfig struct {
	// MaxConnections bounds the number of pooled tenant handles.
	MaxConnections int
	// CacheTTL is how long a resolved tenant context stays cached.
	CacheTTL time.Duration
	// DSNTemplate builds a descriptor for tenants that carry none.
	DSNTemplate string
}

// PoolService hands out tenant connection handles, at most one per tenant.
// When the pool is full the handle that entered earliest is closed to make
// room, regardless of how recently it was used.
type PoolService struct {
	directory domain.TenantDirectory
	cache     domain.ContextCache
	dialer    domain.Dialer
	metrics   *metrics.Metrics
	logger    *zap.Logger

	maxConnections int
	cacheTTL       time.Duration
	dsnTemplate    string

	mu      sync.RWMutex
	entries map[string]*poolEntry
	// order holds pooled ids oldest-first; it always mirrors entries.
	order []string

	flight singleflight.Group
}

type poolEntry struct {
	conn     domain.TenantConn
	openedAt time.Time
}

func NewPoolService(
	directory domain.TenantDirectory,
	cache domain.ContextCache,
	dialer domain.Dialer,
	m *metrics.Metrics,
	cfg PoolConfig,
	logger *zap.Logger,
) *PoolService {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 20
	}
	return &PoolService{
		directory:      directory,
		cache:          cache,
		dialer:         dialer,
		metrics:        m,
		logger:         logger,
		maxConnections: cfg.MaxConnections,
		cacheTTL:       cfg.CacheTTL,
		dsnTemplate:    cfg.DSNTemplate,
		entries:        make(map[string]*poolEntry),
	}
}

// GetOrCreate returns the pooled handle for the tenant, dialing one if
// none is pooled. Concurrent callers for the same tenant share a single
// dial and receive the same handle or the same error.
func (s *PoolService) GetOrCreate(ctx context.Context, tenantID string) (domain.TenantConn, error) {
	if tenantID == "" {
		return nil, ErrTenantNotFound
	}

	s.mu.RLock()
	e, ok := s.entries[tenantID]
	s.mu.RUnlock()
	if ok {
		return e.conn, nil
	}

	v, err, _ := s.flight.Do(tenantID, func() (any, error) {
		return s.open(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.TenantConn), nil
}

func (s *PoolService) open(ctx context.Context, tenantID string) (domain.TenantConn, error) {
	// A previous flight may have admitted a handle while this caller
	// waited on the singleflight key.
	s.mu.RLock()
	e, ok := s.entries[tenantID]
	s.mu.RUnlock()
	if ok {
		return e.conn, nil
	}

	tctx, err := s.resolveContext(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	conn, err := s.dialer.Dial(ctx, tctx.DSN)
	if err != nil {
		s.metrics.RecordDial("error", time.Since(start).Seconds())
		s.logger.Warn("tenant dial failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil, &ConnectionError{TenantID: tenantID, Err: err}
	}
	s.metrics.RecordDial("ok", time.Since(start).Seconds())

	s.admit(tenantID, conn)
	return conn, nil
}

func (s *PoolService) resolveContext(ctx context.Context, tenantID string) (*domain.TenantContext, error) {
	if tctx, ok := s.cache.Get(ctx, tenantID); ok {
		s.metrics.RecordCacheHit()
		return tctx, nil
	}
	s.metrics.RecordCacheMiss()

	t, err := s.directory.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if !t.Active {
		return nil, ErrTenantNotFound
	}

	dsn := t.Config[domain.ConfigKeyDSN]
	if dsn == "" {
		dsn, err = domain.RenderDSN(s.dsnTemplate, t.ID)
		if err != nil {
			return nil, fmt.Errorf("render descriptor for %s: %w", t.ID, err)
		}
	}

	tctx := &domain.TenantContext{
		ID:     t.ID,
		Name:   t.Name,
		Config: t.Config,
		DSN:    dsn,
	}
	s.cache.Set(ctx, tenantID, tctx, s.cacheTTL)
	return tctx, nil
}

// admit inserts the handle, evicting oldest-first until the bound holds.
// The evicted handle is closed before the new entry becomes visible.
func (s *PoolService) admit(tenantID string, conn domain.TenantConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.entries) >= s.maxConnections {
		victim := s.order[0]
		s.order = s.order[1:]
		e := s.entries[victim]
		delete(s.entries, victim)
		e.conn.Close()
		s.metrics.RecordEviction()
		s.logger.Info("evicted oldest tenant handle",
			zap.String("tenant_id", victim),
			zap.Duration("pooled_for", time.Since(e.openedAt)))
	}

	s.entries[tenantID] = &poolEntry{conn: conn, openedAt: time.Now()}
	s.order = append(s.order, tenantID)
	s.metrics.SetConnectionsActive(len(s.entries))
}

// Close releases the tenant's pooled handle. Unknown tenants are a no-op.
func (s *PoolService) Close(tenantID string) {
	s.mu.Lock()
	e, ok := s.entries[tenantID]
	if ok {
		delete(s.entries, tenantID)
		s.removeFromOrder(tenantID)
		s.metrics.SetConnectionsActive(len(s.entries))
	}
	s.mu.Unlock()

	if ok {
		e.conn.Close()
		s.logger.Info("closed tenant handle", zap.String("tenant_id", tenantID))
	}
}

// CloseAll empties the pool. Handles close concurrently and CloseAll
// returns once every one of them has shut down.
func (s *PoolService) CloseAll() {
	s.mu.Lock()
	closing := make([]domain.TenantConn, 0, len(s.entries))
	for _, e := range s.entries {
		closing = append(closing, e.conn)
	}
	s.entries = make(map[string]*poolEntry)
	s.order = nil
	s.metrics.SetConnectionsActive(0)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range closing {
		wg.Add(1)
		go func(c domain.TenantConn) {
			defer wg.Done()
			c.Close()
		}(conn)
	}
	wg.Wait()

	if len(closing) > 0 {
		s.logger.Info("closed all tenant handles", zap.Int("count", len(closing)))
	}
}

// ListActive returns the ids of tenants with a pooled handle, sorted.
func (s *PoolService) ListActive() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *PoolService) removeFromOrder(tenantID string) {
	for i, id := range s.order {
		if id == tenantID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
