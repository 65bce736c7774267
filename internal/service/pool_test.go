package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/metrics"
	"github.com/silohq/silo/internal/store"
	"go.uber.org/zap"
)

const testDSNTemplate = "postgres://silo@localhost:5432/tenant_{tenant_id}"

func testDSN(id string) string {
	return "postgres://silo@localhost:5432/tenant_" + id
}

// mockDirectory implements domain.TenantDirectory for testing.
type mockDirectory struct {
	mu        sync.Mutex
	tenants   map[string]*domain.Tenant
	findCalls int
	errOn     map[string]error
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		tenants: make(map[string]*domain.Tenant),
		errOn:   make(map[string]error),
	}
}

func (m *mockDirectory) Create(ctx context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return store.ErrConflict
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tenants[t.ID] = t
	return nil
}

func (m *mockDirectory) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if err, ok := m.errOn[id]; ok {
		return nil, err
	}
	t, ok := m.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (m *mockDirectory) FindByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.APIKeyHash == apiKeyHash {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockDirectory) List(ctx context.Context) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tenant
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockDirectory) UpdateConfig(ctx context.Context, id string, partial map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Config == nil {
		t.Config = make(map[string]string)
	}
	for k, v := range partial {
		t.Config[k] = v
	}
	return nil
}

func (m *mockDirectory) SetActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Active = active
	return nil
}

func (m *mockDirectory) seed(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[id] = &domain.Tenant{ID: id, Name: id + " inc", Active: active}
}

// mockCache implements domain.ContextCache without expiry.
type mockCache struct {
	mu            sync.Mutex
	entries       map[string]*domain.TenantContext
	invalidations []string
	cleared       int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*domain.TenantContext)}
}

func (c *mockCache) Get(ctx context.Context, tenantID string) (*domain.TenantContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tctx, ok := c.entries[tenantID]
	return tctx, ok
}

func (c *mockCache) Set(ctx context.Context, tenantID string, tctx *domain.TenantContext, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, tenantID)
		return
	}
	c.entries[tenantID] = tctx
}

func (c *mockCache) Invalidate(ctx context.Context, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	c.invalidations = append(c.invalidations, tenantID)
}

func (c *mockCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*domain.TenantContext)
	c.cleared++
}

func (c *mockCache) Close() error { return nil }

// mockConn implements domain.TenantConn.
type mockConn struct {
	dsn     string
	pingErr error

	mu     sync.Mutex
	closed bool
}

func (c *mockConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (c *mockConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *mockConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (c *mockConn) Ping(ctx context.Context) error {
	return c.pingErr
}

func (c *mockConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mockDialer implements domain.Dialer. An optional gate blocks every dial
// until the test releases it.
type mockDialer struct {
	gate chan struct{}

	mu    sync.Mutex
	fail  map[string]error
	conns map[string][]*mockConn
	total int
}

func newMockDialer() *mockDialer {
	return &mockDialer{
		fail:  make(map[string]error),
		conns: make(map[string][]*mockConn),
	}
}

func (d *mockDialer) Dial(ctx context.Context, dsn string) (domain.TenantConn, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total++
	if err, ok := d.fail[dsn]; ok {
		return nil, err
	}
	c := &mockConn{dsn: dsn}
	d.conns[dsn] = append(d.conns[dsn], c)
	return c, nil
}

func (d *mockDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

func (d *mockDialer) connFor(dsn string) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conns := d.conns[dsn]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func setupPoolTest(maxConns int) (*PoolService, *mockDirectory, *mockCache, *mockDialer) {
	dir := newMockDirectory()
	cache := newMockCache()
	dialer := newMockDialer()
	svc := NewPoolService(dir, cache, dialer, testMetrics(), PoolConfig{
		MaxConnections: maxConns,
		CacheTTL:       time.Minute,
		DSNTemplate:    testDSNTemplate,
	}, testLogger())
	return svc, dir, cache, dialer
}

func TestPoolService_GetOrCreateReuses(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(4)
	dir.seed("acme", true)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, "acme")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := svc.GetOrCreate(ctx, "acme")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	if first != second {
		t.Error("GetOrCreate() returned a different handle for a pooled tenant")
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestPoolService_GetOrCreateUnknownTenant(t *testing.T) {
	svc, _, _, dialer := setupPoolTest(4)

	_, err := svc.GetOrCreate(context.Background(), "ghost")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("GetOrCreate() error = %v, want ErrTenantNotFound", err)
	}
	if dialer.dialCount() != 0 {
		t.Errorf("dials = %d, want 0", dialer.dialCount())
	}
	if len(svc.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty", svc.ListActive())
	}
}

func TestPoolService_GetOrCreateInactiveTenant(t *testing.T) {
	svc, dir, _, _ := setupPoolTest(4)
	dir.seed("dormant", false)

	_, err := svc.GetOrCreate(context.Background(), "dormant")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("GetOrCreate() error = %v, want ErrTenantNotFound", err)
	}
}

func TestPoolService_GetOrCreateEmptyID(t *testing.T) {
	svc, _, _, _ := setupPoolTest(4)

	_, err := svc.GetOrCreate(context.Background(), "")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("GetOrCreate() error = %v, want ErrTenantNotFound", err)
	}
}

func TestPoolService_GetOrCreateDirectoryFault(t *testing.T) {
	svc, dir, _, _ := setupPoolTest(4)
	dir.errOn["acme"] = errors.New("connection refused")

	_, err := svc.GetOrCreate(context.Background(), "acme")
	if err == nil {
		t.Fatal("GetOrCreate() succeeded despite directory fault")
	}
	if errors.Is(err, ErrTenantNotFound) {
		t.Errorf("GetOrCreate() mapped a directory fault to ErrTenantNotFound: %v", err)
	}
}

func TestPoolService_DialFailure(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(4)
	dir.seed("acme", true)
	dialer.fail[testDSN("acme")] = errors.New("connection refused")

	_, err := svc.GetOrCreate(context.Background(), "acme")

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("GetOrCreate() error = %v, want *ConnectionError", err)
	}
	if connErr.TenantID != "acme" {
		t.Errorf("ConnectionError.TenantID = %q, want %q", connErr.TenantID, "acme")
	}
	if len(svc.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty after failed dial", svc.ListActive())
	}
}

func TestPoolService_CachedContextSkipsDirectory(t *testing.T) {
	svc, dir, cache, dialer := setupPoolTest(4)
	cache.Set(context.Background(), "acme", &domain.TenantContext{
		ID:   "acme",
		Name: "acme inc",
		DSN:  testDSN("acme"),
	}, time.Minute)

	_, err := svc.GetOrCreate(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if dir.findCalls != 0 {
		t.Errorf("directory lookups = %d, want 0 with a cached context", dir.findCalls)
	}
	if dialer.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", dialer.dialCount())
	}
}

func TestPoolService_EvictsOldestFirst(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(2)
	for _, id := range []string{"alpha", "bravo", "charlie"} {
		dir.seed(id, true)
	}
	ctx := context.Background()

	if _, err := svc.GetOrCreate(ctx, "alpha"); err != nil {
		t.Fatalf("GetOrCreate(alpha) error = %v", err)
	}
	if _, err := svc.GetOrCreate(ctx, "bravo"); err != nil {
		t.Fatalf("GetOrCreate(bravo) error = %v", err)
	}
	if _, err := svc.GetOrCreate(ctx, "charlie"); err != nil {
		t.Fatalf("GetOrCreate(charlie) error = %v", err)
	}

	// alpha entered first, so it pays for charlie's slot.
	if !dialer.connFor(testDSN("alpha")).isClosed() {
		t.Error("alpha's handle was not closed on eviction")
	}
	got := svc.ListActive()
	if len(got) != 2 || got[0] != "bravo" || got[1] != "charlie" {
		t.Fatalf("ListActive() = %v, want [bravo charlie]", got)
	}

	// Readmitting alpha evicts bravo, the oldest remaining entry, even
	// though charlie was touched least recently.
	if _, err := svc.GetOrCreate(ctx, "alpha"); err != nil {
		t.Fatalf("GetOrCreate(alpha) error = %v", err)
	}
	if !dialer.connFor(testDSN("bravo")).isClosed() {
		t.Error("bravo's handle was not closed on eviction")
	}
	got = svc.ListActive()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "charlie" {
		t.Fatalf("ListActive() = %v, want [alpha charlie]", got)
	}
	if dialer.dialCount() != 4 {
		t.Errorf("dials = %d, want 4", dialer.dialCount())
	}
}

func TestPoolService_CloseIsIdempotent(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(4)
	dir.seed("acme", true)
	ctx := context.Background()

	if _, err := svc.GetOrCreate(ctx, "acme"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	svc.Close("acme")
	if !dialer.connFor(testDSN("acme")).isClosed() {
		t.Error("Close() did not close the handle")
	}
	if len(svc.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty", svc.ListActive())
	}

	svc.Close("acme")
	svc.Close("never-pooled")

	// A fresh GetOrCreate dials again rather than resurrecting the
	// closed handle.
	if _, err := svc.GetOrCreate(ctx, "acme"); err != nil {
		t.Fatalf("GetOrCreate() after Close error = %v", err)
	}
	if dialer.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", dialer.dialCount())
	}
}

func TestPoolService_CloseAll(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(8)
	ids := []string{"alpha", "bravo", "charlie"}
	ctx := context.Background()
	for _, id := range ids {
		dir.seed(id, true)
		if _, err := svc.GetOrCreate(ctx, id); err != nil {
			t.Fatalf("GetOrCreate(%s) error = %v", id, err)
		}
	}

	svc.CloseAll()

	if len(svc.ListActive()) != 0 {
		t.Fatalf("ListActive() = %v, want empty", svc.ListActive())
	}
	for _, id := range ids {
		if !dialer.connFor(testDSN(id)).isClosed() {
			t.Errorf("handle for %s still open after CloseAll", id)
		}
	}

	// The pool stays usable.
	if _, err := svc.GetOrCreate(ctx, "alpha"); err != nil {
		t.Fatalf("GetOrCreate() after CloseAll error = %v", err)
	}
	if dialer.dialCount() != 4 {
		t.Errorf("dials = %d, want 4", dialer.dialCount())
	}
}

func TestPoolService_ConcurrentGetOrCreateDialsOnce(t *testing.T) {
	svc, dir, _, dialer := setupPoolTest(4)
	dir.seed("acme", true)
	dialer.gate = make(chan struct{})

	const callers = 16
	results := make(chan domain.TenantConn, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := svc.GetOrCreate(context.Background(), "acme")
			if err != nil {
				errs <- err
				return
			}
			results <- conn
		}()
	}

	close(dialer.gate)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dials = %d, want exactly 1 for concurrent callers", dialer.dialCount())
	}

	var first domain.TenantConn
	for conn := range results {
		if first == nil {
			first = conn
		} else if conn != first {
			t.Fatal("concurrent callers received different handles")
		}
	}
}

func TestPoolService_ListActiveSorted(t *testing.T) {
	svc, dir, _, _ := setupPoolTest(8)
	ctx := context.Background()
	for _, id := range []string{"zulu", "alpha", "mike"} {
		dir.seed(id, true)
		if _, err := svc.GetOrCreate(ctx, id); err != nil {
			t.Fatalf("GetOrCreate(%s) error = %v", id, err)
		}
	}

	got := svc.ListActive()
	want := []string{"alpha", "mike", "zulu"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ListActive() = %v, want %v", got, want)
	}
}
