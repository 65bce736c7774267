package cache

import (
	"context"
	"sync"
	"time"

	"github.com/silohq/silo/internal/domain"
)

// Memory is an in-process context cache. Every entry carries its own expiry
// timer; reads also check the deadline so an entry is never served at or
// past its expiry even if the timer has not fired yet.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	tctx      *domain.TenantContext
	expiresAt time.Time
	timer     *time.Timer
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

func (m *Memory) Get(ctx context.Context, tenantID string) (*domain.TenantContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[tenantID]
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		e.timer.Stop()
		delete(m.entries, tenantID)
		return nil, false
	}
	return e.tctx, true
}

func (m *Memory) Set(ctx context.Context, tenantID string, tctx *domain.TenantContext, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[tenantID]; ok {
		old.timer.Stop()
		delete(m.entries, tenantID)
	}
	if ttl <= 0 {
		return
	}

	e := &memoryEntry{tctx: tctx, expiresAt: time.Now().Add(ttl)}
	// The identity check keeps a timer that fired after its entry was
	// replaced from evicting the replacement.
	e.timer = time.AfterFunc(ttl, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.entries[tenantID]; ok && cur == e {
			delete(m.entries, tenantID)
		}
	})
	m.entries[tenantID] = e
}

func (m *Memory) Invalidate(ctx context.Context, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[tenantID]; ok {
		e.timer.Stop()
		delete(m.entries, tenantID)
	}
}

func (m *Memory) InvalidateAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		e.timer.Stop()
	}
	m.entries = make(map[string]*memoryEntry)
}

func (m *Memory) Close() error {
	m.InvalidateAll(context.Background())
	return nil
}
