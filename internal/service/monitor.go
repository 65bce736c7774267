package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultMonitorInterval = 1 * time.Minute

// ActiveLister reports which tenants currently hold a pooled handle.
type ActiveLister interface {
	ListActive() []string
}

// HealthProber probes a single tenant's storage.
type HealthProber interface {
	Check(ctx context.Context, tenantID string) bool
}

// MonitorService periodically probes every pooled tenant so a dead backend
// shows up in the logs and metrics before a request trips over it.
type MonitorService struct {
	pool   ActiveLister
	health HealthProber
	logger *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMonitorService(pool ActiveLister, health HealthProber, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		pool:     pool,
		health:   health,
		logger:   logger,
		interval: defaultMonitorInterval,
		stopCh:   make(chan struct{}),
	}
}

func (s *MonitorService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the monitor on a periodic schedule in a background goroutine.
func (s *MonitorService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("connection monitor started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("connection monitor stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the monitor.
func (s *MonitorService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *MonitorService) run(ctx context.Context) {
	ids := s.pool.ListActive()
	if len(ids) == 0 {
		return
	}

	unhealthy := 0
	for _, id := range ids {
		if !s.health.Check(ctx, id) {
			unhealthy++
		}
	}

	if unhealthy > 0 {
		s.logger.Warn("sweep found unhealthy tenants",
			zap.Int("checked", len(ids)),
			zap.Int("unhealthy", unhealthy))
	} else {
		s.logger.Debug("sweep complete", zap.Int("checked", len(ids)))
	}
}
