package cache

import (
	"fmt"

	"github.com/silohq/silo/internal/domain"
	"go.uber.org/zap"
)

type Config struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates a context cache for the configured backend. The in-process
// backend suits a single node; redis shares resolved contexts across a
// fleet so an invalidation on one node is seen by all.
func New(cfg Config, logger *zap.Logger) (domain.ContextCache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
