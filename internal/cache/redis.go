package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/silohq/silo/internal/domain"
	"go.uber.org/zap"
)

const keyPrefix = "silo:tenant:"

// Redis is a distributed context cache. Backend faults never reach the
// caller: a failed read is a miss and a failed write is logged and dropped,
// so a redis outage degrades lookup latency, not correctness.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(addr, password string, db int, logger *zap.Logger) (*Redis, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, tenantID string) (*domain.TenantContext, bool) {
	data, err := r.client.Get(ctx, keyPrefix+tenantID).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, false
	}

	var tctx domain.TenantContext
	if err := json.Unmarshal(data, &tctx); err != nil {
		r.logger.Warn("cache entry corrupt", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, false
	}
	return &tctx, true
}

func (r *Redis) Set(ctx context.Context, tenantID string, tctx *domain.TenantContext, ttl time.Duration) {
	if ttl <= 0 {
		r.Invalidate(ctx, tenantID)
		return
	}
	data, err := json.Marshal(tctx)
	if err != nil {
		r.logger.Warn("cache encode failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, keyPrefix+tenantID, data, ttl).Err(); err != nil {
		r.logger.Warn("cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (r *Redis) Invalidate(ctx context.Context, tenantID string) {
	if err := r.client.Del(ctx, keyPrefix+tenantID).Err(); err != nil {
		r.logger.Warn("cache invalidate failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (r *Redis) InvalidateAll(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn("cache invalidate failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache scan failed", zap.Error(err))
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
