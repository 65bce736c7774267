package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/silohq/silo/internal/api/handlers"
	mw "github.com/silohq/silo/internal/api/middleware"
	"github.com/silohq/silo/internal/buildconfig"
	"github.com/silohq/silo/internal/cache"
	"github.com/silohq/silo/internal/config"
	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/metrics"
	"github.com/silohq/silo/internal/secrets"
	"github.com/silohq/silo/internal/service"
	"github.com/silohq/silo/internal/store"
	"go.uber.org/zap"
)

// App holds the router and long-lived services for lifecycle management.
type App struct {
	Router  *chi.Mux
	Pool    *service.PoolService
	Cache   domain.ContextCache
	Monitor *service.MonitorService
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) (*App, error) {
	cipher, err := secrets.New(config.ConfigEncryptionKey())
	if err != nil {
		return nil, err
	}

	// Stores
	tenantStore := store.NewTenantStore(db, cipher)
	adminStore := store.NewAdminStore(db, config.PgDumpPath(), config.PgRestorePath(), logger)
	dialer := store.NewPgxDialer(int32(config.TenantPoolMaxConns()))

	// Context cache; a dead redis degrades to in-process caching rather
	// than blocking startup.
	ctxCache, err := cache.New(cache.Config{
		Backend:       config.CacheBackend(),
		RedisAddr:     config.RedisAddr(),
		RedisPassword: config.RedisPassword(),
		RedisDB:       config.RedisDB(),
	}, logger)
	if err != nil {
		logger.Warn("cache backend unavailable, using in-process cache", zap.Error(err))
		ctxCache = cache.NewMemory()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	// Services
	poolSvc := service.NewPoolService(tenantStore, ctxCache, dialer, m, service.PoolConfig{
		MaxConnections: config.MaxTenantConnections(),
		CacheTTL:       config.TenantCacheTTL(),
		DSNTemplate:    config.DSNTemplate(),
	}, logger)
	provisionSvc := service.NewProvisionService(tenantStore, adminStore, ctxCache, poolSvc, m, config.DSNTemplate(), logger)
	healthSvc := service.NewHealthService(poolSvc, m, logger)
	monitorSvc := service.NewMonitorService(poolSvc, healthSvc, logger)
	monitorSvc.SetInterval(config.HealthSweepInterval())

	// Handlers
	tenantHandler := handlers.NewTenantHandler(tenantStore)
	storageHandler := handlers.NewStorageHandler(provisionSvc, healthSvc, config.BackupDir())
	opsHandler := handlers.NewOpsHandler(poolSvc, ctxCache, healthSvc, tenantStore)

	r := chi.NewRouter()

	app := &App{
		Router:  r,
		Pool:    poolSvc,
		Cache:   ctxCache,
		Monitor: monitorSvc,
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(m))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Prometheus metrics (no auth)
	r.Handle("/metrics", promhttp.Handler())

	// Tenant creation (no auth, bootstrap endpoint)
	r.Post("/v1/tenants", tenantHandler.Create)

	// Tenant self-service routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(tenantStore))

		r.Get("/tenant", tenantHandler.GetSelf)

		r.Route("/storage", func(r chi.Router) {
			r.Get("/health", storageHandler.SelfHealth)
			r.Post("/backup", storageHandler.SelfBackup)
		})
	})

	// Operator routes
	r.Route("/ops", func(r chi.Router) {
		r.Use(mw.AdminAuth(config.AdminToken()))

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", opsHandler.ListConnections)
			r.Delete("/{tenantID}", opsHandler.CloseConnection)
		})

		r.Post("/cache/invalidate", opsHandler.InvalidateCache)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", opsHandler.ListTenants)
			r.Route("/{tenantID}", func(r chi.Router) {
				r.Patch("/", opsHandler.SetActive)
				r.Get("/health", opsHandler.TenantHealth)
				r.Post("/storage", storageHandler.Provision)
				r.Delete("/storage", storageHandler.Drop)
				r.Post("/backup", storageHandler.Backup)
				r.Post("/restore", storageHandler.Restore)
			})
		})
	})

	return app, nil
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": buildconfig.Version(),
			"commit":  buildconfig.Commit(),
		})
	}
}

// Ensure stores, caches and services satisfy interfaces at compile time.
var (
	_ domain.TenantDirectory     = (*store.TenantStore)(nil)
	_ domain.StorageAdmin        = (*store.AdminStore)(nil)
	_ domain.Dialer              = (*store.PgxDialer)(nil)
	_ domain.TenantConn          = (*pgxpool.Pool)(nil)
	_ domain.ContextCache        = (*cache.Memory)(nil)
	_ domain.ContextCache        = (*cache.Redis)(nil)
	_ domain.FieldCipher         = (*secrets.Cipher)(nil)
	_ service.ConnectionCloser   = (*service.PoolService)(nil)
	_ service.ConnectionProvider = (*service.PoolService)(nil)
	_ service.ActiveLister       = (*service.PoolService)(nil)
	_ service.HealthProber       = (*service.HealthService)(nil)
)
