package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/silohq/silo/internal/api/middleware"
	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/service"
	"github.com/silohq/silo/internal/store"
)

// OpsHandler serves the operator surface: pool introspection, cache
// invalidation and tenant administration.
type OpsHandler struct {
	pool      *service.PoolService
	cache     domain.ContextCache
	health    *service.HealthService
	directory domain.TenantDirectory
}

func NewOpsHandler(
	pool *service.PoolService,
	cache domain.ContextCache,
	health *service.HealthService,
	directory domain.TenantDirectory,
) *OpsHandler {
	return &OpsHandler{pool: pool, cache: cache, health: health, directory: directory}
}

func (h *OpsHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	ids := h.pool.ListActive()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(ids),
		"tenant_ids": ids,
	})
}

func (h *OpsHandler) CloseConnection(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant id is required")
		return
	}

	h.pool.Close(tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateCache drops the cached context for ?tenant_id=, or every
// cached context when no tenant is named.
func (h *OpsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)
	if tenantID == "" {
		h.cache.InvalidateAll(r.Context())
		writeJSON(w, http.StatusOK, map[string]string{"invalidated": "all"})
		return
	}

	h.cache.Invalidate(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": tenantID})
}

// TenantHealth probes one tenant's storage. Unknown tenants are simply
// unhealthy; the endpoint never fails.
func (h *OpsHandler) TenantHealth(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)
	healthy := h.health.Check(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "healthy": healthy})
}

func (h *OpsHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.directory.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(tenants),
		"tenants": tenants,
	})
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// SetActive flips a tenant's active flag. Deactivation takes effect
// immediately: the pooled handle is closed and the cached context dropped,
// so the next resolution sees the flag.
func (h *OpsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	if err := h.directory.SetActive(r.Context(), tenantID, *req.Active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "tenant not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}

	if !*req.Active {
		h.pool.Close(tenantID)
		h.cache.Invalidate(r.Context(), tenantID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "active": *req.Active})
}
