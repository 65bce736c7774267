package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/silohq/silo/internal/api/middleware"
	"github.com/silohq/silo/internal/service"
)

type StorageHandler struct {
	provision *service.ProvisionService
	health    *service.HealthService
	backupDir string
}

func NewStorageHandler(provision *service.ProvisionService, health *service.HealthService, backupDir string) *StorageHandler {
	return &StorageHandler{provision: provision, health: health, backupDir: backupDir}
}

// Provision creates the storage unit for the tenant in the path.
func (h *StorageHandler) Provision(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)

	if err := h.provision.CreateStorage(r.Context(), tenantID); err != nil {
		writeProvisionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"tenant_id": tenantID, "status": "provisioned"})
}

// Drop tears down the storage unit for the tenant in the path.
func (h *StorageHandler) Drop(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)

	if err := h.provision.DropStorage(r.Context(), tenantID); err != nil {
		writeProvisionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backupRequest struct {
	Path string `json:"path"`
}

// Backup dumps the storage unit of the tenant in the path. The body may
// name a destination; omitted, the dump lands in the backup directory.
func (h *StorageHandler) Backup(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)

	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		req.Path = h.defaultBackupPath(tenantID)
	}

	if err := h.provision.BackupStorage(r.Context(), tenantID, req.Path); err != nil {
		writeProvisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "path": req.Path})
}

// Restore loads a dump back into the storage unit of the tenant in the
// path. The body must name the dump to load.
func (h *StorageHandler) Restore(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.ResolveTenantID(r)

	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.provision.RestoreStorage(r.Context(), tenantID, req.Path); err != nil {
		writeProvisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenantID, "path": req.Path})
}

// SelfBackup lets an authenticated tenant dump its own storage unit. The
// dump lands under the configured backup directory with a timestamped name.
func (h *StorageHandler) SelfBackup(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenantID := middleware.ResolveTenantID(r)
	if tenantID != tenant.ID {
		writeError(w, http.StatusForbidden, "cannot back up another tenant's storage")
		return
	}

	path := h.defaultBackupPath(tenant.ID)

	if err := h.provision.BackupStorage(r.Context(), tenant.ID, path); err != nil {
		writeProvisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenant_id": tenant.ID, "path": path})
}

// SelfHealth reports whether the authenticated tenant's storage answers.
// The result is always 200; unhealthy is a payload, not an error.
func (h *StorageHandler) SelfHealth(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenantID := middleware.ResolveTenantID(r)
	if tenantID != tenant.ID {
		writeError(w, http.StatusForbidden, "cannot probe another tenant's storage")
		return
	}

	healthy := h.health.Check(r.Context(), tenant.ID)
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant.ID, "healthy": healthy})
}

func (h *StorageHandler) defaultBackupPath(tenantID string) string {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return filepath.Join(h.backupDir, fmt.Sprintf("%s-%s.dump", tenantID, stamp))
}

func writeProvisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, service.ErrStorageExists):
		writeError(w, http.StatusConflict, "storage already provisioned")
	case errors.Is(err, service.ErrPathRequired):
		writeError(w, http.StatusBadRequest, "path is required")
	default:
		var provErr *service.ProvisioningError
		if errors.As(err, &provErr) {
			writeError(w, http.StatusBadGateway, provErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "storage operation failed")
	}
}
