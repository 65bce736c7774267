package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/silohq/silo/internal/api/middleware"
	"github.com/silohq/silo/internal/domain"
	"github.com/silohq/silo/internal/store"
)

type TenantHandler struct {
	directory domain.TenantDirectory
}

func NewTenantHandler(directory domain.TenantDirectory) *TenantHandler {
	return &TenantHandler{directory: directory}
}

type createTenantRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createTenantResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !domain.ValidTenantID(req.ID) {
		writeError(w, http.StatusBadRequest, "id must be lowercase alphanumeric with - or _, at most 56 characters")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate API key")
		return
	}

	tenant := &domain.Tenant{
		ID:         req.ID,
		Name:       req.Name,
		Active:     true,
		APIKeyHash: middleware.HashAPIKey(apiKey),
	}

	if err := h.directory.Create(r.Context(), tenant); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "tenant already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create tenant")
		return
	}

	writeJSON(w, http.StatusCreated, createTenantResponse{
		ID:     tenant.ID,
		Name:   tenant.Name,
		APIKey: apiKey,
	})
}

// GetSelf returns the authenticated tenant's own record.
func (h *TenantHandler) GetSelf(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "sl_" + hex.EncodeToString(b), nil
}
