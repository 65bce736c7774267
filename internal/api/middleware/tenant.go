package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ResolveTenantID determines which tenant a request addresses. An explicit
// {tenantID} path segment wins, then a tenant_id query parameter, then the
// authenticated principal. Returns "" when nothing identifies a tenant.
func ResolveTenantID(r *http.Request) string {
	if id := chi.URLParam(r, "tenantID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("tenant_id"); id != "" {
		return id
	}
	if t := TenantFromContext(r.Context()); t != nil {
		return t.ID
	}
	return ""
}
