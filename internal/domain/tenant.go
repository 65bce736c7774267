package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ConfigKeyDSN is the tenant config key holding an explicit connection
// descriptor for the tenant's database. When absent, the descriptor is
// derived from the configured template.
const ConfigKeyDSN = "dsn"

// DSNPlaceholder is the token in a descriptor template that is replaced
// with the sanitized tenant id.
const DSNPlaceholder = "{tenant_id}"

type Tenant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	Config     map[string]string `json:"-"`
	APIKeyHash string            `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TenantContext is the resolved view of a tenant used for opening
// connections. It is only constructed for active tenants, and DSN is
// always non-empty once constructed.
type TenantContext struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
	DSN    string            `json:"dsn"`
}

// Tenant ids are capped at 56 characters so the derived database name
// ("tenant_" + sanitized id) fits Postgres's 63-byte identifier limit.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,55}$`)

// ValidTenantID reports whether id is usable as a tenant identifier.
// Generated UUIDs and lowercase slugs both pass.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

func sanitizeTenantID(id string) string {
	return strings.ReplaceAll(strings.ToLower(id), "-", "_")
}

// StorageUnitName derives the deterministic database name for a tenant.
func StorageUnitName(id string) (string, error) {
	if !ValidTenantID(id) {
		return "", fmt.Errorf("invalid tenant id %q", id)
	}
	return "tenant_" + sanitizeTenantID(id), nil
}

// RenderDSN substitutes the sanitized tenant id into the descriptor
// template. The template must contain the {tenant_id} placeholder exactly
// where the database name carries the tenant, e.g.
// postgres://silo@localhost:5432/tenant_{tenant_id}.
func RenderDSN(template, id string) (string, error) {
	if !ValidTenantID(id) {
		return "", fmt.Errorf("invalid tenant id %q", id)
	}
	if !strings.Contains(template, DSNPlaceholder) {
		return "", fmt.Errorf("descriptor template missing %s placeholder", DSNPlaceholder)
	}
	return strings.ReplaceAll(template, DSNPlaceholder, sanitizeTenantID(id)), nil
}
