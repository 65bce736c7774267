package domain

import (
	"strings"
	"testing"
)

func TestValidTenantID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"simple slug", "acme", true},
		{"single character", "a", true},
		{"digits", "tenant42", true},
		{"dashes and underscores", "acme-prod_eu", true},
		{"uuid", "9b2f6f0a-1f6e-4a3c-9a6d-1c2b3d4e5f60", true},
		{"max length", "a" + strings.Repeat("b", 55), true},
		{"empty", "", false},
		{"too long", "a" + strings.Repeat("b", 56), false},
		{"uppercase", "Acme", false},
		{"leading dash", "-acme", false},
		{"leading underscore", "_acme", false},
		{"whitespace", "acme corp", false},
		{"dots", "acme.prod", false},
		{"sql injection", "acme; drop database postgres", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidTenantID(tt.id); got != tt.want {
				t.Errorf("ValidTenantID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestStorageUnitName(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"slug", "acme", "tenant_acme", false},
		{"dashes become underscores", "acme-prod", "tenant_acme_prod", false},
		{"uuid", "9b2f6f0a-1f6e-4a3c-9a6d-1c2b3d4e5f60", "tenant_9b2f6f0a_1f6e_4a3c_9a6d_1c2b3d4e5f60", false},
		{"invalid id", "Acme Corp", "", true},
		{"empty id", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StorageUnitName(tt.id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("StorageUnitName(%q) succeeded, want error", tt.id)
				}
				return
			}
			if err != nil {
				t.Fatalf("StorageUnitName(%q) error = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("StorageUnitName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestRenderDSN(t *testing.T) {
	template := "postgres://silo@localhost:5432/tenant_{tenant_id}"

	t.Run("substitutes sanitized id", func(t *testing.T) {
		got, err := RenderDSN(template, "acme-prod")
		if err != nil {
			t.Fatalf("RenderDSN() error = %v", err)
		}
		want := "postgres://silo@localhost:5432/tenant_acme_prod"
		if got != want {
			t.Errorf("RenderDSN() = %q, want %q", got, want)
		}
	})

	t.Run("rejects template without placeholder", func(t *testing.T) {
		if _, err := RenderDSN("postgres://silo@localhost:5432/silo", "acme"); err == nil {
			t.Error("RenderDSN() accepted a template without the placeholder")
		}
	})

	t.Run("rejects invalid id", func(t *testing.T) {
		if _, err := RenderDSN(template, "Acme Corp"); err == nil {
			t.Error("RenderDSN() accepted an invalid tenant id")
		}
	})
}
