package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/silohq/silo/internal/domain"
)

// TenantStore persists tenant records. Connection descriptors stored in the
// config map pass through the cipher on the way in and out.
type TenantStore struct {
	db     *pgxpool.Pool
	cipher domain.FieldCipher
}

func NewTenantStore(db *pgxpool.Pool, cipher domain.FieldCipher) *TenantStore {
	return &TenantStore{db: db, cipher: cipher}
}

func (s *TenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	config, err := s.sealConfig(t.Config)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO tenants (id, name, active, config, api_key_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		t.ID, t.Name, t.Active, config, t.APIKeyHash,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *TenantStore) FindByID(ctx context.Context, id string) (*domain.Tenant, error) {
	return s.findOne(ctx,
		`SELECT id, name, active, config, api_key_hash, created_at, updated_at
		 FROM tenants WHERE id = $1`, id)
}

func (s *TenantStore) FindByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	return s.findOne(ctx,
		`SELECT id, name, active, config, api_key_hash, created_at, updated_at
		 FROM tenants WHERE api_key_hash = $1`, apiKeyHash)
}

func (s *TenantStore) findOne(ctx context.Context, query string, arg any) (*domain.Tenant, error) {
	t := &domain.Tenant{}
	err := s.db.QueryRow(ctx, query, arg).
		Scan(&t.ID, &t.Name, &t.Active, &t.Config, &t.APIKeyHash, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if t.Config, err = s.openConfig(t.Config); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}
	return t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, active, config, api_key_hash, created_at, updated_at
		 FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.Config, &t.APIKeyHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if t.Config, err = s.openConfig(t.Config); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateConfig merges partial into the stored config map, overwriting
// existing keys and leaving the rest untouched.
func (s *TenantStore) UpdateConfig(ctx context.Context, id string, partial map[string]string) error {
	config, err := s.sealConfig(partial)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET config = config || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, config)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TenantStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tenants SET active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *TenantStore) sealConfig(config map[string]string) (map[string]string, error) {
	dsn, ok := config[domain.ConfigKeyDSN]
	if !ok {
		return config, nil
	}
	sealed, err := s.cipher.Encrypt(dsn)
	if err != nil {
		return nil, fmt.Errorf("seal config: %w", err)
	}
	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}
	out[domain.ConfigKeyDSN] = sealed
	return out, nil
}

func (s *TenantStore) openConfig(config map[string]string) (map[string]string, error) {
	dsn, ok := config[domain.ConfigKeyDSN]
	if !ok {
		return config, nil
	}
	plain, err := s.cipher.Decrypt(dsn)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	config[domain.ConfigKeyDSN] = plain
	return config, nil
}
