package store

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AdminStore runs server-level commands: creating and dropping per-tenant
// databases, and shelling out to pg_dump/pg_restore for backups. It reuses
// the directory pool's connection settings to reach the server.
type AdminStore struct {
	db            *pgxpool.Pool
	pgDumpPath    string
	pgRestorePath string
	logger        *zap.Logger
}

func NewAdminStore(db *pgxpool.Pool, pgDumpPath, pgRestorePath string, logger *zap.Logger) *AdminStore {
	if pgDumpPath == "" {
		pgDumpPath = "pg_dump"
	}
	if pgRestorePath == "" {
		pgRestorePath = "pg_restore"
	}
	return &AdminStore{
		db:            db,
		pgDumpPath:    pgDumpPath,
		pgRestorePath: pgRestorePath,
		logger:        logger,
	}
}

// CREATE/DROP DATABASE cannot take bind parameters, so names are quoted
// through pgx.Identifier. Callers pass names produced by StorageUnitName,
// which already restricts the alphabet.
func (s *AdminStore) CreateDatabase(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	return err
}

func (s *AdminStore) DropDatabase(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, "DROP DATABASE "+pgx.Identifier{name}.Sanitize())
	return err
}

func (s *AdminStore) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name,
	).Scan(&exists)
	return exists, err
}

func (s *AdminStore) TerminateSessions(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		 WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
	return err
}

func (s *AdminStore) Backup(ctx context.Context, name, path string) error {
	cmd := s.command(ctx, s.pgDumpPath, name, "--format=custom", "--file", path)
	s.logger.Info("running backup", zap.String("database", name), zap.String("path", path))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_dump %s: %w: %s", name, err, out)
	}
	return nil
}

func (s *AdminStore) Restore(ctx context.Context, name, path string) error {
	cmd := s.command(ctx, s.pgRestorePath, name, "--clean", "--if-exists", path)
	s.logger.Info("running restore", zap.String("database", name), zap.String("path", path))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_restore %s: %w: %s", name, err, out)
	}
	return nil
}

func (s *AdminStore) command(ctx context.Context, bin, dbname string, args ...string) *exec.Cmd {
	conn := s.db.Config().ConnConfig
	argv := []string{
		"--host", conn.Host,
		"--port", strconv.Itoa(int(conn.Port)),
		"--username", conn.User,
		"--dbname", dbname,
	}
	argv = append(argv, args...)
	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+conn.Password)
	return cmd
}
