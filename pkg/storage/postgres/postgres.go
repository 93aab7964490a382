// Package postgres implements pkg/storage.Store over a PostgreSQL database
// via sqlx + lib/pq, following the teacher's repository-per-entity layout.
package postgres

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/quillforge/quillforge/pkg/storage"
)

// Store implements storage.Store. It is returned as a concrete type (rather
// than the storage.Store interface) so cmd/apiserver, cmd/worker, and
// cmd/migrate can reach the underlying *sqlx.DB via DB() to wire the
// Postgres-backed queue and the migration driver, which sit outside the
// repository abstraction.
type Store struct {
	db              *sqlx.DB
	documents       *documentRepository
	transformations *transformationRepository
	presets         *presetRepository
	users           *userRepository
	workspaces      *workspaceRepository
	sessions        *sessionRepository
}

// Config holds the PostgreSQL connection configuration.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// NewStore connects to dsn and returns a Store.
func NewStore(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return &Store{
		db:              db,
		documents:       &documentRepository{db: db},
		transformations: &transformationRepository{db: db},
		presets:         &presetRepository{db: db},
		users:           &userRepository{db: db},
		workspaces:      &workspaceRepository{db: db},
		sessions:        &sessionRepository{db: db},
	}, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func RunMigrations(db *sqlx.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Documents() storage.DocumentRepository             { return s.documents }
func (s *Store) Transformations() storage.TransformationRepository { return s.transformations }
func (s *Store) Presets() storage.PresetRepository                 { return s.presets }
func (s *Store) Users() storage.UserRepository                     { return s.users }
func (s *Store) Workspaces() storage.WorkspaceRepository           { return s.workspaces }
func (s *Store) Sessions() storage.SessionRepository               { return s.sessions }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sqlx.DB for callers that need to run migrations
// or health checks outside the repository abstraction.
func (s *Store) DB() *sqlx.DB { return s.db }

var _ storage.Store = (*Store)(nil)
