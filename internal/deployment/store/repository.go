package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db/dialect"
)

// Repository is the sqlx implementation of Store. It works against SQLite
// and PostgreSQL; the differences are isolated in internal/db/dialect.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates the repository on top of a connection pool and initializes the
// schema. The pool stays owned by the caller.
func New(pool *db.Pool) (*Repository, error) {
	r := &Repository{db: pool.Writer(), ro: pool.Reader()}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *Repository) dial() dialect.Dialect {
	return dialect.For(r.db.DriverName())
}

// initSchema creates the tables if they don't exist and applies idempotent
// column migrations.
func (r *Repository) initSchema() error {
	if err := r.initDeploymentSchema(); err != nil {
		return err
	}
	if err := r.initEventSchema(); err != nil {
		return err
	}
	if err := r.initInstallationSchema(); err != nil {
		return err
	}
	return r.runMigrations()
}

func (r *Repository) initDeploymentSchema() error {
	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			runtime_version TEXT NOT NULL DEFAULT '',
			workspace_path TEXT NOT NULL,
			model_provider TEXT NOT NULL DEFAULT '',
			model_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'created',
			desired_state TEXT NOT NULL DEFAULT 'stopped',
			pid INTEGER NOT NULL DEFAULT 0,
			gateway_host TEXT NOT NULL DEFAULT '',
			gateway_port INTEGER NOT NULL DEFAULT 0,
			api_base_url TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			env TEXT NOT NULL DEFAULT '{}',
			policy TEXT NOT NULL DEFAULT '{}',
			capabilities TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return err
	}
	if _, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_deployments_desired_state ON deployments(desired_state)`); err != nil {
		return err
	}
	_, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_deployments_workspace_id ON deployments(workspace_id)`)
	return err
}

func (r *Repository) initEventSchema() error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.dial().Postgres() {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}
	if _, err := r.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS runtime_events (
			id %s,
			deployment_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'info',
			message TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`, idColumn)); err != nil {
		return err
	}
	_, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runtime_events_deployment ON runtime_events(deployment_id, created_at)`)
	return err
}

func (r *Repository) initInstallationSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS installations (
			version TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			install_path TEXT NOT NULL DEFAULT '',
			binary_path TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			is_active INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// runMigrations applies idempotent ALTER TABLE migrations for schema
// evolution (ignore error when the column already exists).
func (r *Repository) runMigrations() error {
	_, _ = r.db.Exec(`ALTER TABLE runtime_events ADD COLUMN correlation_id TEXT NOT NULL DEFAULT ''`)
	_, _ = r.db.Exec(`ALTER TABLE deployments ADD COLUMN capabilities TEXT NOT NULL DEFAULT ''`)
	return nil
}
