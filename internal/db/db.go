// Package db opens the deployment store's database connections.
//
// SQLite is the default backend (single writer plus a read-only pool over
// WAL snapshots); PostgreSQL is selected when database.driver is pgx.
package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/config"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db/dialect"
)

// Open opens the configured database and returns a read/write Pool.
func Open(cfg *config.DatabaseConfig) (*Pool, error) {
	switch cfg.Driver {
	case dialect.SQLite3:
		writerRaw, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		readerRaw, err := OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writerRaw.Close()
			return nil, err
		}
		writer := sqlx.NewDb(writerRaw, dialect.SQLite3)
		reader := sqlx.NewDb(readerRaw, dialect.SQLite3)
		return NewPool(writer, reader), nil

	case dialect.PGX:
		raw, err := OpenPostgres(cfg.DSN(), cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, err
		}
		// pgx pools internally; writer and reader share one *sqlx.DB.
		shared := sqlx.NewDb(raw, dialect.PGX)
		return NewPool(shared, shared), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
