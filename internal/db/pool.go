package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Pool separates read and write connections for the deployment store.
//
// With SQLite in WAL mode the writer is pinned to a single connection so
// deployment and installation updates never race into SQLITE_BUSY, while the
// reader side serves status and event queries concurrently from WAL
// snapshots. With PostgreSQL both sides share one *sqlx.DB because pgx pools
// internally.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool wraps writer and reader connections. The two may be the same
// *sqlx.DB.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the pool used for INSERT, UPDATE, DELETE, and transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the pool used for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Ping verifies both sides of the pool are reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.writer.PingContext(ctx); err != nil {
		return err
	}
	if p.reader != p.writer {
		return p.reader.PingContext(ctx)
	}
	return nil
}

// Close closes both pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// Avoid double-close when both sides share one *sqlx.DB (Postgres).
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
