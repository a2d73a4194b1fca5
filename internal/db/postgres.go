package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Connection limits applied when the config leaves them unset.
const (
	pgDefaultMaxConns = 25
	pgDefaultMinConns = 5

	pgPingTimeout = 5 * time.Second
)

// OpenPostgres opens a PostgreSQL pool through the pgx stdlib driver and
// verifies the server is reachable before returning.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	if maxConns <= 0 {
		maxConns = pgDefaultMaxConns
	}
	if minConns <= 0 {
		minConns = pgDefaultMinConns
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	ctx, cancel := context.WithTimeout(context.Background(), pgPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
