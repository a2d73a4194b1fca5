// Package dialect papers over the SQL differences between the two
// supported drivers, SQLite and PostgreSQL.
package dialect

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Driver names as registered with database/sql.
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// Dialect renders driver-specific SQL fragments. The zero value renders
// SQLite fragments.
type Dialect struct {
	postgres bool
}

// For returns the Dialect for a database/sql driver name.
func For(driver string) Dialect {
	return Dialect{postgres: driver == PGX}
}

// Postgres reports whether this dialect targets PostgreSQL.
func (d Dialect) Postgres() bool {
	return d.postgres
}

// Like returns the case-insensitive pattern operator. SQLite's LIKE already
// ignores ASCII case; PostgreSQL needs ILIKE.
func (d Dialect) Like() string {
	if d.postgres {
		return "ILIKE"
	}
	return "LIKE"
}

// Now returns the current-timestamp expression.
func (d Dialect) Now() string {
	if d.postgres {
		return "NOW()"
	}
	return "datetime('now')"
}

// NowMinusHours returns an expression for the current time minus a number
// of hours, where hoursExpr is a column or placeholder holding the hours.
func (d Dialect) NowMinusHours(hoursExpr string) string {
	if d.postgres {
		return fmt.Sprintf("NOW() - (%s || ' hours')::interval", hoursExpr)
	}
	return fmt.Sprintf("datetime('now', '-' || %s || ' hours')", hoursExpr)
}

// DurationMs returns an expression for end minus start in milliseconds.
func (d Dialect) DurationMs(end, start string) string {
	if d.postgres {
		return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s)) * 1000", end, start)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s)) * 86400000", end, start)
}

// InsertReturningID runs an INSERT and reports the generated id, via
// RETURNING on PostgreSQL and LastInsertId on SQLite.
func (d Dialect) InsertReturningID(ctx context.Context, db *sqlx.DB, query string, args ...any) (int64, error) {
	if d.postgres {
		var id int64
		if err := db.QueryRowContext(ctx, db.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("insert returning id: %w", err)
		}
		return id, nil
	}

	res, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Bool converts a Go bool to its stored integer form. Both schemas keep
// boolean columns as INTEGER so rows scan identically across drivers.
func Bool(v bool) int {
	if v {
		return 1
	}
	return 0
}
