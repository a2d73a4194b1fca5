package dialect_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db/dialect"
)

func TestFragmentsPerDriver(t *testing.T) {
	lite := dialect.For(dialect.SQLite3)
	pg := dialect.For(dialect.PGX)

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"sqlite like", lite.Like(), "LIKE"},
		{"postgres like", pg.Like(), "ILIKE"},
		{"sqlite now", lite.Now(), "datetime('now')"},
		{"postgres now", pg.Now(), "NOW()"},
		{"sqlite retention", lite.NowMinusHours("?"), "datetime('now', '-' || ? || ' hours')"},
		{"postgres retention", pg.NowMinusHours("?"), "NOW() - (? || ' hours')::interval"},
		{"sqlite duration", lite.DurationMs("completed_at", "started_at"), "(julianday(completed_at) - julianday(started_at)) * 86400000"},
		{"postgres duration", pg.DurationMs("completed_at", "started_at"), "EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}

	if lite.Postgres() {
		t.Error("sqlite dialect claims to be postgres")
	}
	if !pg.Postgres() {
		t.Error("pgx dialect does not claim to be postgres")
	}
}

func TestBool(t *testing.T) {
	if dialect.Bool(true) != 1 || dialect.Bool(false) != 0 {
		t.Errorf("got %d and %d", dialect.Bool(true), dialect.Bool(false))
	}
}

func TestInsertReturningIDSQLite(t *testing.T) {
	raw, err := db.OpenSQLite(filepath.Join(t.TempDir(), "dialect.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := sqlx.NewDb(raw, dialect.SQLite3)
	t.Cleanup(func() { _ = conn.Close() })

	if _, err := conn.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	d := dialect.For(conn.DriverName())
	for i, body := range []string{"first", "second"} {
		id, err := d.InsertReturningID(context.Background(), conn, `INSERT INTO notes (body) VALUES (?)`, body)
		if err != nil {
			t.Fatalf("insert %q: %v", body, err)
		}
		if want := int64(i + 1); id != want {
			t.Errorf("insert %q: id = %d, want %d", body, id, want)
		}
	}
}
