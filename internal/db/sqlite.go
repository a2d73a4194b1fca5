package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteBusyTimeout = 5 * time.Second

	// sqliteReaderConns bounds the read-only pool. WAL mode lets these run
	// alongside the single writer without blocking it.
	sqliteReaderConns = 4
)

// OpenSQLite opens the SQLite database for writes. The returned handle is
// pinned to one connection so concurrent deployment updates serialize instead
// of failing with SQLITE_BUSY.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	path, err := prepareSQLitePath(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenSQLiteReader opens a read-only pool over the same database file. The
// file must already exist; the writer creates it.
func OpenSQLiteReader(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(resolveSQLitePath(dbPath), true))
	if err != nil {
		return nil, fmt.Errorf("failed to open read-only database: %w", err)
	}
	db.SetMaxOpenConns(sqliteReaderConns)
	db.SetMaxIdleConns(sqliteReaderConns)
	return db, nil
}

// sqliteDSN renders the connection string. foreign_keys keeps installation
// rows consistent with deployments, busy_timeout absorbs transient lock
// contention, WAL gives readers snapshots while the writer proceeds.
// journal_mode and synchronous are database-level settings owned by the
// writer, so the read-only DSN leaves them out.
func sqliteDSN(path string, readOnly bool) string {
	timeoutMs := int(sqliteBusyTimeout / time.Millisecond)
	if readOnly {
		return fmt.Sprintf("file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared", path, timeoutMs)
	}
	return fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		path, timeoutMs)
}

// prepareSQLitePath resolves dbPath and makes sure its directory and file
// exist before the first open.
func prepareSQLitePath(dbPath string) (string, error) {
	path := resolveSQLitePath(dbPath)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to prepare database path: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create database file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func resolveSQLitePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
