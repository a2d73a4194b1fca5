package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/db/dialect"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
)

// SaveInstallation upserts the row for a runtime version. The installer
// calls this repeatedly while an install progresses, so UPDATE is tried
// first and INSERT covers the initial write.
func (r *Repository) SaveInstallation(ctx context.Context, inst *install.Installation) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE installations
		SET source = ?,
			install_path = ?,
			binary_path = ?,
			checksum = ?,
			started_at = ?,
			completed_at = ?,
			is_active = ?,
			last_error = ?
		WHERE version = ?
	`), inst.Source, inst.InstallPath, inst.BinaryPath, inst.Checksum,
		inst.StartedAt, inst.CompletedAt, dialect.Bool(inst.IsActive),
		inst.LastError, inst.Version)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO installations (
			version,
			source,
			install_path,
			binary_path,
			checksum,
			started_at,
			completed_at,
			is_active,
			last_error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), inst.Version, inst.Source, inst.InstallPath, inst.BinaryPath,
		inst.Checksum, inst.StartedAt, inst.CompletedAt,
		dialect.Bool(inst.IsActive), inst.LastError)
	return err
}

// ActivateInstallation marks one version active and every other inactive in
// a single transaction.
func (r *Repository) ActivateInstallation(ctx context.Context, version string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE installations SET is_active = 0`); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE installations SET is_active = 1 WHERE version = ?`), version)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("installation not found: %s", version)
	}

	return tx.Commit()
}

// GetInstallation retrieves one version's row, (nil, nil) when absent.
func (r *Repository) GetInstallation(ctx context.Context, version string) (*install.Installation, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT version, source, install_path, binary_path, checksum, started_at, completed_at, is_active, last_error
		FROM installations WHERE version = ?
	`), version)

	inst, err := scanInstallation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// GetActiveInstallation retrieves the currently active installation,
// (nil, nil) when none is active.
func (r *Repository) GetActiveInstallation(ctx context.Context) (*install.Installation, error) {
	row := r.ro.QueryRowContext(ctx, `
		SELECT version, source, install_path, binary_path, checksum, started_at, completed_at, is_active, last_error
		FROM installations WHERE is_active = 1
	`)

	inst, err := scanInstallation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inst, err
}

// ListInstallations returns every known installation, newest first, with
// duration_ms computed for completed ones.
func (r *Repository) ListInstallations(ctx context.Context) ([]*install.Installation, error) {
	durationExpr := r.dial().DurationMs("completed_at", "started_at")
	rows, err := r.ro.QueryContext(ctx, `
		SELECT version, source, install_path, binary_path, checksum, started_at, completed_at, is_active, last_error,
			CASE WHEN completed_at IS NOT NULL THEN `+durationExpr+` END AS duration_ms
		FROM installations
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*install.Installation
	for rows.Next() {
		inst := &install.Installation{}
		var completedAt sql.NullTime
		var isActive int
		var durationMs sql.NullFloat64
		if err := rows.Scan(
			&inst.Version,
			&inst.Source,
			&inst.InstallPath,
			&inst.BinaryPath,
			&inst.Checksum,
			&inst.StartedAt,
			&completedAt,
			&isActive,
			&inst.LastError,
			&durationMs,
		); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t := completedAt.Time
			inst.CompletedAt = &t
		}
		inst.IsActive = isActive != 0
		if durationMs.Valid {
			ms := int64(durationMs.Float64)
			inst.DurationMs = &ms
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func scanInstallation(row rowScanner) (*install.Installation, error) {
	inst := &install.Installation{}
	var completedAt sql.NullTime
	var isActive int

	err := row.Scan(
		&inst.Version,
		&inst.Source,
		&inst.InstallPath,
		&inst.BinaryPath,
		&inst.Checksum,
		&inst.StartedAt,
		&completedAt,
		&isActive,
		&inst.LastError,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}
	inst.IsActive = isActive != 0
	return inst, nil
}
