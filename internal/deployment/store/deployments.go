package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
)

const deploymentColumns = `id, workspace_id, name, runtime_version, workspace_path,
	model_provider, model_name, status, desired_state, pid, gateway_host, gateway_port,
	api_base_url, last_error, env, policy, capabilities, created_at, updated_at`

// CreateDeployment inserts a new deployment row, assigning an id and
// timestamps when missing.
func (r *Repository) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = models.StatusCreated
	}
	if d.DesiredState == "" {
		d.DesiredState = models.DesiredStopped
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	envJSON, policyJSON, capsJSON, err := encodeDeploymentJSON(d)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO deployments (
			id,
			workspace_id,
			name,
			runtime_version,
			workspace_path,
			model_provider,
			model_name,
			status,
			desired_state,
			pid,
			gateway_host,
			gateway_port,
			api_base_url,
			last_error,
			env,
			policy,
			capabilities,
			created_at,
			updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.ID, d.WorkspaceID, d.Name, d.RuntimeVersion, d.WorkspacePath,
		d.ModelProvider, d.ModelName, d.Status, d.DesiredState, d.PID,
		d.GatewayHost, d.GatewayPort, d.APIBaseURL, d.LastError,
		envJSON, policyJSON, capsJSON, d.CreatedAt, d.UpdatedAt)

	return err
}

// GetDeployment retrieves a deployment by id, returning (nil, nil) when no
// row matches.
func (r *Repository) GetDeployment(ctx context.Context, id string) (*models.Deployment, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT `+deploymentColumns+`
		FROM deployments WHERE id = ?
	`), id)

	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListDeployments returns deployments matching the query, newest first.
func (r *Repository) ListDeployments(ctx context.Context, q ListQuery) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	var conds []string
	var args []any
	if q.WorkspaceID != "" {
		conds = append(conds, "workspace_id = ?")
		args = append(args, q.WorkspaceID)
	}
	if q.Name != "" {
		conds = append(conds, "name "+r.dial().Like()+" ?")
		args = append(args, "%"+q.Name+"%")
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// ListByDesiredState returns deployments with the given desired state,
// oldest first so hydration starts them in creation order.
func (r *Repository) ListByDesiredState(ctx context.Context, desired string) ([]*models.Deployment, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT `+deploymentColumns+`
		FROM deployments WHERE desired_state = ?
		ORDER BY created_at ASC
	`), desired)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// UpdateDeployment rewrites every mutable column of an existing deployment.
func (r *Repository) UpdateDeployment(ctx context.Context, d *models.Deployment) error {
	d.UpdatedAt = time.Now().UTC()

	envJSON, policyJSON, capsJSON, err := encodeDeploymentJSON(d)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE deployments
		SET name = ?,
			runtime_version = ?,
			workspace_path = ?,
			model_provider = ?,
			model_name = ?,
			status = ?,
			desired_state = ?,
			pid = ?,
			gateway_host = ?,
			gateway_port = ?,
			api_base_url = ?,
			last_error = ?,
			env = ?,
			policy = ?,
			capabilities = ?,
			updated_at = ?
		WHERE id = ?
	`), d.Name, d.RuntimeVersion, d.WorkspacePath, d.ModelProvider, d.ModelName,
		d.Status, d.DesiredState, d.PID, d.GatewayHost, d.GatewayPort,
		d.APIBaseURL, d.LastError, envJSON, policyJSON, capsJSON, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", d.ID)
	}
	return nil
}

// UpdateDeploymentStatus records the supervisor's observed status. The
// timestamp is taken database-side so rapid transitions keep their order
// even when callers race.
func (r *Repository) UpdateDeploymentStatus(ctx context.Context, id, status string, pid int, lastError string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE deployments
		SET status = ?,
			pid = ?,
			last_error = ?,
			updated_at = `+r.dial().Now()+`
		WHERE id = ?
	`), status, pid, lastError, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}
	return nil
}

// SetDesiredState records operator intent (running or stopped).
func (r *Repository) SetDesiredState(ctx context.Context, id, desired string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE deployments
		SET desired_state = ?,
			updated_at = `+r.dial().Now()+`
		WHERE id = ?
	`), desired, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}
	return nil
}

// DeleteDeployment removes the deployment and its runtime events.
func (r *Repository) DeleteDeployment(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM runtime_events WHERE deployment_id = ?`), id); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM deployments WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	d := &models.Deployment{}
	var envJSON, policyJSON, capsJSON string

	err := row.Scan(
		&d.ID,
		&d.WorkspaceID,
		&d.Name,
		&d.RuntimeVersion,
		&d.WorkspacePath,
		&d.ModelProvider,
		&d.ModelName,
		&d.Status,
		&d.DesiredState,
		&d.PID,
		&d.GatewayHost,
		&d.GatewayPort,
		&d.APIBaseURL,
		&d.LastError,
		&envJSON,
		&policyJSON,
		&capsJSON,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if envJSON != "" && envJSON != "{}" {
		if err := json.Unmarshal([]byte(envJSON), &d.Env); err != nil {
			return nil, fmt.Errorf("deployment %s has invalid env: %w", d.ID, err)
		}
	}
	if policyJSON != "" && policyJSON != "{}" {
		if err := json.Unmarshal([]byte(policyJSON), &d.Policy); err != nil {
			return nil, fmt.Errorf("deployment %s has invalid policy: %w", d.ID, err)
		}
	}
	if capsJSON != "" {
		caps := &policy.EffectiveCapabilitySet{}
		if err := json.Unmarshal([]byte(capsJSON), caps); err != nil {
			return nil, fmt.Errorf("deployment %s has invalid capabilities: %w", d.ID, err)
		}
		d.Capabilities = caps
	}
	return d, nil
}

func encodeDeploymentJSON(d *models.Deployment) (env, pol, caps string, err error) {
	envBytes, err := json.Marshal(d.Env)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode env: %w", err)
	}
	polBytes, err := json.Marshal(d.Policy)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to encode policy: %w", err)
	}
	caps = ""
	if d.Capabilities != nil {
		capsBytes, err := json.Marshal(d.Capabilities)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to encode capabilities: %w", err)
		}
		caps = string(capsBytes)
	}
	if d.Env == nil {
		env = "{}"
	} else {
		env = string(envBytes)
	}
	return env, string(polBytes), caps, nil
}
