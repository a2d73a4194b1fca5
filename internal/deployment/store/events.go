package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
)

// Event listings are capped so a chatty runtime cannot make the API page
// through its entire history.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// AppendRuntimeEvent persists one runtime event and fills in its id.
func (r *Repository) AppendRuntimeEvent(ctx context.Context, ev *models.RuntimeEvent) error {
	now := time.Now().UTC()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	ev.CreatedAt = now

	payloadJSON := ""
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	id, err := r.dial().InsertReturningID(ctx, r.db, `
		INSERT INTO runtime_events (
			deployment_id,
			event_type,
			severity,
			message,
			payload,
			correlation_id,
			occurred_at,
			created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.DeploymentID, ev.EventType, ev.Severity, ev.Message, payloadJSON,
		ev.CorrelationID, ev.OccurredAt, ev.CreatedAt)
	if err != nil {
		return err
	}
	ev.ID = id
	return nil
}

// ListRuntimeEvents returns the newest events for a deployment, most recent
// first. limit <= 0 falls back to the default page size.
func (r *Repository) ListRuntimeEvents(ctx context.Context, deploymentID string, limit int) ([]*models.RuntimeEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT id, deployment_id, event_type, severity, message, payload, correlation_id, occurred_at, created_at
		FROM runtime_events
		WHERE deployment_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), deploymentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.RuntimeEvent
	for rows.Next() {
		ev := &models.RuntimeEvent{}
		var payloadJSON string
		if err := rows.Scan(
			&ev.ID,
			&ev.DeploymentID,
			&ev.EventType,
			&ev.Severity,
			&ev.Message,
			&payloadJSON,
			&ev.CorrelationID,
			&ev.OccurredAt,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		if payloadJSON != "" {
			if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
				return nil, fmt.Errorf("event %d has invalid payload: %w", ev.ID, err)
			}
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// PruneRuntimeEvents deletes events older than retentionHours and returns
// the number of rows removed.
func (r *Repository) PruneRuntimeEvents(ctx context.Context, retentionHours int) (int64, error) {
	if retentionHours <= 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM runtime_events
		WHERE created_at < `+r.dial().NowMinusHours("?")+`
	`), retentionHours)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
