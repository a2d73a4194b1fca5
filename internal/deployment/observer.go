package deployment

import (
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/appctx"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/events"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/health"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/logbridge"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/supervisor"
)

// The Manager is the production supervisor observer: everything the
// supervisor sees flows back through these methods into the store and onto
// the event bus. They run on supervisor goroutines with detached contexts so
// a dying request can never lose a final status write.
var _ supervisor.Observer = (*Manager)(nil)

// StatusChanged persists the supervisor's view of a process and announces it.
func (m *Manager) StatusChanged(deploymentID, status string, pid int, lastError string) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()

	if err := m.store.UpdateDeploymentStatus(ctx, deploymentID, status, pid, lastError); err != nil {
		m.logger.Error("Failed to persist deployment status",
			zap.String("deployment_id", deploymentID),
			zap.String("status", status),
			zap.Error(err))
	}

	m.publishData(ctx, events.DeploymentStatusChanged, map[string]any{
		"deployment_id": deploymentID,
		"status":        status,
		"pid":           pid,
		"last_error":    lastError,
	})
}

// ProcessEvent appends one lifecycle event to the audit trail.
func (m *Manager) ProcessEvent(deploymentID, eventType, message string, payload map[string]any) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()

	severity := logbridge.SeverityInfo
	switch eventType {
	case supervisor.EventProcessExited, supervisor.EventRestartScheduled:
		severity = logbridge.SeverityWarning
	}
	m.appendEvent(ctx, &models.RuntimeEvent{
		DeploymentID: deploymentID,
		EventType:    eventType,
		Severity:     severity,
		Message:      message,
		Payload:      payload,
	})
}

// RuntimeOutput appends one classified line of process output.
func (m *Manager) RuntimeOutput(ev logbridge.Event) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()

	m.appendEvent(ctx, &models.RuntimeEvent{
		DeploymentID: ev.DeploymentID,
		EventType:    ev.EventType,
		Severity:     ev.Severity,
		Message:      ev.Message,
		Payload:      ev.Payload,
		OccurredAt:   ev.OccurredAt,
	})
}

// HealthChanged announces a health report. Probes are frequent and drive
// status classification only; they are not part of the persisted audit
// trail.
func (m *Manager) HealthChanged(deploymentID string, report health.Report) {
	ctx, cancel := appctx.Detached(persistTimeout)
	defer cancel()

	m.publishData(ctx, events.BuildRuntimeHealthSubject(deploymentID), map[string]any{
		"deployment_id": deploymentID,
		"report":        report,
	})
}
