package deployment

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
)

// hydrateConcurrency bounds how many deployments start in parallel on boot.
const hydrateConcurrency = 4

// Hydrate reconciles the store with reality after a daemon restart: stale
// live statuses are settled to stopped, audit events past the retention
// window are pruned, and every deployment whose desired state is running is
// started again. Per-deployment start failures are recorded as error status
// and never fail the boot.
func (m *Manager) Hydrate(ctx context.Context) error {
	if pruned, err := m.store.PruneRuntimeEvents(ctx, m.cfg.Runtime.EventRetentionHours); err != nil {
		m.logger.Warn("Failed to prune runtime events", zap.Error(err))
	} else if pruned > 0 {
		m.logger.Info("Pruned runtime events", zap.Int64("count", pruned))
	}

	all, err := m.store.ListDeployments(ctx, store.ListQuery{})
	if err != nil {
		return apperrors.Wrap(err, "failed to list deployments")
	}
	for _, d := range all {
		if !d.Live() {
			continue
		}
		// The previous daemon died while this process was live; nothing owns
		// it anymore.
		if err := m.store.UpdateDeploymentStatus(ctx, d.ID, models.StatusStopped, 0, d.LastError); err != nil {
			m.logger.Warn("Failed to settle stale status",
				zap.String("deployment_id", d.ID),
				zap.Error(err))
		}
	}

	wanted, err := m.store.ListByDesiredState(ctx, models.DesiredRunning)
	if err != nil {
		return apperrors.Wrap(err, "failed to list deployments to resume")
	}
	if len(wanted) == 0 {
		return nil
	}
	m.logger.Info("Resuming deployments", zap.Int("count", len(wanted)))

	var g errgroup.Group
	g.SetLimit(hydrateConcurrency)
	for _, d := range wanted {
		id := d.ID
		g.Go(func() error {
			if _, err := m.Start(ctx, id); err != nil {
				m.logger.Error("Failed to resume deployment",
					zap.String("deployment_id", id),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown terminates every live runtime process without touching desired
// states; deployments meant to be running come back on the next boot's
// hydration pass.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.sup.Shutdown(ctx)
}
