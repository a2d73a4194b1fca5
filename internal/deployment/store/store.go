// Package store persists deployments, runtime events, and runtime
// installations behind a driver-neutral interface.
package store

import (
	"context"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/runtime/install"
)

// ListQuery narrows ListDeployments. Zero value lists everything.
type ListQuery struct {
	WorkspaceID string
	// Name is a case-insensitive substring match on the deployment name.
	Name string
}

// Store is the persistence surface the deployment manager needs. Lookups
// return (nil, nil) when no matching row exists; updates against a missing
// row return an error naming the id.
type Store interface {
	install.Store

	CreateDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, id string) (*models.Deployment, error)
	ListDeployments(ctx context.Context, q ListQuery) ([]*models.Deployment, error)
	ListByDesiredState(ctx context.Context, desired string) ([]*models.Deployment, error)
	UpdateDeployment(ctx context.Context, d *models.Deployment) error

	// UpdateDeploymentStatus records the supervisor's view of the process.
	// pid and lastError overwrite the stored values, zero values included.
	UpdateDeploymentStatus(ctx context.Context, id, status string, pid int, lastError string) error
	SetDesiredState(ctx context.Context, id, desired string) error
	DeleteDeployment(ctx context.Context, id string) error

	AppendRuntimeEvent(ctx context.Context, ev *models.RuntimeEvent) error
	ListRuntimeEvents(ctx context.Context, deploymentID string, limit int) ([]*models.RuntimeEvent, error)
	// PruneRuntimeEvents deletes events older than the retention window and
	// reports how many rows were removed.
	PruneRuntimeEvents(ctx context.Context, retentionHours int) (int64, error)
}
