// Package models defines the deployment domain types.
package models

import (
	"time"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
)

// Observed deployment statuses. Status is derived from what the supervisor
// sees; DesiredState is the operator's intent and decides whether a crash
// triggers a restart.
const (
	StatusCreated  = "created"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// Desired states.
const (
	DesiredRunning = "running"
	DesiredStopped = "stopped"
)

// Deployment is one managed jarvis runtime bound to a workspace directory.
type Deployment struct {
	ID             string `db:"id" json:"id"`
	WorkspaceID    string `db:"workspace_id" json:"workspace_id,omitempty"`
	Name           string `db:"name" json:"name"`
	RuntimeVersion string `db:"runtime_version" json:"runtime_version"`
	WorkspacePath  string `db:"workspace_path" json:"workspace_path"`
	ModelProvider  string `db:"model_provider" json:"model_provider"`
	ModelName      string `db:"model_name" json:"model_name"`

	Status       string `db:"status" json:"status"`
	DesiredState string `db:"desired_state" json:"desired_state"`
	PID          int    `db:"pid" json:"pid,omitempty"`
	LastError    string `db:"last_error" json:"last_error,omitempty"`

	GatewayHost string `db:"gateway_host" json:"gateway_host"`
	GatewayPort int    `db:"gateway_port" json:"gateway_port"`
	APIBaseURL  string `db:"api_base_url" json:"api_base_url"`

	// Env is passed to the runtime process on top of the parent environment.
	Env map[string]string `json:"env,omitempty"`

	Policy policy.CapabilityPolicy `json:"policy"`

	// Capabilities is the resolved view of Policy against the global
	// registry, recomputed whenever either side changes.
	Capabilities *policy.EffectiveCapabilitySet `json:"capabilities,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Live reports whether the deployment has (or is acquiring) a runtime
// process according to its observed status.
func (d *Deployment) Live() bool {
	switch d.Status {
	case StatusStarting, StatusRunning, StatusStopping:
		return true
	}
	return false
}

// RuntimeEvent is one row of the append-only per-deployment audit trail:
// classified process output, lifecycle transitions, and stream activity.
type RuntimeEvent struct {
	ID            int64          `db:"id" json:"id"`
	DeploymentID  string         `db:"deployment_id" json:"deployment_id"`
	EventType     string         `db:"event_type" json:"event_type"`
	Severity      string         `db:"severity" json:"severity"`
	Message       string         `db:"message" json:"message"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `db:"correlation_id" json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `db:"occurred_at" json:"occurred_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
