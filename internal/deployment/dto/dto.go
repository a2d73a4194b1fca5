package dto

import (
	"time"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/models"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
)

type DeploymentDTO struct {
	ID             string                         `json:"id"`
	WorkspaceID    *string                        `json:"workspace_id,omitempty"`
	Name           string                         `json:"name"`
	RuntimeVersion *string                        `json:"runtime_version,omitempty"`
	WorkspacePath  string                         `json:"workspace_path"`
	ModelProvider  string                         `json:"model_provider"`
	ModelName      string                         `json:"model_name"`
	Status         string                         `json:"status"`
	DesiredState   string                         `json:"desired_state"`
	PID            int                            `json:"pid,omitempty"`
	LastError      *string                        `json:"last_error,omitempty"`
	GatewayHost    string                         `json:"gateway_host"`
	GatewayPort    int                            `json:"gateway_port,omitempty"`
	APIBaseURL     *string                        `json:"api_base_url,omitempty"`
	Env            map[string]string              `json:"env,omitempty"`
	Policy         policy.CapabilityPolicy        `json:"policy"`
	Capabilities   *policy.EffectiveCapabilitySet `json:"capabilities,omitempty"`
	CreatedAt      time.Time                      `json:"created_at"`
	UpdatedAt      time.Time                      `json:"updated_at"`
}

type RuntimeEventDTO struct {
	ID            int64          `json:"id"`
	DeploymentID  string         `json:"deployment_id"`
	EventType     string         `json:"event_type"`
	Severity      string         `json:"severity"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

type ListDeploymentsResponse struct {
	Deployments []DeploymentDTO `json:"deployments"`
	Total       int             `json:"total"`
}

type ListEventsResponse struct {
	Events []RuntimeEventDTO `json:"events"`
	Total  int               `json:"total"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

func FromDeployment(d *models.Deployment) DeploymentDTO {
	var workspaceID *string
	if d.WorkspaceID != "" {
		workspaceID = &d.WorkspaceID
	}
	var runtimeVersion *string
	if d.RuntimeVersion != "" {
		runtimeVersion = &d.RuntimeVersion
	}
	var lastError *string
	if d.LastError != "" {
		lastError = &d.LastError
	}
	var apiBaseURL *string
	if d.APIBaseURL != "" {
		apiBaseURL = &d.APIBaseURL
	}

	return DeploymentDTO{
		ID:             d.ID,
		WorkspaceID:    workspaceID,
		Name:           d.Name,
		RuntimeVersion: runtimeVersion,
		WorkspacePath:  d.WorkspacePath,
		ModelProvider:  d.ModelProvider,
		ModelName:      d.ModelName,
		Status:         d.Status,
		DesiredState:   d.DesiredState,
		PID:            d.PID,
		LastError:      lastError,
		GatewayHost:    d.GatewayHost,
		GatewayPort:    d.GatewayPort,
		APIBaseURL:     apiBaseURL,
		Env:            d.Env,
		Policy:         d.Policy,
		Capabilities:   d.Capabilities,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func FromDeployments(list []*models.Deployment) []DeploymentDTO {
	out := make([]DeploymentDTO, 0, len(list))
	for _, d := range list {
		out = append(out, FromDeployment(d))
	}
	return out
}

func FromRuntimeEvent(ev *models.RuntimeEvent) RuntimeEventDTO {
	var correlationID *string
	if ev.CorrelationID != "" {
		correlationID = &ev.CorrelationID
	}

	return RuntimeEventDTO{
		ID:            ev.ID,
		DeploymentID:  ev.DeploymentID,
		EventType:     ev.EventType,
		Severity:      ev.Severity,
		Message:       ev.Message,
		Payload:       ev.Payload,
		CorrelationID: correlationID,
		OccurredAt:    ev.OccurredAt,
		CreatedAt:     ev.CreatedAt,
	}
}

func FromRuntimeEvents(list []*models.RuntimeEvent) []RuntimeEventDTO {
	out := make([]RuntimeEventDTO, 0, len(list))
	for _, ev := range list {
		out = append(out, FromRuntimeEvent(ev))
	}
	return out
}
