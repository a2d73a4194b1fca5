package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/dto"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
)

// wsError converts a service error into an error frame, mirroring the HTTP
// status mapping.
func (h *DeploymentHandlers) wsError(msg *ws.Message, err error) (*ws.Message, error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code := ws.ErrorCodeInternalError
		switch appErr.HTTPStatus {
		case http.StatusNotFound:
			code = ws.ErrorCodeNotFound
		case http.StatusConflict:
			code = ws.ErrorCodeConflict
		case http.StatusBadRequest:
			code = ws.ErrorCodeValidation
		case http.StatusUnauthorized:
			code = ws.ErrorCodeUnauthorized
		}
		if code == ws.ErrorCodeInternalError {
			h.logger.Error("ws request failed", zap.String("action", msg.Action), zap.Error(err))
		}
		return ws.NewError(msg.ID, msg.Action, code, appErr.Message, nil)
	}

	h.logger.Error("ws request failed", zap.String("action", msg.Action), zap.Error(err))
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "internal server error", nil)
}

type wsListDeploymentsRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	Query       string `json:"q,omitempty"`
}

func (h *DeploymentHandlers) wsListDeployments(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListDeploymentsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	list, err := h.manager.List(ctx, store.ListQuery{WorkspaceID: req.WorkspaceID, Name: req.Query})
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.ListDeploymentsResponse{
		Deployments: dto.FromDeployments(list),
		Total:       len(list),
	})
}

type wsDeploymentIDRequest struct {
	ID string `json:"id"`
}

func (h *DeploymentHandlers) wsGetDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsDeploymentIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	d, err := h.manager.Get(ctx, req.ID)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

type wsCreateDeploymentRequest struct {
	Name           string                   `json:"name"`
	WorkspaceID    string                   `json:"workspace_id,omitempty"`
	WorkspacePath  string                   `json:"workspace_path"`
	RuntimeVersion string                   `json:"runtime_version,omitempty"`
	ModelProvider  string                   `json:"model_provider,omitempty"`
	ModelName      string                   `json:"model_name,omitempty"`
	GatewayPort    int                      `json:"gateway_port,omitempty"`
	Env            map[string]string        `json:"env,omitempty"`
	Policy         *policy.CapabilityPolicy `json:"policy,omitempty"`
	DesiredState   string                   `json:"desired_state,omitempty"`
}

func (h *DeploymentHandlers) wsCreateDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCreateDeploymentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.Name == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "name is required", nil)
	}
	if req.WorkspacePath == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "workspace_path is required", nil)
	}

	d, err := h.manager.Create(ctx, deployment.CreateRequest{
		Name:           req.Name,
		WorkspaceID:    req.WorkspaceID,
		WorkspacePath:  req.WorkspacePath,
		RuntimeVersion: req.RuntimeVersion,
		ModelProvider:  req.ModelProvider,
		ModelName:      req.ModelName,
		GatewayPort:    req.GatewayPort,
		Env:            req.Env,
		Policy:         req.Policy,
		DesiredState:   req.DesiredState,
	})
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

type wsUpdateDeploymentRequest struct {
	ID            string                   `json:"id"`
	Name          *string                  `json:"name,omitempty"`
	ModelProvider *string                  `json:"model_provider,omitempty"`
	ModelName     *string                  `json:"model_name,omitempty"`
	Env           map[string]string        `json:"env,omitempty"`
	Policy        *policy.CapabilityPolicy `json:"policy,omitempty"`
}

func (h *DeploymentHandlers) wsUpdateDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsUpdateDeploymentRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	d, err := h.manager.Update(ctx, req.ID, deployment.UpdateRequest{
		Name:          req.Name,
		ModelProvider: req.ModelProvider,
		ModelName:     req.ModelName,
		Env:           req.Env,
		Policy:        req.Policy,
	})
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) wsDeleteDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsDeploymentIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	if err := h.manager.Delete(ctx, req.ID); err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.SuccessResponse{Success: true})
}

func (h *DeploymentHandlers) wsStartDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsDeploymentIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	d, err := h.manager.Start(ctx, req.ID)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) wsStopDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsDeploymentIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	d, err := h.manager.Stop(ctx, req.ID)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) wsRestartDeployment(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsDeploymentIDRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}

	d, err := h.manager.Restart(ctx, req.ID)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.FromDeployment(d))
}

type wsListEventsRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

func (h *DeploymentHandlers) wsListEvents(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsListEventsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}
	limit := req.Limit
	if limit <= 0 || limit > maxEventLimit {
		limit = defaultEventLimit
	}

	evs, err := h.manager.Events(ctx, req.ID, limit)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, dto.ListEventsResponse{
		Events: dto.FromRuntimeEvents(evs),
		Total:  len(evs),
	})
}

type wsSendMessageRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (h *DeploymentHandlers) wsSendMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSendMessageRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.ID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "id is required", nil)
	}
	if req.Message == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "message is required", nil)
	}

	res, err := h.manager.SendMessage(ctx, req.ID, req.Message)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, res)
}

func (h *DeploymentHandlers) wsRuntimeStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	status, err := h.manager.RuntimeStatus(ctx)
	if err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, status)
}

type wsInstallRequest struct {
	Version string `json:"version,omitempty"`
}

func (h *DeploymentHandlers) wsTriggerInstall(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsInstallRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if err := h.manager.TriggerInstall(req.Version); err != nil {
		return h.wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{"status": "installing"})
}
