package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/dto"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/deployment/store"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/policy"
	ws "github.com/Gabriel0110/openwork-jarvis-sub000/pkg/websocket"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// DeploymentHandlers exposes the Manager over HTTP and the websocket
// dispatcher.
type DeploymentHandlers struct {
	manager *deployment.Manager
	logger  *logger.Logger
}

func NewDeploymentHandlers(manager *deployment.Manager, log *logger.Logger) *DeploymentHandlers {
	return &DeploymentHandlers{
		manager: manager,
		logger:  log.WithFields(zap.String("component", "deployment-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, manager *deployment.Manager, log *logger.Logger) {
	h := NewDeploymentHandlers(manager, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *DeploymentHandlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/health", h.httpHealth)

	api.POST("/deployments", h.httpCreateDeployment)
	api.GET("/deployments", h.httpListDeployments)
	api.GET("/deployments/:id", h.httpGetDeployment)
	api.PATCH("/deployments/:id", h.httpUpdateDeployment)
	api.DELETE("/deployments/:id", h.httpDeleteDeployment)
	api.POST("/deployments/:id/start", h.httpStartDeployment)
	api.POST("/deployments/:id/stop", h.httpStopDeployment)
	api.POST("/deployments/:id/restart", h.httpRestartDeployment)
	api.GET("/deployments/:id/events", h.httpListEvents)
	api.GET("/deployments/:id/capabilities", h.httpGetCapabilities)
	api.POST("/deployments/:id/message", h.httpSendMessage)

	api.GET("/runtime/status", h.httpRuntimeStatus)
	api.POST("/runtime/install", h.httpTriggerInstall)
	api.POST("/runtime/verify", h.httpVerifyRuntime)
	api.GET("/runtime/activity", h.httpInstallActivity)
}

func (h *DeploymentHandlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionDeploymentList, h.wsListDeployments)
	dispatcher.RegisterFunc(ws.ActionDeploymentGet, h.wsGetDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentCreate, h.wsCreateDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentUpdate, h.wsUpdateDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentDelete, h.wsDeleteDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentStart, h.wsStartDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentStop, h.wsStopDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentRestart, h.wsRestartDeployment)
	dispatcher.RegisterFunc(ws.ActionDeploymentEvents, h.wsListEvents)
	dispatcher.RegisterFunc(ws.ActionDeploymentMessage, h.wsSendMessage)
	dispatcher.RegisterFunc(ws.ActionRuntimeStatus, h.wsRuntimeStatus)
	dispatcher.RegisterFunc(ws.ActionRuntimeInstall, h.wsTriggerInstall)
}

// HTTP handlers

func (h *DeploymentHandlers) httpHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type httpCreateDeploymentRequest struct {
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

func (h *DeploymentHandlers) httpCreateDeployment(c *gin.Context) {
	var body httpCreateDeploymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if body.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if body.WorkspacePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workspace_path is required"})
		return
	}

	d, err := h.manager.Create(c.Request.Context(), deployment.CreateRequest{
		Name:           body.Name,
		WorkspaceID:    body.WorkspaceID,
		WorkspacePath:  body.WorkspacePath,
		RuntimeVersion: body.RuntimeVersion,
		ModelProvider:  body.ModelProvider,
		ModelName:      body.ModelName,
		GatewayPort:    body.GatewayPort,
		Env:            body.Env,
		Policy:         body.Policy,
		DesiredState:   body.DesiredState,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) httpListDeployments(c *gin.Context) {
	list, err := h.manager.List(c.Request.Context(), store.ListQuery{
		WorkspaceID: c.Query("workspace_id"),
		Name:        c.Query("q"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListDeploymentsResponse{
		Deployments: dto.FromDeployments(list),
		Total:       len(list),
	})
}

func (h *DeploymentHandlers) httpGetDeployment(c *gin.Context) {
	d, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDeployment(d))
}

type httpUpdateDeploymentRequest struct {
	Name          *string                  `json:"name,omitempty"`
	ModelProvider *string                  `json:"model_provider,omitempty"`
	ModelName     *string                  `json:"model_name,omitempty"`
	Env           map[string]string        `json:"env,omitempty"`
	Policy        *policy.CapabilityPolicy `json:"policy,omitempty"`
}

func (h *DeploymentHandlers) httpUpdateDeployment(c *gin.Context) {
	var body httpUpdateDeploymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	d, err := h.manager.Update(c.Request.Context(), c.Param("id"), deployment.UpdateRequest{
		Name:          body.Name,
		ModelProvider: body.ModelProvider,
		ModelName:     body.ModelName,
		Env:           body.Env,
		Policy:        body.Policy,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) httpDeleteDeployment(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *DeploymentHandlers) httpStartDeployment(c *gin.Context) {
	d, err := h.manager.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) httpStopDeployment(c *gin.Context) {
	d, err := h.manager.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) httpRestartDeployment(c *gin.Context) {
	d, err := h.manager.Restart(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromDeployment(d))
}

func (h *DeploymentHandlers) httpListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxEventLimit {
			limit = parsed
		}
	}

	evs, err := h.manager.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dto.ListEventsResponse{
		Events: dto.FromRuntimeEvents(evs),
		Total:  len(evs),
	})
}

func (h *DeploymentHandlers) httpGetCapabilities(c *gin.Context) {
	caps, err := h.manager.Capabilities(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

type httpSendMessageRequest struct {
	Message string `json:"message"`
}

func (h *DeploymentHandlers) httpSendMessage(c *gin.Context) {
	var body httpSendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if body.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	res, err := h.manager.SendMessage(c.Request.Context(), c.Param("id"), body.Message)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	// A failed stream is still a 200; the result body carries the outcome.
	c.JSON(http.StatusOK, res)
}
