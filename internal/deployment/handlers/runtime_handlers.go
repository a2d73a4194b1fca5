package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *DeploymentHandlers) httpRuntimeStatus(c *gin.Context) {
	status, err := h.manager.RuntimeStatus(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type httpInstallRequest struct {
	Version string `json:"version,omitempty"`
}

func (h *DeploymentHandlers) httpTriggerInstall(c *gin.Context) {
	// The body is optional; an empty one installs the latest version.
	var body httpInstallRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.manager.TriggerInstall(body.Version); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "installing"})
}

type httpVerifyRequest struct {
	Version string `json:"version"`
}

func (h *DeploymentHandlers) httpVerifyRuntime(c *gin.Context) {
	var body httpVerifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if body.Version == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version is required"})
		return
	}

	c.JSON(http.StatusOK, h.manager.VerifyVersion(c.Request.Context(), body.Version))
}

func (h *DeploymentHandlers) httpInstallActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.InstallActivity())
}
