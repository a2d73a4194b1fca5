package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/errors"
	"github.com/Gabriel0110/openwork-jarvis-sub000/internal/common/logger"
)

// respondError translates a service error into an HTTP response. Typed app
// errors carry their own status and a message safe to return; anything else
// is a 500 with a generic body.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.GetHTTPStatus(err)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": appErr.Message})
		return
	}

	log.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
