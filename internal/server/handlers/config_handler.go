package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"go.uber.org/zap"
)

type ConfigHttpHandler struct {
	*BaseHandler
}

func NewConfigHttpHandler(opts *domain.Configuration, atom *zap.AtomicLevel) *ConfigHttpHandler {
	handler := &ConfigHttpHandler{
		BaseHandler: newBaseHandler(opts, atom),
	}
	handler.BackendHttpGetHandler = handler

	handler.logger.Info("Creating server-side ConfigHttpHandler.")

	return handler
}

func (h *ConfigHttpHandler) HandleRequest(c *gin.Context) {
	// Credentials must never leave the backend.
	sanitized := *h.opts
	sanitized.AdminPassword = ""
	sanitized.RemoteAPIToken = ""

	h.logger.Debug("Sending config back to client now.", zap.Any("config", &sanitized))
	c.JSON(http.StatusOK, &sanitized)
}
