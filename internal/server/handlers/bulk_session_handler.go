package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"
	"go.uber.org/zap"
)

// BulkSessionHttpHandler serves the read and control surface for bulk sessions:
// listing, inspection, progress, pause/resume/cancel, and deletion.
type BulkSessionHttpHandler struct {
	*BaseHandler

	tracker      domain.SessionTracker
	orchestrator *bulkops.BatchOrchestrator
}

func NewBulkSessionHttpHandler(opts *domain.Configuration, tracker domain.SessionTracker, orchestrator *bulkops.BatchOrchestrator, atom *zap.AtomicLevel) *BulkSessionHttpHandler {
	if tracker == nil {
		panic("cannot create bulk session handler with nil session tracker")
	}
	if orchestrator == nil {
		panic("cannot create bulk session handler with nil batch orchestrator")
	}

	handler := &BulkSessionHttpHandler{
		BaseHandler:  newBaseHandler(opts, atom),
		tracker:      tracker,
		orchestrator: orchestrator,
	}
	handler.BackendHttpGetHandler = handler

	handler.logger.Info("Creating server-side BulkSessionHttpHandler.")

	return handler
}

// HandleRequest returns all bulk sessions in creation order.
func (h *BulkSessionHttpHandler) HandleRequest(c *gin.Context) {
	sessions := h.tracker.GetAllSessions()
	c.JSON(http.StatusOK, sessions)
}

// HandleGetSessionRequest returns one session in its entirety, operations included.
func (h *BulkSessionHttpHandler) HandleGetSessionRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	session, err := h.tracker.GetSession(sessionId)
	if err != nil {
		h.writeLookupError(c, sessionId, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// HandleGetProgressRequest returns the derived progress read model for one session.
func (h *BulkSessionHttpHandler) HandleGetProgressRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	progress, err := h.tracker.GetProgress(sessionId)
	if err != nil {
		h.writeLookupError(c, sessionId, err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// HandleGetOperationsRequest returns the session's operations in submission order.
func (h *BulkSessionHttpHandler) HandleGetOperationsRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	operations, err := h.tracker.GetOperations(sessionId)
	if err != nil {
		h.writeLookupError(c, sessionId, err)
		return
	}

	c.JSON(http.StatusOK, operations)
}

func (h *BulkSessionHttpHandler) HandlePauseRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	h.logger.Debug("Received request to pause bulk session.", zap.String("session_id", sessionId))

	if err := h.tracker.PauseSession(sessionId); err != nil {
		h.writeControlError(c, sessionId, err)
		return
	}

	h.writeSessionBack(c, sessionId)
}

func (h *BulkSessionHttpHandler) HandleResumeRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	h.logger.Debug("Received request to resume bulk session.", zap.String("session_id", sessionId))

	if err := h.tracker.ResumeSession(sessionId); err != nil {
		h.writeControlError(c, sessionId, err)
		return
	}

	h.writeSessionBack(c, sessionId)
}

func (h *BulkSessionHttpHandler) HandleCancelRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	h.logger.Debug("Received request to cancel bulk session.", zap.String("session_id", sessionId))

	if err := h.tracker.CancelSession(sessionId); err != nil {
		h.writeControlError(c, sessionId, err)
		return
	}

	h.writeSessionBack(c, sessionId)
}

func (h *BulkSessionHttpHandler) HandleDeleteRequest(c *gin.Context) {
	sessionId := c.Param("session_id")

	h.logger.Debug("Received request to delete bulk session.", zap.String("session_id", sessionId))

	if err := h.tracker.DeleteSession(sessionId); err != nil {
		h.writeLookupError(c, sessionId, err)
		return
	}

	h.orchestrator.Forget(sessionId)
	c.Status(http.StatusNoContent)
}

func (h *BulkSessionHttpHandler) HandleClearAllRequest(c *gin.Context) {
	h.logger.Debug("Received request to clear all bulk sessions.")

	h.tracker.ClearAll()
	h.orchestrator.ForgetAll()
	c.Status(http.StatusNoContent)
}

func (h *BulkSessionHttpHandler) writeSessionBack(c *gin.Context, sessionId string) {
	session, err := h.tracker.GetSession(sessionId)
	if err != nil {
		h.writeLookupError(c, sessionId, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *BulkSessionHttpHandler) writeLookupError(c *gin.Context, sessionId string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrOperationNotFound) {
		c.JSON(http.StatusNotFound, &domain.ErrorMessage{
			ErrorMessage: err.Error(),
			Valid:        true,
			Status:       domain.ResponseStatusError,
		})
		return
	}

	h.logger.Error("Unexpected error while looking up bulk session.",
		zap.String("session_id", sessionId), zap.Error(err))
	_ = c.AbortWithError(http.StatusInternalServerError, err)
}

// writeControlError maps lifecycle-transition failures to HTTP status codes: unknown
// sessions are 404, illegal transitions (pausing a completed session, resuming one that
// is not paused) are 409.
func (h *BulkSessionHttpHandler) writeControlError(c *gin.Context, sessionId string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		h.writeLookupError(c, sessionId, err)
		return
	}

	if errors.Is(err, domain.ErrSessionNotRunning) || errors.Is(err, domain.ErrSessionNotPaused) || errors.Is(err, domain.ErrInvalidState) {
		c.JSON(http.StatusConflict, &domain.ErrorMessage{
			ErrorMessage: err.Error(),
			Valid:        true,
			Status:       domain.ResponseStatusError,
		})
		return
	}

	h.logger.Error("Unexpected error while controlling bulk session.",
		zap.String("session_id", sessionId), zap.Error(err))
	_ = c.AbortWithError(http.StatusInternalServerError, err)
}
