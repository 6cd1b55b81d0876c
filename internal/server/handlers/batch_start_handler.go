package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/rcloud"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedAction = errors.New("the requested action is not supported for this target kind")
	ErrEmptyBatch        = errors.New("batch request specifies no items")
	ErrInvalidBatchBound = errors.New("batch request specifies an invalid execution bound")
)

// actionsByKind enumerates the action verbs each target kind supports.
var actionsByKind = map[string]map[string]struct{}{
	domain.KindVenue: {
		domain.ActionCreate: {},
		domain.ActionDelete: {},
	},
	domain.KindNetwork: {
		domain.ActionCreate: {},
		domain.ActionDelete: {},
	},
	domain.KindDevice: {
		domain.ActionCreate:   {},
		domain.ActionDelete:   {},
		domain.ActionMove:     {},
		domain.ActionActivate: {},
	},
}

// BatchStartHttpHandler accepts batch-start requests for one target kind, expands them
// into concrete batch items, and hands the batch to the orchestrator. The HTTP response
// is returned as soon as the session is registered; execution continues in the background.
type BatchStartHttpHandler struct {
	*BaseHandler

	kind         string
	orchestrator *bulkops.BatchOrchestrator
	client       *rcloud.Client
}

func NewBatchStartHttpHandler(opts *domain.Configuration, kind string,
	orchestrator *bulkops.BatchOrchestrator, client *rcloud.Client, atom *zap.AtomicLevel) *BatchStartHttpHandler {

	if _, ok := actionsByKind[kind]; !ok {
		panic(fmt.Sprintf("cannot create batch-start handler for unknown target kind \"%s\"", kind))
	}
	if orchestrator == nil {
		panic("cannot create batch-start handler with nil orchestrator")
	}
	if client == nil {
		panic("cannot create batch-start handler with nil remote API client")
	}

	handler := &BatchStartHttpHandler{
		BaseHandler:  newBaseHandler(opts, atom),
		kind:         kind,
		orchestrator: orchestrator,
		client:       client,
	}
	handler.BackendHttpGetHandler = handler

	handler.logger.Info("Creating server-side BatchStartHttpHandler.", zap.String("kind", kind))

	return handler
}

func (h *BatchStartHttpHandler) HandleRequest(c *gin.Context) {
	var req domain.StartBatchRequest
	if err := c.BindJSON(&req); err != nil {
		h.logger.Error("Failed to unmarshal batch-start request.", zap.String("kind", h.kind), zap.Error(err))
		c.JSON(http.StatusBadRequest, &domain.ErrorMessage{
			ErrorMessage: err.Error(),
			Valid:        true,
			Status:       domain.ResponseStatusError,
		})
		return
	}

	if err := h.validateRequest(&req); err != nil {
		h.logger.Error("Rejecting invalid batch-start request.",
			zap.String("kind", h.kind), zap.String("action", req.Action), zap.Error(err))
		c.JSON(http.StatusBadRequest, &domain.ErrorMessage{
			ErrorMessage: err.Error(),
			Valid:        true,
			Status:       domain.ResponseStatusError,
		})
		return
	}

	items := h.expandItems(&req)

	opts := domain.BatchOptions{
		MaxConcurrent: req.MaxConcurrent,
		DelayMillis:   req.DelayMillis,
	}

	sessionId, err := h.orchestrator.Start(h.kind, req.Action, items, opts,
		h.remoteActionFor(req.Action), bulkops.NormalizeRemoteResult, bulkops.NormalizeRemoteError)
	if err != nil {
		h.logger.Error("Failed to start bulk batch.",
			zap.String("kind", h.kind), zap.String("action", req.Action), zap.Error(err))
		c.JSON(http.StatusBadRequest, &domain.ErrorMessage{
			ErrorMessage: err.Error(),
			Valid:        true,
			Status:       domain.ResponseStatusError,
		})
		return
	}

	h.logger.Debug("Started bulk batch.",
		zap.String("session_id", sessionId),
		zap.String("kind", h.kind),
		zap.String("action", req.Action),
		zap.Int("num_items", len(items)))

	c.JSON(http.StatusAccepted, &domain.StartBatchResponse{SessionId: sessionId})
}

func (h *BatchStartHttpHandler) validateRequest(req *domain.StartBatchRequest) error {
	if _, ok := actionsByKind[h.kind][req.Action]; !ok {
		return fmt.Errorf("%w: kind \"%s\", action \"%s\"", ErrUnsupportedAction, h.kind, req.Action)
	}

	if len(req.Names) == 0 && req.Count <= 0 {
		return fmt.Errorf("%w: specify either \"names\" or a positive \"count\"", ErrEmptyBatch)
	}

	// Unspecified concurrency falls back to the configured upper bound.
	if req.MaxConcurrent == 0 {
		req.MaxConcurrent = h.opts.MaxConcurrentLimit
	}
	if req.MaxConcurrent < 1 || req.MaxConcurrent > h.opts.MaxConcurrentLimit {
		return fmt.Errorf("%w: max_concurrent must be in [1, %d], got %d",
			ErrInvalidBatchBound, h.opts.MaxConcurrentLimit, req.MaxConcurrent)
	}

	if req.DelayMillis < 0 {
		return fmt.Errorf("%w: delay_ms must be non-negative, got %d", ErrInvalidBatchBound, req.DelayMillis)
	}

	return nil
}

// expandItems materializes the batch's items, either from the explicit name list or
// from the prefix+count generator.
func (h *BatchStartHttpHandler) expandItems(req *domain.StartBatchRequest) []domain.BatchItem {
	names := req.Names
	if len(names) == 0 {
		prefix := req.NamePrefix
		if prefix == "" {
			prefix = h.kind
		}

		names = make([]string, 0, req.Count)
		for i := 1; i <= req.Count; i++ {
			names = append(names, fmt.Sprintf("%s-%04d", prefix, i))
		}
	}

	items := make([]domain.BatchItem, 0, len(names))
	for _, name := range names {
		items = append(items, domain.BatchItem{
			Label:   name,
			Payload: h.payloadFor(name, req.VenueId),
		})
	}

	return items
}

func (h *BatchStartHttpHandler) payloadFor(name string, venueId string) interface{} {
	switch h.kind {
	case domain.KindVenue:
		return &rcloud.VenueRequest{Name: name, VenueId: venueId}
	case domain.KindNetwork:
		return &rcloud.NetworkRequest{Name: name, VenueId: venueId}
	case domain.KindDevice:
		return &rcloud.DeviceRequest{Name: name, SerialNumber: name, VenueId: venueId}
	default:
		panic(fmt.Sprintf("unknown target kind \"%s\"", h.kind))
	}
}

// remoteActionFor binds the kind and action to the corresponding remote API call.
func (h *BatchStartHttpHandler) remoteActionFor(action string) domain.RemoteActionFn {
	return func(item domain.BatchItem) (interface{}, error) {
		ctx := context.Background()

		switch h.kind {
		case domain.KindVenue:
			req := item.Payload.(*rcloud.VenueRequest)
			if action == domain.ActionCreate {
				return h.client.CreateVenue(ctx, req)
			}
			return h.client.DeleteVenue(ctx, item.Label)
		case domain.KindNetwork:
			req := item.Payload.(*rcloud.NetworkRequest)
			if action == domain.ActionCreate {
				return h.client.CreateNetwork(ctx, req)
			}
			return h.client.DeleteNetwork(ctx, item.Label)
		case domain.KindDevice:
			req := item.Payload.(*rcloud.DeviceRequest)
			switch action {
			case domain.ActionCreate:
				return h.client.CreateDevice(ctx, req)
			case domain.ActionDelete:
				return h.client.DeleteDevice(ctx, req.SerialNumber)
			case domain.ActionMove:
				return h.client.MoveDevice(ctx, req)
			case domain.ActionActivate:
				return h.client.ActivateDevice(ctx, req)
			}
		}

		panic(fmt.Sprintf("no remote action bound for kind \"%s\", action \"%s\"", h.kind, action))
	}
}
