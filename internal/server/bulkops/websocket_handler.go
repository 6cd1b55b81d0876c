package bulkops

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-colorable"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server/concurrent_websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	OpGetSessions          string = "get_sessions"
	OpPauseSession         string = "pause_session"
	OpResumeSession        string = "resume_session"
	OpCancelSession        string = "cancel_session"
	OpSessionSubscribe     string = "subscribe"
	OpPushedSessionsUpdate string = "sessions_update"

	ReceivedFirstSessionBroadcastMetadataKey = "received_first_sessions_broadcast"
)

var (
	ErrMissingMessageId = errors.New("WebSocket message did not contain a top-level \"msg_id\" field")
	ErrMissingOp        = errors.New("WebSocket message did not contain a top-level \"op\" field")
	ErrInvalidOperation = errors.New("invalid session-related WebSocket operation requested")

	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
)

func init() {
	jsonpatch.SupportNegativeIndices = false
}

type websocketRequestHandler func(msgId string, message []byte, ws domain.ConcurrentWebSocket) ([]byte, error)

// WebsocketHandler serves the WebSocket over which bulk-session state is exchanged with
// the frontend. It answers explicit requests (get, subscribe, pause/resume/cancel) and,
// once the first connection arrives, runs a push routine that periodically broadcasts
// the latest session state to all subscribers.
//
// Sessions that have already been pushed to a given subscriber are re-sent as JSON merge
// patches against their previous encoding; a subscriber's first broadcast is always the
// full state.
type WebsocketHandler struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel

	configuration           *domain.Configuration
	tracker                 domain.SessionTracker
	handlers                map[string]websocketRequestHandler    // A map from operation ID to the associated request handler.
	subscribers             map[string]domain.ConcurrentWebSocket // Websockets that have subscribed and thus receive session-state broadcasts.
	subscribersMutex        sync.Mutex
	pushGoroutineActive     atomic.Int32 // Indicates whether there is already a goroutine serving the "push" routine.
	pushUpdateInterval      time.Duration
	expectedOriginPort      int // The origin port expected for incoming WebSocket connections.
	expectedOriginAddresses []string
}

func NewWebsocketHandler(configuration *domain.Configuration, tracker domain.SessionTracker, atom *zap.AtomicLevel) *WebsocketHandler {
	handler := &WebsocketHandler{
		configuration:           configuration,
		tracker:                 tracker,
		atom:                    atom,
		handlers:                make(map[string]websocketRequestHandler),
		subscribers:             make(map[string]domain.ConcurrentWebSocket),
		pushUpdateInterval:      time.Second * time.Duration(configuration.PushUpdateInterval),
		expectedOriginPort:      configuration.ExpectedOriginPort,
		expectedOriginAddresses: make([]string, 0, len(configuration.ExpectedOriginAddresses)),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for session websocket handler")
	}

	handler.logger = logger
	handler.sugaredLogger = logger.Sugar()

	expectedOriginAddresses := strings.Split(configuration.ExpectedOriginAddresses, ",")
	for _, addr := range expectedOriginAddresses {
		var expectedOrigin string
		if handler.expectedOriginPort > 0 {
			expectedOrigin = fmt.Sprintf("%s:%d", addr, handler.expectedOriginPort)
		} else {
			expectedOrigin = addr
		}
		handler.logger.Debug("Loaded expected origin from configuration.", zap.String("origin", expectedOrigin))
		handler.expectedOriginAddresses = append(handler.expectedOriginAddresses, expectedOrigin)
	}

	handler.setupRequestHandlers()

	return handler
}

func (h *WebsocketHandler) setupRequestHandlers() {
	h.handlers[OpGetSessions] = h.handleGetSessions
	h.handlers[OpPauseSession] = h.handlePauseSession
	h.handlers[OpResumeSession] = h.handleResumeSession
	h.handlers[OpCancelSession] = h.handleCancelSession
	h.handlers[OpSessionSubscribe] = h.handleSubscriptionRequest
}

// GetHandlerFunc returns the gin handler serving the sessions WebSocket, starting the
// server-push routine on first use.
func (h *WebsocketHandler) GetHandlerFunc() gin.HandlerFunc {
	if h.pushGoroutineActive.CompareAndSwap(0, 1) {
		go h.serverPushRoutine()
	}

	return h.serveSessionsWebsocket
}

// Upgrade the given HTTP connection to a Websocket connection.
// It is the responsibility of the caller to close the websocket when they're done with it.
func (h *WebsocketHandler) upgradeConnectionToWebsocket(c *gin.Context) (domain.ConcurrentWebSocket, error) {
	upgrader.CheckOrigin = func(r *http.Request) bool {
		incomingOrigin := r.Header.Get("Origin")
		for _, expectedOrigin := range h.expectedOriginAddresses {
			if incomingOrigin == expectedOrigin {
				return true
			}
		}

		h.logger.Error("Incoming WebSocket connection had unexpected origin. Rejecting.",
			zap.String("request-origin", c.Request.Header.Get("Origin")),
			zap.String("request-host", c.Request.Host), zap.String("request-uri", c.Request.RequestURI),
			zap.Strings("accepted-origins", h.expectedOriginAddresses))
		return false
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection.", zap.Error(err))
		return nil, err
	}

	return concurrent_websocket.NewConcurrentWebSocket(conn), nil
}

// Offload a session-related WebSocket request to the appropriate request handler.
//
// Return the message ID (or an empty string if the message ID could not be extracted), the encoded response payload generated by the handler,
// and any errors encountered either while unpacking the message or while the handler processed the message.
func (h *WebsocketHandler) dispatchRequest(message []byte, ws domain.ConcurrentWebSocket) (string, []byte, error) {
	var request map[string]interface{}
	if err := json.Unmarshal(message, &request); err != nil {
		h.logger.Error("Error while unmarshalling data message from session-related websocket.", zap.Error(err), zap.ByteString("message-bytes", message))
		return "", nil, err
	}

	var (
		opVal    interface{}
		msgIdVal interface{}
		ok       bool
	)

	if msgIdVal, ok = request["msg_id"]; !ok {
		h.logger.Error("Received unexpected message on websocket. It did not contain a 'msg_id' field.", zap.Binary("message", message))
		return "", nil, ErrMissingMessageId
	}
	msgId := msgIdVal.(string)

	if opVal, ok = request["op"]; !ok {
		h.logger.Error("Received unexpected message on websocket. It did not contain an 'op' field.", zap.String("msg_id", msgId), zap.Binary("message", message))
		return msgId, nil, ErrMissingOp
	}

	opId := opVal.(string)
	handler, ok := h.handlers[opId]
	if !ok {
		h.logger.Error("Invalid session-related WebSocket operation requested.", zap.String("operation-id", opId))
		return msgId, nil, fmt.Errorf("%w: \"%s\"", ErrInvalidOperation, opId)
	}

	responsePayload, err := handler(msgId, message, ws)
	return msgId, responsePayload, err
}

// Create and return an ErrorMessage wrapping the given error.
// The error parameter must not be nil.
func (h *WebsocketHandler) generateErrorPayload(err error, description string) *domain.ErrorMessage {
	if err == nil {
		panic("The provided error should not be nil when generating an error payload.")
	}

	return &domain.ErrorMessage{
		ErrorMessage: err.Error(),
		Description:  description,
		Valid:        true,
	}
}

// Write a message to the given websocket.
func (h *WebsocketHandler) sendMessage(ws domain.ConcurrentWebSocket, payload []byte) error {
	if payload == nil {
		panic("Payload should not be nil when sending a WebSocket message.")
	}

	return ws.WriteMessage(websocket.BinaryMessage, payload)
}

// getResponsePayload creates and returns an encoded response.
//
// If the error is non-nil, then an error message will be created, regardless of the value of the provided response.
// If both the error and the response are nil, then this method will return nil.
func (h *WebsocketHandler) getResponsePayload(response []byte, err error) []byte {
	var payload = response
	if err != nil {
		errorMessage := h.generateErrorPayload(err, "")
		payload = errorMessage.Encode()
	}

	return payload
}

// Upgrade the HTTP connection to a WebSocket connection.
// Then, serve requests sent by the remote WebSocket.
func (h *WebsocketHandler) serveSessionsWebsocket(c *gin.Context) {
	h.logger.Debug("Handling session-related websocket connection")

	ws, err := h.upgradeConnectionToWebsocket(c)
	if err != nil {
		h.logger.Error("Failed to upgrade HTTP connection to WebSocket connection.", zap.Error(err))
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	defer h.removeSubscription(ws)

	// Process messages until the remote client disconnects or an irrecoverable error occurs.
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			h.logger.Error("Error while reading message from websocket.", zap.Error(err))
			return
		}

		msgId, response, err := h.dispatchRequest(message, ws)

		payload := h.getResponsePayload(response, err)

		// If the encoded response is nil, then we won't be sending anything back.
		if payload == nil {
			h.logger.Debug("Not sending response for WebSocket message.", zap.String("msg_id", msgId))
			continue
		}

		if err = h.sendMessage(ws, payload); err != nil {
			h.logger.Error("Failed to write WebSocket response.", zap.String("msg_id", msgId), zap.ByteString("response", payload), zap.Error(err))
			return
		}
	}
}

// Return the current state of all bulk sessions.
func (h *WebsocketHandler) handleGetSessions(msgId string, _ []byte, _ domain.ConcurrentWebSocket) ([]byte, error) {
	sessions := h.tracker.GetAllSessions()

	responseBuilder := newResponseBuilder(msgId, OpGetSessions)
	response := responseBuilder.WithModifiedSessions(sessions).BuildResponse()
	return response.Encode()
}

// Add a websocket to the subscribers field. Subscribers receive session-state broadcasts
// from the push routine.
func (h *WebsocketHandler) handleSubscriptionRequest(msgId string, message []byte, ws domain.ConcurrentWebSocket) ([]byte, error) {
	h.subscribersMutex.Lock()
	h.subscribers[ws.RemoteAddr().String()] = ws
	h.subscribersMutex.Unlock()

	return h.handleGetSessions(msgId, message, ws)
}

// Remove a websocket from the subscribers field.
func (h *WebsocketHandler) removeSubscription(ws domain.ConcurrentWebSocket) {
	if ws.RemoteAddr() != nil {
		h.logger.Debug("Removing subscription for WebSocket.", zap.String("remote-address", ws.RemoteAddr().String()))

		h.subscribersMutex.Lock()
		delete(h.subscribers, ws.RemoteAddr().String())
		h.subscribersMutex.Unlock()
	}
}

// Handle a request to pause an actively-running bulk session.
func (h *WebsocketHandler) handlePauseSession(msgId string, message []byte, _ domain.ConcurrentWebSocket) ([]byte, error) {
	req, err := domain.UnmarshalRequestPayload[*domain.SessionControlRequest](message)
	if err != nil {
		h.logger.Error("Failed to unmarshal SessionControlRequest.", zap.Error(err))
		return nil, err
	}

	if req.Operation != OpPauseSession {
		panic(fmt.Sprintf("Unexpected operation field in SessionControlRequest: \"%s\"", req.Operation))
	}

	h.logger.Debug("Pausing bulk session.", zap.String("session_id", req.SessionId))
	if err = h.tracker.PauseSession(req.SessionId); err != nil {
		return nil, err
	}

	return h.encodeSessionResponse(msgId, OpPauseSession, req.SessionId)
}

// Handle a request to resume a previously-paused bulk session.
func (h *WebsocketHandler) handleResumeSession(msgId string, message []byte, _ domain.ConcurrentWebSocket) ([]byte, error) {
	req, err := domain.UnmarshalRequestPayload[*domain.SessionControlRequest](message)
	if err != nil {
		h.logger.Error("Failed to unmarshal SessionControlRequest.", zap.Error(err))
		return nil, err
	}

	if req.Operation != OpResumeSession {
		panic(fmt.Sprintf("Unexpected operation field in SessionControlRequest: \"%s\"", req.Operation))
	}

	h.logger.Debug("Resuming bulk session.", zap.String("session_id", req.SessionId))
	if err = h.tracker.ResumeSession(req.SessionId); err != nil {
		return nil, err
	}

	return h.encodeSessionResponse(msgId, OpResumeSession, req.SessionId)
}

// Handle a request to cancel a bulk session.
func (h *WebsocketHandler) handleCancelSession(msgId string, message []byte, _ domain.ConcurrentWebSocket) ([]byte, error) {
	req, err := domain.UnmarshalRequestPayload[*domain.SessionControlRequest](message)
	if err != nil {
		h.logger.Error("Failed to unmarshal SessionControlRequest.", zap.Error(err))
		return nil, err
	}

	if req.Operation != OpCancelSession {
		panic(fmt.Sprintf("Unexpected operation field in SessionControlRequest: \"%s\"", req.Operation))
	}

	h.logger.Debug("Cancelling bulk session.", zap.String("session_id", req.SessionId))
	if err = h.tracker.CancelSession(req.SessionId); err != nil {
		return nil, err
	}

	return h.encodeSessionResponse(msgId, OpCancelSession, req.SessionId)
}

func (h *WebsocketHandler) encodeSessionResponse(msgId string, op string, sessionId string) ([]byte, error) {
	session, err := h.tracker.GetSession(sessionId)
	if err != nil {
		return nil, err
	}

	responseBuilder := newResponseBuilder(msgId, op)
	response := responseBuilder.WithModifiedSession(session).BuildResponse()
	return response.Encode()
}

// broadcastToSessionWebsockets sends a binary websocket message to all subscribed websockets.
func (h *WebsocketHandler) broadcastToSessionWebsockets(patchPayload []byte, fullPayload []byte) []error {
	errs := make([]error, 0)

	toRemove := make([]domain.ConcurrentWebSocket, 0)

	h.subscribersMutex.Lock()
	subscribers := make([]domain.ConcurrentWebSocket, 0, len(h.subscribers))
	for _, ws := range h.subscribers {
		subscribers = append(subscribers, ws)
	}
	h.subscribersMutex.Unlock()

	for _, ws := range subscribers {
		// A subscriber's first broadcast must be the full state; patches only make sense
		// against an encoding the client has already seen.
		var (
			payload        []byte
			firstBroadcast bool
		)
		if _, loaded := ws.GetMetadata(ReceivedFirstSessionBroadcastMetadataKey); loaded {
			payload = patchPayload
		} else {
			payload = fullPayload
			firstBroadcast = true
		}

		err := ws.WriteMessage(websocket.BinaryMessage, payload)
		if err != nil {
			h.logger.Error("Error while broadcasting websocket message.", zap.Error(err))
			errs = append(errs, err)

			var closeError *websocket.CloseError
			if errors.As(err, &closeError) || errors.Is(err, websocket.ErrCloseSent) {
				toRemove = append(toRemove, ws)
			}
		} else if firstBroadcast {
			ws.AddMetadata(ReceivedFirstSessionBroadcastMetadataKey, "true")
		}
	}

	for _, ws := range toRemove {
		h.removeSubscription(ws)
	}

	return errs
}

// pruneBroadcastState drops cached encodings and finished-session markers for sessions
// that no longer exist in the tracker, so deleting a session also releases its
// broadcast bookkeeping.
func pruneBroadcastState(previousSessionsEncoded map[string][]byte, finishedSessions map[string]struct{}, sessions []*domain.BulkSession) {
	live := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		live[session.Id] = struct{}{}
	}

	for sessionId := range previousSessionsEncoded {
		if _, ok := live[sessionId]; !ok {
			delete(previousSessionsEncoded, sessionId)
		}
	}
	for sessionId := range finishedSessions {
		if _, ok := live[sessionId]; !ok {
			delete(finishedSessions, sessionId)
		}
	}
}

// serverPushRoutine periodically pushes the state of all non-terminal bulk sessions to
// subscribed frontends. Sessions that reach a terminal status are pushed one final time
// and then dropped from the broadcast set, as their state no longer changes.
func (h *WebsocketHandler) serverPushRoutine() {
	// Mapping from session ID to the last full encoding pushed for that session, so
	// subsequent updates can be sent as (much smaller) JSON merge patches.
	previousSessionsEncoded := make(map[string][]byte)

	// Session IDs whose terminal state has already been broadcast.
	finishedSessions := make(map[string]struct{})

	for {
		time.Sleep(h.pushUpdateInterval)

		sessions := h.tracker.GetAllSessions()
		pruneBroadcastState(previousSessionsEncoded, finishedSessions, sessions)

		activeSessions := make([]*domain.BulkSession, 0, len(sessions))
		for _, session := range sessions {
			if _, finished := finishedSessions[session.Id]; finished {
				continue
			}

			// Terminal sessions are included in this broadcast one last time.
			if session.Status.Terminal() {
				finishedSessions[session.Id] = struct{}{}
			}

			activeSessions = append(activeSessions, session)
		}

		if len(activeSessions) == 0 {
			continue
		}

		var msgId = uuid.NewString()
		patchBuilder := newResponseBuilder(msgId, OpPushedSessionsUpdate)
		fullBuilder := newResponseBuilder(msgId, OpPushedSessionsUpdate)

		for _, session := range activeSessions {
			sessionEncoded, err := json.Marshal(session)
			if err != nil {
				panic(err)
			}

			fullBuilder.AddModifiedSession(session)

			prevEncoding, loaded := previousSessionsEncoded[session.Id]
			if loaded {
				patch, err := jsonpatch.CreateMergePatch(prevEncoding, sessionEncoded)
				if err != nil {
					h.logger.Error("Failed to create merge patch for bulk session.", zap.String("session_id", session.Id), zap.Error(err))
					patchBuilder.AddModifiedSession(session)
				} else {
					patchBuilder.AddModifiedSessionAsPatch(patch, session.Id)
				}
			} else {
				patchBuilder.AddModifiedSession(session)
			}

			previousSessionsEncoded[session.Id] = sessionEncoded
		}

		patchEncoded, err := patchBuilder.BuildResponse().Encode()
		if err != nil {
			panic(err)
		}
		fullEncoded, err := fullBuilder.BuildResponse().Encode()
		if err != nil {
			panic(err)
		}

		errs := h.broadcastToSessionWebsockets(patchEncoded, fullEncoded)
		for _, err := range errs {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway) {
				h.logger.Error("Failed to push sessions update to frontend.", zap.Error(err))
			}
		}
	}
}
