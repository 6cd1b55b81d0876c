package domain

import (
	"encoding/json"
)

// SessionWebsocketMessage is the interface implemented by all session-related
// WebSocket messages sent by the frontend.
type SessionWebsocketMessage interface {
	GetOperation() string
	GetMessageId() string
}

type BaseMessage struct {
	Operation string `json:"op"`
	MessageId string `json:"msg_id"`
}

func (m *BaseMessage) GetOperation() string {
	return m.Operation
}

func (m *BaseMessage) GetMessageId() string {
	return m.MessageId
}

type SubscriptionRequest struct {
	*BaseMessage
}

// UnmarshalRequestPayload -- given a payload that encodes an arbitrary (i.e., of any type) session-related WebSocket
// message, unmarshal and return the message.
func UnmarshalRequestPayload[SessionWebsocketMessageType SessionWebsocketMessage](encodedMessage []byte) (SessionWebsocketMessageType, error) {
	var decodedMessage SessionWebsocketMessageType
	err := json.Unmarshal(encodedMessage, &decodedMessage)

	return decodedMessage, err
}

func (r *SubscriptionRequest) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// SessionControlRequest targets one bulk session with a control operation
// (pause, resume, or cancel).
type SessionControlRequest struct {
	*BaseMessage

	SessionId string `json:"session_id"`
}

func (r *SessionControlRequest) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// PatchedSession is a modified bulk session sent to the frontend as a JSON merge patch
// against the last full encoding the frontend received.
type PatchedSession struct {
	Patch     string `json:"patch"`
	SessionId string `json:"sessionId"`
}

type SessionsResponse struct {
	Operation        string            `json:"op"`                // The operation of the original request.
	Status           string            `json:"status"`            // OK or ERROR.
	MessageId        string            `json:"msg_id"`            // Unique ID of the message.
	NewSessions      []*BulkSession    `json:"new_sessions"`      // Sessions the frontend has not seen before, sent in their entirety.
	ModifiedSessions []*BulkSession    `json:"modified_sessions"` // Modified sessions sent in their entirety.
	PatchedSessions  []*PatchedSession `json:"patched_sessions"`  // Modified sessions sent as JSON merge patches.
	DeletedSessions  []string          `json:"deleted_sessions"`  // IDs of sessions that have been deleted.
}

// Encode the response to a JSON format.
func (r *SessionsResponse) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func (r *SessionsResponse) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}

	return string(out)
}
