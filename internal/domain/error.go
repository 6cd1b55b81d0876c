package domain

import (
	"encoding/json"
	"errors"
)

const (
	ResponseStatusError string = "ERROR"
	ResponseStatusOK    string = "OK"
)

var (
	// ErrSessionNotFound is returned by SessionTracker accessors when the given session id is unknown.
	ErrSessionNotFound = errors.New("no bulk session found with the specified ID")

	// ErrOperationNotFound is returned when a session exists but does not own the specified operation.
	ErrOperationNotFound = errors.New("no bulk operation found with the specified ID")

	// ErrInvalidConcurrency is returned when a concurrency limiter is created with a non-positive bound.
	ErrInvalidConcurrency = errors.New("maximum concurrency must be at least 1")

	// ErrOverRelease indicates that a limiter permit was released more times than it was acquired.
	// This is a programming error, not a runtime condition.
	ErrOverRelease = errors.New("concurrency limiter released beyond its capacity")

	// ErrSessionNotPaused is returned when resuming a session that is not currently paused.
	ErrSessionNotPaused = errors.New("bulk session is not paused")

	// ErrSessionNotRunning is returned when pausing or cancelling a session that is no longer running.
	ErrSessionNotRunning = errors.New("bulk session is not running")

	// ErrInvalidState is returned for any other illegal lifecycle transition.
	ErrInvalidState = errors.New("illegal bulk session state transition")
)

// ErrorHandler is used to pass errors back to another component.
type ErrorHandler interface {
	HandleError(error, string)
}

type ErrorMessage struct {
	Description  string `json:"Description"`  // Provides additional context for what occurred; written by us.
	ErrorMessage string `json:"ErrorMessage"` // The value returned by err.Error() for whatever error occurred.
	Valid        bool   `json:"Valid"`        // Used to determine if the struct was sent/received correctly over the network.
	Operation    string `json:"op"`           // The original operation of the request to which this error is being sent as a response.
	Status       string `json:"status"`       // ERROR.
	MessageId    string `json:"msg_id"`       // Corresponding MessageId, if applicable (such as when sending/receiving JSON WebSocket messages).
}

func (m *ErrorMessage) Encode() []byte {
	out, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	return out
}

func (m *ErrorMessage) String() string {
	out := m.Encode()
	return string(out)
}
