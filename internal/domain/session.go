package domain

import (
	"encoding/json"
	"time"
)

const (
	SessionRunning   SessionStatus = "running"   // Batch is actively executing (or waiting on the limiter).
	SessionPaused    SessionStatus = "paused"    // Batch is halted; queued operations wait until resumed.
	SessionCompleted SessionStatus = "completed" // Every operation reached a terminal status.
	SessionCancelled SessionStatus = "cancelled" // Batch was cancelled; queued operations were swept to 'cancelled'.

	OperationQueued    OperationStatus = "queued"
	OperationRunning   OperationStatus = "running"
	OperationSuccess   OperationStatus = "success"
	OperationFailed    OperationStatus = "failed"
	OperationCancelled OperationStatus = "cancelled"

	// Target kinds. A session's kind identifies the category of entity its operations act upon.
	KindVenue   string = "venue"
	KindNetwork string = "network"
	KindDevice  string = "device"

	// Action verbs.
	ActionCreate   string = "create"
	ActionDelete   string = "delete"
	ActionMove     string = "move"
	ActionActivate string = "activate"
)

// SessionStatus is the lifecycle status of one BulkSession.
type SessionStatus string

func (s SessionStatus) String() string {
	return string(s)
}

// Terminal returns true if no further session-level transition can occur from this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// OperationStatus is the lifecycle status of one BulkOperation.
type OperationStatus string

func (s OperationStatus) String() string {
	return string(s)
}

// Terminal returns true if the operation can no longer change status.
func (s OperationStatus) Terminal() bool {
	return s == OperationSuccess || s == OperationFailed || s == OperationCancelled
}

// BulkSession is one accepted bulk-operation request and its aggregate execution state.
//
// A BulkSession exclusively owns its operations; the Operations slice preserves
// submission order, which is significant for display but not for execution, as
// operations execute concurrently and may complete in any order.
type BulkSession struct {
	Id             string           `json:"id"`
	Kind           string           `json:"kind"`
	Action         string           `json:"action"`
	Status         SessionStatus    `json:"status"`
	TotalCount     int              `json:"total_count"`
	SuccessCount   int              `json:"success_count"`
	FailureCount   int              `json:"failure_count"`
	CancelledCount int              `json:"cancelled_count"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	Operations     []*BulkOperation `json:"operations"`
}

func (s *BulkSession) String() string {
	out, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// Clone returns a deep copy of the session, operations included. Trackers hand out
// clones from their read accessors so readers never observe in-flight mutation.
func (s *BulkSession) Clone() *BulkSession {
	cloned := *s

	if s.EndTime != nil {
		endTime := *s.EndTime
		cloned.EndTime = &endTime
	}

	cloned.Operations = make([]*BulkOperation, 0, len(s.Operations))
	for _, operation := range s.Operations {
		cloned.Operations = append(cloned.Operations, operation.Clone())
	}

	return &cloned
}

// BulkOperation is one individual unit of work (one target item) within a session.
type BulkOperation struct {
	Id     string          `json:"id"`
	Kind   string          `json:"kind"`
	Action string          `json:"action"`
	Label  string          `json:"label"`
	Status OperationStatus `json:"status"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// DurationMillis is present only once both StartTime and EndTime are set.
	DurationMillis *int64 `json:"duration_ms,omitempty"`

	// Request is a snapshot of the outgoing request payload, recorded when the
	// operation transitions to 'running'.
	Request interface{} `json:"request,omitempty"`

	// Result holds the normalized result payload for successful operations, or any
	// recoverable details extracted from a failure.
	Result interface{} `json:"result,omitempty"`

	// Error holds the normalized, human-readable failure message for failed operations.
	Error string `json:"error,omitempty"`

	// ActivityId correlates this operation with the remote system's own async job tracking.
	ActivityId string `json:"activity_id,omitempty"`
}

// Clone returns a copy of the operation. The Request and Result payloads are copied by
// reference; trackers replace them wholesale and never mutate them in place.
func (op *BulkOperation) Clone() *BulkOperation {
	cloned := *op

	if op.StartTime != nil {
		startTime := *op.StartTime
		cloned.StartTime = &startTime
	}
	if op.EndTime != nil {
		endTime := *op.EndTime
		cloned.EndTime = &endTime
	}
	if op.DurationMillis != nil {
		durationMillis := *op.DurationMillis
		cloned.DurationMillis = &durationMillis
	}

	return &cloned
}

// OperationUpdate is a partial update merged into a BulkOperation by the SessionTracker.
// Nil fields are left untouched.
type OperationUpdate struct {
	Status     OperationStatus
	StartTime  *time.Time
	EndTime    *time.Time
	Request    interface{}
	Result     interface{}
	Error      *string
	ActivityId *string
}

// SessionProgress is a derived, non-stored read model computed on demand from a session.
type SessionProgress struct {
	SessionId string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Running   int           `json:"running"`
	Queued    int           `json:"queued"`
	Percent   float64       `json:"percent"`
}
