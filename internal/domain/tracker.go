package domain

// SessionTracker is the sole source of truth for bulk session/operation state.
//
// Implementations are purely in-memory and must serialize concurrent writers per
// session: every UpdateOperation call is an atomic read-modify-write of the
// session's aggregate counters. A SessionTracker is constructed explicitly and
// passed by reference to the orchestrator and to request handlers; its lifetime
// is tied to the host process.
type SessionTracker interface {
	// CreateSession allocates a new session with status 'running', zeroed counters,
	// and an empty operation list, returning the generated session id.
	CreateSession(kind string, action string, totalCount int) string

	// AddOperation appends a new operation with status 'queued' to the session,
	// returning the generated operation id. The activity id may be empty when the
	// remote correlation id is not known yet; it can be filled in later through
	// UpdateOperation. Fails with ErrSessionNotFound for unknown session ids.
	AddOperation(sessionId string, kind string, action string, label string, activityId string) (string, error)

	// UpdateOperation merges the given partial update into the operation, recomputes
	// the operation's duration when both timestamps are present, recomputes the
	// session's counters, and completes the session once every operation is terminal.
	UpdateOperation(sessionId string, operationId string, update *OperationUpdate) error

	// CancelSession marks the session 'cancelled' and force-transitions every still-queued
	// operation to 'cancelled'. Operations already running are left to finish naturally.
	CancelSession(sessionId string) error

	// PauseSession transitions a running session to 'paused'.
	PauseSession(sessionId string) error

	// ResumeSession transitions a paused session back to 'running'.
	// It is a no-op (with ErrSessionNotPaused) unless the session is exactly 'paused'.
	ResumeSession(sessionId string) error

	// The read accessors return deep-copied snapshots, never live registry objects, so
	// callers may inspect or serialize them without racing in-flight updates.
	GetSession(sessionId string) (*BulkSession, error)
	GetOperations(sessionId string) ([]*BulkOperation, error)
	GetProgress(sessionId string) (*SessionProgress, error)
	GetAllSessions() []*BulkSession

	// DeleteSession removes the session and all of its operations from the registry.
	DeleteSession(sessionId string) error

	// ClearAll removes every session. Explicit reclamation; there is no automatic eviction.
	ClearAll()
}
