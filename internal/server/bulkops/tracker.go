package bulkops

import (
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// sessionTrackerImpl is the in-memory implementation of domain.SessionTracker.
//
// One mutex serializes all access. Every UpdateOperation call is an atomic
// read-modify-write of the operation and the owning session's counters, which is what
// keeps the counter invariants intact under concurrent updates from in-flight items.
// The read accessors clone sessions and operations before dropping the mutex; readers
// never hold a reference into the live registry. Sessions are held in an ordered map
// so GetAllSessions lists them in creation order.
type sessionTrackerImpl struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel

	sessions *orderedmap.OrderedMap[string, *domain.BulkSession]
	mu       sync.Mutex
}

func NewSessionTracker(atom *zap.AtomicLevel) domain.SessionTracker {
	tracker := &sessionTrackerImpl{
		atom:     atom,
		sessions: orderedmap.NewOrderedMap[string, *domain.BulkSession](),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for session tracker")
	}

	tracker.logger = logger
	tracker.sugaredLogger = logger.Sugar()

	return tracker
}

func (t *sessionTrackerImpl) CreateSession(kind string, action string, totalCount int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	session := &domain.BulkSession{
		Id:         uuid.NewString(),
		Kind:       kind,
		Action:     action,
		Status:     domain.SessionRunning,
		TotalCount: totalCount,
		StartTime:  time.Now(),
		Operations: make([]*domain.BulkOperation, 0, totalCount),
	}

	t.sessions.Set(session.Id, session)

	t.logger.Debug("Created new bulk session.",
		zap.String("session_id", session.Id),
		zap.String("kind", kind),
		zap.String("action", action),
		zap.Int("total_count", totalCount))

	return session.Id
}

func (t *sessionTrackerImpl) AddOperation(sessionId string, kind string, action string, label string, activityId string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return "", fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	operation := &domain.BulkOperation{
		Id:         uuid.NewString(),
		Kind:       kind,
		Action:     action,
		Label:      label,
		Status:     domain.OperationQueued,
		ActivityId: activityId,
	}

	session.Operations = append(session.Operations, operation)

	return operation.Id, nil
}

func (t *sessionTrackerImpl) UpdateOperation(sessionId string, operationId string, update *domain.OperationUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	operation := t.unsafeFindOperation(session, operationId)
	if operation == nil {
		return fmt.Errorf("%w: \"%s\"", domain.ErrOperationNotFound, operationId)
	}

	if update.Status != "" && update.Status != operation.Status {
		// Terminal operation statuses never change again.
		if operation.Status.Terminal() {
			t.logger.Warn("Discarding status update for operation that already reached a terminal status.",
				zap.String("session_id", sessionId),
				zap.String("operation_id", operationId),
				zap.String("current_status", operation.Status.String()),
				zap.String("requested_status", update.Status.String()))
			return nil
		}

		operation.Status = update.Status
	}

	if update.StartTime != nil {
		operation.StartTime = update.StartTime
	}
	if update.EndTime != nil {
		operation.EndTime = update.EndTime
	}
	if update.Request != nil {
		operation.Request = update.Request
	}
	if update.Result != nil {
		operation.Result = update.Result
	}
	if update.Error != nil {
		operation.Error = *update.Error
	}
	if update.ActivityId != nil {
		operation.ActivityId = *update.ActivityId
	}

	if operation.StartTime != nil && operation.EndTime != nil {
		durationMillis := operation.EndTime.Sub(*operation.StartTime).Milliseconds()
		operation.DurationMillis = &durationMillis
	}

	t.unsafeRecomputeCounters(session)

	return nil
}

func (t *sessionTrackerImpl) CancelSession(sessionId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	if session.Status.Terminal() {
		t.logger.Error("Cannot cancel bulk session that has already finished.",
			zap.String("session_id", sessionId),
			zap.String("session_status", session.Status.String()))
		return fmt.Errorf("%w: \"%s\" is %s", domain.ErrSessionNotRunning, sessionId, session.Status)
	}

	session.Status = domain.SessionCancelled

	// Sweep every still-queued operation to 'cancelled'. Operations that are already
	// running are left to finish naturally; their outcomes are recorded as usual.
	now := time.Now()
	numSwept := 0
	for _, operation := range session.Operations {
		if operation.Status == domain.OperationQueued {
			operation.Status = domain.OperationCancelled
			operation.EndTime = &now
			numSwept++
		}
	}

	if session.EndTime == nil {
		session.EndTime = &now
	}

	t.unsafeRecomputeCounters(session)

	t.logger.Debug("Cancelled bulk session.",
		zap.String("session_id", sessionId),
		zap.Int("num_operations_swept", numSwept))

	return nil
}

func (t *sessionTrackerImpl) PauseSession(sessionId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	if session.Status != domain.SessionRunning {
		t.logger.Error("Cannot pause bulk session. Session is not running.",
			zap.String("session_id", sessionId),
			zap.String("session_status", session.Status.String()))
		return fmt.Errorf("%w: \"%s\" is %s", domain.ErrSessionNotRunning, sessionId, session.Status)
	}

	session.Status = domain.SessionPaused
	return nil
}

func (t *sessionTrackerImpl) ResumeSession(sessionId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	// Resuming is a no-op unless the session is exactly 'paused'.
	if session.Status != domain.SessionPaused {
		return fmt.Errorf("%w: \"%s\" is %s", domain.ErrSessionNotPaused, sessionId, session.Status)
	}

	session.Status = domain.SessionRunning
	return nil
}

func (t *sessionTrackerImpl) GetSession(sessionId string) (*domain.BulkSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return nil, fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	return session.Clone(), nil
}

func (t *sessionTrackerImpl) GetOperations(sessionId string) ([]*domain.BulkOperation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return nil, fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	operations := make([]*domain.BulkOperation, 0, len(session.Operations))
	for _, operation := range session.Operations {
		operations = append(operations, operation.Clone())
	}

	return operations, nil
}

func (t *sessionTrackerImpl) GetProgress(sessionId string) (*domain.SessionProgress, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions.Get(sessionId)
	if !ok {
		return nil, fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	progress := &domain.SessionProgress{
		SessionId: session.Id,
		Status:    session.Status,
		Total:     session.TotalCount,
	}

	for _, operation := range session.Operations {
		switch operation.Status {
		case domain.OperationSuccess:
			progress.Success++
		case domain.OperationFailed:
			progress.Failed++
		case domain.OperationCancelled:
			progress.Cancelled++
		case domain.OperationRunning:
			progress.Running++
		case domain.OperationQueued:
			progress.Queued++
		}
	}

	progress.Completed = progress.Success + progress.Failed + progress.Cancelled
	if progress.Total > 0 {
		progress.Percent = float64(progress.Completed) / float64(progress.Total) * 100.0
	}

	return progress, nil
}

func (t *sessionTrackerImpl) GetAllSessions() []*domain.BulkSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	sessions := make([]*domain.BulkSession, 0, t.sessions.Len())
	for el := t.sessions.Front(); el != nil; el = el.Next() {
		sessions = append(sessions, el.Value.Clone())
	}

	return sessions
}

func (t *sessionTrackerImpl) DeleteSession(sessionId string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions.Get(sessionId); !ok {
		return fmt.Errorf("%w: \"%s\"", domain.ErrSessionNotFound, sessionId)
	}

	t.sessions.Delete(sessionId)

	t.logger.Debug("Deleted bulk session.", zap.String("session_id", sessionId))
	return nil
}

func (t *sessionTrackerImpl) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	numSessions := t.sessions.Len()
	t.sessions = orderedmap.NewOrderedMap[string, *domain.BulkSession]()

	t.logger.Debug("Cleared all bulk sessions.", zap.Int("num_sessions", numSessions))
}

// unsafeFindOperation must be called with the tracker's mutex held.
func (t *sessionTrackerImpl) unsafeFindOperation(session *domain.BulkSession, operationId string) *domain.BulkOperation {
	for _, operation := range session.Operations {
		if operation.Id == operationId {
			return operation
		}
	}

	return nil
}

// unsafeRecomputeCounters rescans the session's operations, refreshes the aggregate
// counters, and completes the session once every operation is terminal. Must be called
// with the tracker's mutex held.
//
// Recomputation on an already-completed (or cancelled) session only refreshes the
// counters; the status and end time are stamped exactly once.
func (t *sessionTrackerImpl) unsafeRecomputeCounters(session *domain.BulkSession) {
	var numSuccess, numFailed, numCancelled int
	for _, operation := range session.Operations {
		switch operation.Status {
		case domain.OperationSuccess:
			numSuccess++
		case domain.OperationFailed:
			numFailed++
		case domain.OperationCancelled:
			numCancelled++
		}
	}

	session.SuccessCount = numSuccess
	session.FailureCount = numFailed
	session.CancelledCount = numCancelled

	if session.Status.Terminal() {
		return
	}

	if numSuccess+numFailed+numCancelled == session.TotalCount && session.TotalCount == len(session.Operations) {
		session.Status = domain.SessionCompleted

		if session.EndTime == nil {
			now := time.Now()
			session.EndTime = &now
		}

		t.logger.Debug("Bulk session completed.",
			zap.String("session_id", session.Id),
			zap.Int("success_count", numSuccess),
			zap.Int("failure_count", numFailed),
			zap.Int("cancelled_count", numCancelled))
	}
}
