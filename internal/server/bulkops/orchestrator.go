package bulkops

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BatchOrchestrator accepts batch requests and drives their items to completion in
// the background.
//
// Each item executes in its own goroutine, bounded by a per-batch ConcurrencyLimiter.
// Item goroutines observe pause and cancellation cooperatively by polling the
// SessionTracker between the queued and running phases; an operation that has already
// started is never interrupted. The orchestrator itself keeps no lifecycle state of
// its own beyond the completion channels; the tracker is the single source of truth.
type BatchOrchestrator struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel

	tracker domain.SessionTracker

	// pausePollInterval is how long an item goroutine sleeps between re-checks of a
	// paused session.
	pausePollInterval time.Duration

	// doneChans maps session id to a channel closed once every item goroutine of that
	// batch has returned.
	doneChans map[string]chan struct{}
	mu        sync.Mutex
}

func NewBatchOrchestrator(tracker domain.SessionTracker, opts *domain.Configuration, atom *zap.AtomicLevel) *BatchOrchestrator {
	if tracker == nil {
		panic("cannot create batch orchestrator with nil session tracker")
	}

	orchestrator := &BatchOrchestrator{
		atom:              atom,
		tracker:           tracker,
		pausePollInterval: time.Millisecond * time.Duration(opts.PausePollIntervalMillis),
		doneChans:         make(map[string]chan struct{}),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for batch orchestrator")
	}

	orchestrator.logger = logger
	orchestrator.sugaredLogger = logger.Sugar()

	return orchestrator
}

// Start validates the batch bounds, registers the session and all of its operations with
// the tracker, and launches the background execution. It returns the new session id
// immediately; callers observe progress through the tracker.
func (o *BatchOrchestrator) Start(kind string, action string, items []domain.BatchItem,
	opts domain.BatchOptions, remoteFn domain.RemoteActionFn,
	resultNormalizer domain.ResultNormalizer, errorNormalizer domain.ErrorNormalizer) (string, error) {

	if remoteFn == nil {
		panic("cannot start batch with nil remote action")
	}
	if errorNormalizer == nil {
		errorNormalizer = NormalizeRemoteError
	}
	if resultNormalizer == nil {
		resultNormalizer = NormalizeRemoteResult
	}

	// Construct the limiter before touching the tracker so an invalid concurrency
	// bound fails the request without leaving a half-created session behind.
	limiter, err := NewConcurrencyLimiter(opts.MaxConcurrent)
	if err != nil {
		return "", err
	}

	if len(items) == 0 {
		return "", fmt.Errorf("%w: batch contains no items", domain.ErrInvalidState)
	}
	if opts.DelayMillis < 0 {
		return "", fmt.Errorf("%w: negative delay_ms %d", domain.ErrInvalidState, opts.DelayMillis)
	}

	sessionId := o.tracker.CreateSession(kind, action, len(items))
	metrics.SessionsCreated.WithLabelValues(kind, action).Inc()

	// Pre-register every operation as 'queued' so the full shape of the batch is
	// visible to readers before the first remote call goes out.
	operationIds := make([]string, 0, len(items))
	for _, item := range items {
		operationId, addErr := o.tracker.AddOperation(sessionId, kind, action, item.Label, "")
		if addErr != nil {
			// The session was created a few lines up; this cannot happen unless the
			// tracker is broken.
			panic(addErr)
		}

		operationIds = append(operationIds, operationId)
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.doneChans[sessionId] = done
	o.mu.Unlock()

	o.logger.Debug("Starting bulk batch.",
		zap.String("session_id", sessionId),
		zap.String("kind", kind),
		zap.String("action", action),
		zap.Int("num_items", len(items)),
		zap.Int("max_concurrent", opts.MaxConcurrent),
		zap.Int64("delay_ms", opts.DelayMillis))

	var wg sync.WaitGroup
	var started int32
	delay := time.Millisecond * time.Duration(opts.DelayMillis)

	for idx, item := range items {
		wg.Add(1)
		go o.driveItem(&wg, sessionId, operationIds[idx], item, limiter, delay, &started, remoteFn, resultNormalizer, errorNormalizer)
	}

	go func() {
		wg.Wait()
		close(done)

		o.logger.Debug("Bulk batch finished.", zap.String("session_id", sessionId))
	}()

	return sessionId, nil
}

// Done returns a channel closed once every item goroutine of the given session has
// returned, or nil if the orchestrator never started such a session (or the session
// was forgotten).
func (o *BatchOrchestrator) Done(sessionId string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.doneChans[sessionId]
}

// Forget drops the completion channel for the given session. Called when the session is
// deleted from the tracker; the doneChans map would otherwise grow for the lifetime of
// the process. Any channel handed out earlier still closes normally.
func (o *BatchOrchestrator) Forget(sessionId string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.doneChans, sessionId)
}

// ForgetAll drops every completion channel. Called when the tracker is cleared.
func (o *BatchOrchestrator) ForgetAll() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.doneChans = make(map[string]chan struct{})
}

// driveItem runs one batch item from queued to a terminal status. It never propagates
// panics; a panicking remote action marks its operation failed and the rest of the batch
// continues.
func (o *BatchOrchestrator) driveItem(wg *sync.WaitGroup, sessionId string, operationId string,
	item domain.BatchItem, limiter *ConcurrencyLimiter, delay time.Duration, started *int32,
	remoteFn domain.RemoteActionFn, resultNormalizer domain.ResultNormalizer, errorNormalizer domain.ErrorNormalizer) {

	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovered from panic while executing bulk operation.",
				zap.String("session_id", sessionId),
				zap.String("operation_id", operationId),
				zap.Any("panic", r))

			now := time.Now()
			message := fmt.Sprintf("internal error: %v", r)
			_ = o.tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
				Status:  domain.OperationFailed,
				EndTime: &now,
				Error:   &message,
			})
		}
	}()

	// Best-effort pacing. The first item to start is exempt; everyone else yields the
	// configured courtesy delay before contending for a permit.
	if delay > 0 && !atomic.CompareAndSwapInt32(started, 0, 1) {
		time.Sleep(delay)
	}

	if !o.awaitRunnable(sessionId, operationId) {
		return
	}

	limiter.Acquire()
	defer func() {
		if err := limiter.Release(); err != nil {
			panic(err)
		}
	}()

	// The session may have been paused or cancelled while this goroutine was blocked
	// on the limiter. Re-check before committing to the remote call.
	if !o.awaitRunnable(sessionId, operationId) {
		return
	}

	session, err := o.tracker.GetSession(sessionId)
	if err != nil || session.Status == domain.SessionCancelled {
		return
	}

	startTime := time.Now()
	if err = o.tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
		Status:    domain.OperationRunning,
		StartTime: &startTime,
		Request:   item.Payload,
	}); err != nil {
		o.logger.Error("Failed to mark bulk operation as running.",
			zap.String("session_id", sessionId),
			zap.String("operation_id", operationId),
			zap.Error(err))
		return
	}

	// The cancel sweep may have flipped this operation to 'cancelled' between the
	// runnable check and the update above; the tracker's terminal-status guard
	// discards the update in that case, and the remote call must not go out.
	operation := o.findOperation(sessionId, operationId)
	if operation == nil || operation.Status != domain.OperationRunning {
		return
	}

	metrics.OperationsInFlight.Inc()
	result, remoteErr := remoteFn(item)
	metrics.OperationsInFlight.Dec()

	endTime := time.Now()
	durationMillis := endTime.Sub(startTime).Milliseconds()
	metrics.OperationDuration.WithLabelValues(operation.Kind, operation.Action).Observe(float64(durationMillis))

	if remoteErr != nil {
		outcome := errorNormalizer(remoteErr)

		update := &domain.OperationUpdate{
			Status:  domain.OperationFailed,
			EndTime: &endTime,
			Error:   &outcome.Message,
		}
		if outcome.ActivityId != "" {
			update.ActivityId = &outcome.ActivityId
		}
		if outcome.Details != nil {
			update.Result = outcome.Details
		}

		if err = o.tracker.UpdateOperation(sessionId, operationId, update); err != nil {
			o.logger.Error("Failed to record bulk operation failure.",
				zap.String("session_id", sessionId),
				zap.String("operation_id", operationId),
				zap.Error(err))
		}

		metrics.OperationsCompleted.WithLabelValues(operation.Kind, operation.Action, domain.OperationFailed.String()).Inc()

		o.logger.Debug("Bulk operation failed.",
			zap.String("session_id", sessionId),
			zap.String("operation_id", operationId),
			zap.String("label", item.Label),
			zap.String("error_message", outcome.Message),
			zap.Int64("duration_ms", durationMillis))
		return
	}

	outcome := resultNormalizer(result)

	update := &domain.OperationUpdate{
		Status:  domain.OperationSuccess,
		EndTime: &endTime,
	}
	if outcome.Details != nil {
		update.Result = outcome.Details
	}
	if outcome.ActivityId != "" {
		update.ActivityId = &outcome.ActivityId
	}

	if err = o.tracker.UpdateOperation(sessionId, operationId, update); err != nil {
		o.logger.Error("Failed to record bulk operation success.",
			zap.String("session_id", sessionId),
			zap.String("operation_id", operationId),
			zap.Error(err))
	}

	metrics.OperationsCompleted.WithLabelValues(operation.Kind, operation.Action, domain.OperationSuccess.String()).Inc()

	o.logger.Debug("Bulk operation succeeded.",
		zap.String("session_id", sessionId),
		zap.String("operation_id", operationId),
		zap.String("label", item.Label),
		zap.Int64("duration_ms", durationMillis))
}

// awaitRunnable blocks until the session is running, polling while it is paused.
// Returns false when the item should not execute: the session was cancelled (the cancel
// sweep already stamped the operation), deleted, or reached a terminal status.
func (o *BatchOrchestrator) awaitRunnable(sessionId string, operationId string) bool {
	for {
		session, err := o.tracker.GetSession(sessionId)
		if err != nil {
			if !errors.Is(err, domain.ErrSessionNotFound) {
				o.logger.Error("Failed to look up bulk session.",
					zap.String("session_id", sessionId), zap.Error(err))
			}
			return false
		}

		switch session.Status {
		case domain.SessionRunning:
			return true
		case domain.SessionPaused:
			time.Sleep(o.pausePollInterval)
		default:
			return false
		}

		// While paused, the operation itself may have been swept by a cancellation.
		operation := o.findOperation(sessionId, operationId)
		if operation == nil || operation.Status.Terminal() {
			return false
		}
	}
}

func (o *BatchOrchestrator) findOperation(sessionId string, operationId string) *domain.BulkOperation {
	operations, err := o.tracker.GetOperations(sessionId)
	if err != nil {
		return nil
	}

	for _, operation := range operations {
		if operation.Id == operationId {
			return operation
		}
	}

	return nil
}
