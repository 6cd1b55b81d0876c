package bulkops_test

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SessionTracker Tests", func() {
	var tracker domain.SessionTracker

	BeforeEach(func() {
		tracker = bulkops.NewSessionTracker(&atom)
	})

	markTerminal := func(sessionId string, operationId string, status domain.OperationStatus) {
		start := time.Now()
		end := start.Add(time.Millisecond * 25)

		err := tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
			Status:    domain.OperationRunning,
			StartTime: &start,
		})
		Expect(err).To(BeNil())

		err = tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
			Status:  status,
			EndTime: &end,
		})
		Expect(err).To(BeNil())
	}

	It("Can create a session with the expected initial state", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 3)
		Expect(sessionId).ToNot(BeEmpty())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionRunning))
		Expect(session.TotalCount).To(Equal(3))
		Expect(session.SuccessCount).To(Equal(0))
		Expect(session.FailureCount).To(Equal(0))
		Expect(session.CancelledCount).To(Equal(0))
		Expect(session.Operations).To(BeEmpty())
		Expect(session.EndTime).To(BeNil())
	})

	It("Will return an error for unknown session ids", func() {
		_, err := tracker.GetSession("no-such-session")
		Expect(err).To(MatchError(domain.ErrSessionNotFound))

		_, err = tracker.AddOperation("no-such-session", domain.KindVenue, domain.ActionCreate, "venue-0001", "")
		Expect(err).To(MatchError(domain.ErrSessionNotFound))

		_, err = tracker.GetProgress("no-such-session")
		Expect(err).To(MatchError(domain.ErrSessionNotFound))

		Expect(tracker.PauseSession("no-such-session")).To(MatchError(domain.ErrSessionNotFound))
		Expect(tracker.DeleteSession("no-such-session")).To(MatchError(domain.ErrSessionNotFound))
	})

	It("Will add operations as queued, in submission order", func() {
		sessionId := tracker.CreateSession(domain.KindNetwork, domain.ActionCreate, 2)

		firstId, err := tracker.AddOperation(sessionId, domain.KindNetwork, domain.ActionCreate, "net-0001", "")
		Expect(err).To(BeNil())
		secondId, err := tracker.AddOperation(sessionId, domain.KindNetwork, domain.ActionCreate, "net-0002", "")
		Expect(err).To(BeNil())

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations).To(HaveLen(2))
		Expect(operations[0].Id).To(Equal(firstId))
		Expect(operations[1].Id).To(Equal(secondId))
		Expect(operations[0].Status).To(Equal(domain.OperationQueued))
		Expect(operations[1].Status).To(Equal(domain.OperationQueued))
	})

	It("Will complete the session once every operation is terminal", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 3)

		operationIds := make([]string, 0, 3)
		for _, label := range []string{"venue-0001", "venue-0002", "venue-0003"} {
			operationId, err := tracker.AddOperation(sessionId, domain.KindVenue, domain.ActionCreate, label, "")
			Expect(err).To(BeNil())
			operationIds = append(operationIds, operationId)
		}

		markTerminal(sessionId, operationIds[0], domain.OperationSuccess)
		markTerminal(sessionId, operationIds[1], domain.OperationSuccess)

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionRunning))

		markTerminal(sessionId, operationIds[2], domain.OperationFailed)

		session, err = tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCompleted))
		Expect(session.SuccessCount).To(Equal(2))
		Expect(session.FailureCount).To(Equal(1))
		Expect(session.EndTime).ToNot(BeNil())

		progress, err := tracker.GetProgress(sessionId)
		Expect(err).To(BeNil())
		Expect(progress.Completed).To(Equal(3))
		Expect(progress.Success).To(Equal(2))
		Expect(progress.Failed).To(Equal(1))
		Expect(progress.Percent).To(Equal(100.0))
	})

	It("Will compute the operation duration once both timestamps are present", func() {
		sessionId := tracker.CreateSession(domain.KindDevice, domain.ActionActivate, 1)
		operationId, err := tracker.AddOperation(sessionId, domain.KindDevice, domain.ActionActivate, "dev-0001", "")
		Expect(err).To(BeNil())

		start := time.Now()
		end := start.Add(time.Millisecond * 150)

		err = tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
			Status:    domain.OperationRunning,
			StartTime: &start,
		})
		Expect(err).To(BeNil())

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations[0].DurationMillis).To(BeNil())

		err = tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
			Status:  domain.OperationSuccess,
			EndTime: &end,
		})
		Expect(err).To(BeNil())

		operations, err = tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations[0].DurationMillis).ToNot(BeNil())
		Expect(*operations[0].DurationMillis).To(Equal(int64(150)))
	})

	It("Will never change an operation that already reached a terminal status", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionDelete, 1)
		operationId, err := tracker.AddOperation(sessionId, domain.KindVenue, domain.ActionDelete, "venue-0001", "")
		Expect(err).To(BeNil())

		markTerminal(sessionId, operationId, domain.OperationFailed)

		err = tracker.UpdateOperation(sessionId, operationId, &domain.OperationUpdate{
			Status: domain.OperationSuccess,
		})
		Expect(err).To(BeNil())

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations[0].Status).To(Equal(domain.OperationFailed))
	})

	It("Will sweep queued operations to cancelled when the session is cancelled", func() {
		sessionId := tracker.CreateSession(domain.KindDevice, domain.ActionCreate, 4)

		operationIds := make([]string, 0, 4)
		for _, label := range []string{"dev-0001", "dev-0002", "dev-0003", "dev-0004"} {
			operationId, err := tracker.AddOperation(sessionId, domain.KindDevice, domain.ActionCreate, label, "")
			Expect(err).To(BeNil())
			operationIds = append(operationIds, operationId)
		}

		// One finished, one in flight, two still queued.
		markTerminal(sessionId, operationIds[0], domain.OperationSuccess)

		start := time.Now()
		err := tracker.UpdateOperation(sessionId, operationIds[1], &domain.OperationUpdate{
			Status:    domain.OperationRunning,
			StartTime: &start,
		})
		Expect(err).To(BeNil())

		Expect(tracker.CancelSession(sessionId)).To(Succeed())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCancelled))
		Expect(session.EndTime).ToNot(BeNil())
		Expect(session.CancelledCount).To(Equal(2))

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations[1].Status).To(Equal(domain.OperationRunning))
		Expect(operations[2].Status).To(Equal(domain.OperationCancelled))
		Expect(operations[3].Status).To(Equal(domain.OperationCancelled))
		Expect(operations[2].EndTime).ToNot(BeNil())

		// The in-flight operation finishes naturally; its outcome is still recorded.
		end := time.Now()
		err = tracker.UpdateOperation(sessionId, operationIds[1], &domain.OperationUpdate{
			Status:  domain.OperationSuccess,
			EndTime: &end,
		})
		Expect(err).To(BeNil())

		session, err = tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCancelled))
		Expect(session.SuccessCount).To(Equal(2))
	})

	It("Will reject cancelling a session that already finished", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 1)
		operationId, err := tracker.AddOperation(sessionId, domain.KindVenue, domain.ActionCreate, "venue-0001", "")
		Expect(err).To(BeNil())

		markTerminal(sessionId, operationId, domain.OperationSuccess)

		Expect(tracker.CancelSession(sessionId)).To(MatchError(domain.ErrSessionNotRunning))
	})

	It("Will pause and resume a running session", func() {
		sessionId := tracker.CreateSession(domain.KindNetwork, domain.ActionDelete, 1)

		Expect(tracker.PauseSession(sessionId)).To(Succeed())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionPaused))

		// Pausing a paused session is an illegal transition.
		Expect(tracker.PauseSession(sessionId)).To(MatchError(domain.ErrSessionNotRunning))

		Expect(tracker.ResumeSession(sessionId)).To(Succeed())

		session, err = tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionRunning))

		// As is resuming a running session.
		Expect(tracker.ResumeSession(sessionId)).To(MatchError(domain.ErrSessionNotPaused))
	})

	It("Will store an activity id supplied at registration time", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 1)

		operationId, err := tracker.AddOperation(sessionId, domain.KindVenue, domain.ActionCreate, "venue-0001", "act-789")
		Expect(err).To(BeNil())

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations[0].Id).To(Equal(operationId))
		Expect(operations[0].ActivityId).To(Equal("act-789"))
	})

	It("Will return snapshots that are isolated from the live registry", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 1)
		operationId, err := tracker.AddOperation(sessionId, domain.KindVenue, domain.ActionCreate, "venue-0001", "")
		Expect(err).To(BeNil())

		before, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())

		markTerminal(sessionId, operationId, domain.OperationSuccess)

		// The earlier snapshot is untouched by the update.
		Expect(before.Status).To(Equal(domain.SessionRunning))
		Expect(before.SuccessCount).To(Equal(0))
		Expect(before.Operations[0].Status).To(Equal(domain.OperationQueued))

		// Mutating a snapshot never reaches the registry.
		after, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		after.Status = domain.SessionCancelled
		after.Operations[0].Status = domain.OperationFailed

		current, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(current.Status).To(Equal(domain.SessionCompleted))
		Expect(current.Operations[0].Status).To(Equal(domain.OperationSuccess))
	})

	It("Will let readers serialize sessions while operations are being updated", func() {
		sessionId := tracker.CreateSession(domain.KindDevice, domain.ActionCreate, 25)

		operationIds := make([]string, 0, 25)
		for i := 1; i <= 25; i++ {
			operationId, err := tracker.AddOperation(sessionId, domain.KindDevice, domain.ActionCreate, fmt.Sprintf("dev-%04d", i), "")
			Expect(err).To(BeNil())
			operationIds = append(operationIds, operationId)
		}

		writersDone := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(writersDone)

			for _, operationId := range operationIds {
				markTerminal(sessionId, operationId, domain.OperationSuccess)
			}
		}()

		for {
			session, err := tracker.GetSession(sessionId)
			Expect(err).To(BeNil())

			_, err = json.Marshal(session)
			Expect(err).To(BeNil())

			select {
			case <-writersDone:
				session, err = tracker.GetSession(sessionId)
				Expect(err).To(BeNil())
				Expect(session.Status).To(Equal(domain.SessionCompleted))
				Expect(session.SuccessCount).To(Equal(25))
				return
			default:
			}
		}
	})

	It("Will report zero percent for a session with no items", func() {
		sessionId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 0)

		progress, err := tracker.GetProgress(sessionId)
		Expect(err).To(BeNil())
		Expect(progress.Total).To(Equal(0))
		Expect(progress.Percent).To(Equal(0.0))
	})

	It("Will list sessions in creation order and delete them individually", func() {
		firstId := tracker.CreateSession(domain.KindVenue, domain.ActionCreate, 1)
		secondId := tracker.CreateSession(domain.KindNetwork, domain.ActionCreate, 1)
		thirdId := tracker.CreateSession(domain.KindDevice, domain.ActionCreate, 1)

		sessions := tracker.GetAllSessions()
		Expect(sessions).To(HaveLen(3))
		Expect(sessions[0].Id).To(Equal(firstId))
		Expect(sessions[1].Id).To(Equal(secondId))
		Expect(sessions[2].Id).To(Equal(thirdId))

		Expect(tracker.DeleteSession(secondId)).To(Succeed())

		sessions = tracker.GetAllSessions()
		Expect(sessions).To(HaveLen(2))
		Expect(sessions[0].Id).To(Equal(firstId))
		Expect(sessions[1].Id).To(Equal(thirdId))

		_, err := tracker.GetSession(secondId)
		Expect(err).To(MatchError(domain.ErrSessionNotFound))

		tracker.ClearAll()
		Expect(tracker.GetAllSessions()).To(BeEmpty())
	})
})
