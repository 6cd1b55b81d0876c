package bulkops_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func makeItems(prefix string, count int) []domain.BatchItem {
	items := make([]domain.BatchItem, 0, count)
	for i := 1; i <= count; i++ {
		items = append(items, domain.BatchItem{
			Label:   fmt.Sprintf("%s-%04d", prefix, i),
			Payload: map[string]string{"name": fmt.Sprintf("%s-%04d", prefix, i)},
		})
	}

	return items
}

var _ = Describe("BatchOrchestrator Tests", func() {
	var (
		tracker      domain.SessionTracker
		orchestrator *bulkops.BatchOrchestrator
	)

	BeforeEach(func() {
		tracker = bulkops.NewSessionTracker(&atom)
		orchestrator = bulkops.NewBatchOrchestrator(tracker, testConfig(), &atom)
	})

	It("Will reject an invalid concurrency bound without creating a session", func() {
		_, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 3),
			domain.BatchOptions{MaxConcurrent: 0}, func(item domain.BatchItem) (interface{}, error) {
				return nil, nil
			}, nil, nil)

		Expect(err).To(MatchError(domain.ErrInvalidConcurrency))
		Expect(tracker.GetAllSessions()).To(BeEmpty())
	})

	It("Will reject an empty batch", func() {
		_, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, nil,
			domain.BatchOptions{MaxConcurrent: 2}, func(item domain.BatchItem) (interface{}, error) {
				return nil, nil
			}, nil, nil)

		Expect(err).To(MatchError(domain.ErrInvalidState))
	})

	It("Will return the session id immediately with every operation pre-registered", func() {
		release := make(chan struct{})

		sessionId, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 5),
			domain.BatchOptions{MaxConcurrent: 2}, func(item domain.BatchItem) (interface{}, error) {
				<-release
				return nil, nil
			}, nil, nil)
		Expect(err).To(BeNil())
		Expect(sessionId).ToNot(BeEmpty())

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		Expect(operations).To(HaveLen(5))

		close(release)
		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())
	})

	It("Will drive a batch with mixed outcomes to completion", func() {
		remoteFn := func(item domain.BatchItem) (interface{}, error) {
			if item.Label == "venue-0002" {
				return nil, errors.New(`{"errors":[{"message":"venue name already in use"}]}`)
			}
			return map[string]string{"created": item.Label}, nil
		}

		sessionId, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 3),
			domain.BatchOptions{MaxConcurrent: 3}, remoteFn, nil, nil)
		Expect(err).To(BeNil())

		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCompleted))
		Expect(session.SuccessCount).To(Equal(2))
		Expect(session.FailureCount).To(Equal(1))

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		for _, operation := range operations {
			if operation.Label == "venue-0002" {
				Expect(operation.Status).To(Equal(domain.OperationFailed))
				Expect(operation.Error).To(Equal("venue name already in use"))
			} else {
				Expect(operation.Status).To(Equal(domain.OperationSuccess))
				Expect(operation.StartTime).ToNot(BeNil())
				Expect(operation.EndTime).ToNot(BeNil())
				Expect(operation.DurationMillis).ToNot(BeNil())
			}
		}

		progress, err := tracker.GetProgress(sessionId)
		Expect(err).To(BeNil())
		Expect(progress.Percent).To(Equal(100.0))
	})

	It("Will never exceed the requested concurrency", func() {
		var inFlight atomic.Int32
		var maxObserved atomic.Int32

		remoteFn := func(item domain.BatchItem) (interface{}, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)

			for {
				observed := maxObserved.Load()
				if current <= observed || maxObserved.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(time.Millisecond * 10)
			return nil, nil
		}

		sessionId, err := orchestrator.Start(domain.KindDevice, domain.ActionActivate, makeItems("dev", 12),
			domain.BatchOptions{MaxConcurrent: 3}, remoteFn, nil, nil)
		Expect(err).To(BeNil())

		Eventually(orchestrator.Done(sessionId), "10s").Should(BeClosed())

		Expect(maxObserved.Load()).To(BeNumerically("<=", 3))

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.SuccessCount).To(Equal(12))
	})

	It("Will sweep the whole batch when cancelled before any item starts", func() {
		gate := make(chan struct{})

		var started atomic.Int32
		remoteFn := func(item domain.BatchItem) (interface{}, error) {
			started.Add(1)
			<-gate
			return nil, nil
		}

		sessionId, err := orchestrator.Start(domain.KindNetwork, domain.ActionCreate, makeItems("net", 6),
			domain.BatchOptions{MaxConcurrent: 1}, remoteFn, nil, nil)
		Expect(err).To(BeNil())

		// Wait for the first item to be in flight, then cancel the session.
		Eventually(func() int32 { return started.Load() }, "5s").Should(Equal(int32(1)))
		Expect(tracker.CancelSession(sessionId)).To(Succeed())

		close(gate)
		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCancelled))
		Expect(session.SuccessCount).To(Equal(1))
		Expect(session.CancelledCount).To(Equal(5))

		// Only the first item ever reached the remote service.
		Expect(started.Load()).To(Equal(int32(1)))
	})

	It("Will gate queued items while the session is paused", func() {
		var completed atomic.Int32
		remoteFn := func(item domain.BatchItem) (interface{}, error) {
			completed.Add(1)
			return nil, nil
		}

		// With a single permit and a paused session, queued items must hold their
		// position until the session resumes. The first item signals once it is in
		// flight so the pause provably lands while it holds the permit.
		started := make(chan struct{})
		gate := make(chan struct{})
		first := true
		gatedFn := func(item domain.BatchItem) (interface{}, error) {
			if first {
				first = false
				close(started)
				<-gate
			}
			return remoteFn(item)
		}

		batchId, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 4),
			domain.BatchOptions{MaxConcurrent: 1}, gatedFn, nil, nil)
		Expect(err).To(BeNil())

		By("pausing the session while the first item is still in flight")
		Eventually(started, "5s").Should(BeClosed())
		Expect(tracker.PauseSession(batchId)).To(Succeed())
		close(gate)

		By("letting the in-flight item finish while the rest hold their position")
		Eventually(func() int32 { return completed.Load() }, "5s").Should(Equal(int32(1)))
		Consistently(func() int32 { return completed.Load() }, "200ms").Should(Equal(int32(1)))

		session, getErr := tracker.GetSession(batchId)
		Expect(getErr).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionPaused))

		By("resuming the session")
		Expect(tracker.ResumeSession(batchId)).To(Succeed())

		Eventually(orchestrator.Done(batchId), "5s").Should(BeClosed())
		Expect(completed.Load()).To(Equal(int32(4)))

		session, getErr = tracker.GetSession(batchId)
		Expect(getErr).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCompleted))
		Expect(session.SuccessCount).To(Equal(4))
	})

	It("Will mark an operation failed when the remote action panics", func() {
		remoteFn := func(item domain.BatchItem) (interface{}, error) {
			if item.Label == "venue-0001" {
				panic("unexpected nil pointer somewhere downstream")
			}
			return nil, nil
		}

		sessionId, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 2),
			domain.BatchOptions{MaxConcurrent: 2}, remoteFn, nil, nil)
		Expect(err).To(BeNil())

		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())

		session, err := tracker.GetSession(sessionId)
		Expect(err).To(BeNil())
		Expect(session.Status).To(Equal(domain.SessionCompleted))
		Expect(session.SuccessCount).To(Equal(1))
		Expect(session.FailureCount).To(Equal(1))

		operations, err := tracker.GetOperations(sessionId)
		Expect(err).To(BeNil())
		for _, operation := range operations {
			if operation.Label == "venue-0001" {
				Expect(operation.Status).To(Equal(domain.OperationFailed))
				Expect(operation.Error).To(ContainSubstring("internal error"))
			}
		}
	})

	It("Will return nil from Done for sessions it never started", func() {
		Expect(orchestrator.Done("no-such-session")).To(BeNil())
	})

	It("Will release the completion channel when a session is forgotten", func() {
		sessionId, err := orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 2),
			domain.BatchOptions{MaxConcurrent: 2}, func(item domain.BatchItem) (interface{}, error) {
				return nil, nil
			}, nil, nil)
		Expect(err).To(BeNil())

		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())

		orchestrator.Forget(sessionId)
		Expect(orchestrator.Done(sessionId)).To(BeNil())

		// ForgetAll leaves nothing behind either.
		sessionId, err = orchestrator.Start(domain.KindVenue, domain.ActionCreate, makeItems("venue", 1),
			domain.BatchOptions{MaxConcurrent: 1}, func(item domain.BatchItem) (interface{}, error) {
				return nil, nil
			}, nil, nil)
		Expect(err).To(BeNil())

		Eventually(orchestrator.Done(sessionId), "5s").Should(BeClosed())
		orchestrator.ForgetAll()
		Expect(orchestrator.Done(sessionId)).To(BeNil())
	})
})
