package bulkops_test

import (
	"sync"
	"sync/atomic"

	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server/bulkops"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ConcurrencyLimiter Tests", func() {
	It("Cannot be instantiated with a non-positive capacity", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(0)
		Expect(limiter).To(BeNil())
		Expect(err).To(MatchError(domain.ErrInvalidConcurrency))

		limiter, err = bulkops.NewConcurrencyLimiter(-3)
		Expect(limiter).To(BeNil())
		Expect(err).To(MatchError(domain.ErrInvalidConcurrency))
	})

	It("Can be instantiated correctly", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(4)
		Expect(err).To(BeNil())
		Expect(limiter).ToNot(BeNil())
		Expect(limiter.MaxConcurrent()).To(Equal(4))
		Expect(limiter.Available()).To(Equal(4))
	})

	It("Will track available permits across acquire and release", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(2)
		Expect(err).To(BeNil())

		limiter.Acquire()
		Expect(limiter.Available()).To(Equal(1))

		limiter.Acquire()
		Expect(limiter.Available()).To(Equal(0))

		Expect(limiter.Release()).To(Succeed())
		Expect(limiter.Available()).To(Equal(1))

		Expect(limiter.Release()).To(Succeed())
		Expect(limiter.Available()).To(Equal(2))
	})

	It("Will reject releasing more permits than were acquired", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(1)
		Expect(err).To(BeNil())

		err = limiter.Release()
		Expect(err).To(MatchError(domain.ErrOverRelease))
		Expect(limiter.Available()).To(Equal(1))
	})

	It("Will block a second acquirer until a permit is released", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(1)
		Expect(err).To(BeNil())

		limiter.Acquire()

		acquired := make(chan struct{})
		go func() {
			limiter.Acquire()
			close(acquired)
		}()

		Consistently(acquired, "50ms").ShouldNot(BeClosed())

		Expect(limiter.Release()).To(Succeed())
		Eventually(acquired, "1s").Should(BeClosed())

		Expect(limiter.Release()).To(Succeed())
	})

	It("Will never let Do exceed the configured bound", func() {
		limiter, err := bulkops.NewConcurrencyLimiter(2)
		Expect(err).To(BeNil())

		var inFlight atomic.Int32
		var maxObserved atomic.Int32

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				doErr := limiter.Do(func() error {
					current := inFlight.Add(1)
					defer inFlight.Add(-1)

					for {
						observed := maxObserved.Load()
						if current <= observed || maxObserved.CompareAndSwap(observed, current) {
							break
						}
					}

					return nil
				})
				Expect(doErr).To(BeNil())
			}()
		}

		wg.Wait()

		Expect(maxObserved.Load()).To(BeNumerically("<=", 2))
		Expect(limiter.Available()).To(Equal(2))
	})
})
