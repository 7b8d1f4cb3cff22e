package bridge

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TransactionQueue", func() {
	var queue *TransactionQueue

	BeforeEach(func() {
		queue = NewTransactionQueue(2, OverflowFail)
	})

	It("should keep issue order and assign sequence numbers", func() {
		t1, err := queue.Enqueue(newTransaction(OpWrite))
		Expect(err).NotTo(HaveOccurred())
		t2, err := queue.Enqueue(newTransaction(OpRead))
		Expect(err).NotTo(HaveOccurred())

		Expect(t1.Seq).To(Equal(uint64(0)))
		Expect(t2.Seq).To(Equal(uint64(1)))
		Expect(queue.Len()).To(Equal(2))
		Expect(queue.Outstanding()).To(Equal(2))

		first, ok := queue.next(false)
		Expect(ok).To(BeTrue())
		Expect(first).To(BeIdenticalTo(t1))

		second, ok := queue.next(false)
		Expect(ok).To(BeTrue())
		Expect(second).To(BeIdenticalTo(t2))

		_, ok = queue.next(false)
		Expect(ok).To(BeFalse())
	})

	It("should fail on overflow", func() {
		_, _ = queue.Enqueue(newTransaction(OpWrite))
		_, _ = queue.Enqueue(newTransaction(OpWrite))

		_, err := queue.Enqueue(newTransaction(OpWrite))

		Expect(err).To(MatchError(ErrQueueOverflow))
		Expect(queue.Outstanding()).To(Equal(2))
	})

	It("should block on overflow with the block policy", func() {
		queue = NewTransactionQueue(1, OverflowBlock)
		_, _ = queue.Enqueue(newTransaction(OpWrite))

		third := newTransaction(OpWrite)
		done := make(chan error, 1)
		go func() {
			_, err := queue.Enqueue(third)
			done <- err
		}()

		Consistently(done).ShouldNot(Receive())

		_, ok := queue.next(false)
		Expect(ok).To(BeTrue())

		Eventually(done).Should(Receive(BeNil()))
		Expect(third.Seq).To(Equal(uint64(1)))
	})

	It("should wait until all transactions completed", func() {
		txn, _ := queue.Enqueue(newTransaction(OpWrite))

		idle := make(chan error, 1)
		go func() { idle <- queue.WaitIdle() }()

		Consistently(idle).ShouldNot(Receive())

		got, _ := queue.next(false)
		queue.complete(got)

		Eventually(idle).Should(Receive(BeNil()))
		Expect(txn.Done()).To(BeClosed())

		enqueued, completed := queue.Counters()
		Expect(enqueued).To(Equal(uint64(1)))
		Expect(completed).To(Equal(uint64(1)))
	})

	It("should drain queued work after close", func() {
		txn, _ := queue.Enqueue(newTransaction(OpWrite))
		queue.Close()

		got, ok := queue.next(true)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(txn))

		_, ok = queue.next(true)
		Expect(ok).To(BeFalse())

		_, err := queue.Enqueue(newTransaction(OpWrite))
		Expect(err).To(MatchError(ErrNodeFinished))
	})

	It("should wake a waiting consumer when the producer posts", func() {
		got := make(chan *Transaction, 1)
		go func() {
			txn, _ := queue.next(true)
			got <- txn
		}()

		Consistently(got).ShouldNot(Receive())

		txn, _ := queue.Enqueue(newTransaction(OpWrite))

		Eventually(got).Should(Receive(BeIdenticalTo(txn)))
	})

	It("should release waiters when aborted", func() {
		txn, _ := queue.Enqueue(newTransaction(OpWrite))
		cause := errors.New("engine stopped")

		awaited := make(chan error, 1)
		go func() { awaited <- queue.Await(txn) }()
		idle := make(chan error, 1)
		go func() { idle <- queue.WaitIdle() }()

		queue.Abort(cause)

		Eventually(awaited).Should(Receive(MatchError(ErrAborted)))
		Eventually(idle).Should(Receive(MatchError(cause)))

		_, err := queue.Enqueue(newTransaction(OpWrite))
		Expect(err).To(MatchError(ErrAborted))
	})

	It("should parse overflow policies", func() {
		p, err := ParseOverflowPolicy("Block")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(OverflowBlock))

		p, err = ParseOverflowPolicy("")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(OverflowFail))

		_, err = ParseOverflowPolicy("drop")
		Expect(err).To(HaveOccurred())
	})
})
