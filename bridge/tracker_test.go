package bridge

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/sim"
)

var _ = Describe("CompletionTracker", func() {
	var (
		mockCtrl *gomock.Controller
		queue    *TransactionQueue
		tracker  *CompletionTracker
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		queue = NewTransactionQueue(8, OverflowFail)
		tracker = NewCompletionTracker(0, queue, log.StandardLogger())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	completeRead := func(txn *Transaction, data []byte) {
		got, ok := queue.next(false)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(txn))

		txn.Data = data
		txn.status = StatusComplete
		queue.complete(txn)
	}

	postRead := func(addr uint64) *Transaction {
		j := NewAddressDataJoiner(0)
		txn, _ := j.PostAddress(DirRead, addr)
		tracker.TrackRead(txn)
		_, err := queue.Enqueue(txn)
		Expect(err).NotTo(HaveOccurred())

		return txn
	}

	It("should fail a deferred check with no outstanding read", func() {
		_, err := tracker.DeferredCheck(0, Width32)

		Expect(err).To(MatchError(ErrCheckUnderflow))
	})

	It("should check deferred reads in issue order", func() {
		r1 := postRead(0x100)
		r2 := postRead(0x200)
		completeRead(r1, []byte{1, 0, 0, 0})
		completeRead(r2, []byte{2, 0, 0, 0})

		match, err := tracker.DeferredCheck(1, Width32)
		Expect(err).NotTo(HaveOccurred())
		Expect(match).To(BeTrue())

		match, err = tracker.DeferredCheck(3, Width32)
		Expect(err).NotTo(HaveOccurred())
		Expect(match).To(BeFalse())

		Expect(tracker.Checks()).To(Equal(uint64(2)))
		Expect(tracker.Mismatches()).To(Equal(uint64(1)))
		Expect(tracker.Failures()[0].Address).To(Equal(uint64(0x200)))
		Expect(r1.Status()).To(Equal(StatusChecked))
	})

	It("should extract the sub-word at the read lane", func() {
		r := postRead(0x102)
		completeRead(r, []byte{0x44, 0x33, 0x22, 0x11})

		match, err := tracker.DeferredCheck(0x1122, Width16)

		Expect(err).NotTo(HaveOccurred())
		Expect(match).To(BeTrue())
	})

	It("should reject a sub-word past the bus word", func() {
		r := postRead(0x103)
		completeRead(r, []byte{0, 0, 0, 0})

		_, err := tracker.DeferredCheck(0, Width16)

		Expect(err).To(MatchError(ErrLaneMismatch))
	})

	It("should wait for a read still in flight", func() {
		r := postRead(0x0)

		result := make(chan bool, 1)
		go func() {
			defer GinkgoRecover()
			match, err := tracker.DeferredCheck(0xab, Width8)
			Expect(err).NotTo(HaveOccurred())
			result <- match
		}()

		Consistently(result, 50*time.Millisecond).ShouldNot(Receive())

		completeRead(r, []byte{0xab, 0, 0, 0})

		Eventually(result).Should(Receive(BeTrue()))
	})

	It("should count burst mismatches byte by byte", func() {
		txn := newTransaction(OpRead)
		txn.Data = []byte{0, 1, 9, 3}
		desc := BurstDescriptor{Length: 5, Pattern: IncrementPattern(0)}

		Expect(tracker.CheckBurst(txn, desc)).To(Equal(2))
		Expect(tracker.Mismatches()).To(Equal(uint64(2)))
	})

	It("should invoke hooks on checks", func() {
		hook := NewMockHook(mockCtrl)
		tracker.AcceptHook(hook)

		txn := newTransaction(OpRead)
		txn.Width = Width8
		txn.Data = []byte{5}

		hook.EXPECT().Func(gomock.Any()).Do(func(ctx sim.HookCtx) {
			Expect(ctx.Pos).To(BeIdenticalTo(HookPosTransChecked))
			rec := ctx.Item.(*CompletionRecord)
			Expect(rec.Match).To(BeFalse())
			Expect(rec.Expected).To(Equal(uint32(6)))
			Expect(rec.Actual).To(Equal(uint32(5)))
		})

		Expect(tracker.Check(txn, 6)).To(BeFalse())
	})
})
