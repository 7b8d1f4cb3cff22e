package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("TickingComponent", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEventScheduler
		ticker   *MockTicker
		tc       *TickingComponent
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockEventScheduler(mockCtrl)
		ticker = NewMockTicker(mockCtrl)
		tc = NewTickingComponent("TC", engine, ticker)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should schedule a tick in the current cycle", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInCycle(10))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(evt ScheduledEvent) {
			Expect(evt.Time).To(Equal(VTimeInCycle(10)))
			Expect(evt.Event).To(Equal(TickEvent{}))
			Expect(evt.Handler).To(BeIdenticalTo(tc))
		})

		tc.TickNow()
	})

	It("should tick again when the ticker made progress", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInCycle(10))
		engine.EXPECT().Schedule(gomock.Any()).Do(func(evt ScheduledEvent) {
			Expect(evt.Time).To(Equal(VTimeInCycle(11)))
		})
		ticker.EXPECT().Tick().Return(true)

		Expect(tc.Handle(TickEvent{})).To(Succeed())
	})

	It("should not tick again when the ticker made no progress", func() {
		ticker.EXPECT().Tick().Return(false)

		Expect(tc.Handle(TickEvent{})).To(Succeed())
	})

	It("should not schedule a second tick for the same cycle", func() {
		engine.EXPECT().CurrentTime().Return(VTimeInCycle(10)).Times(2)
		engine.EXPECT().Schedule(gomock.Any()).Times(1)

		tc.TickLater()
		tc.TickLater()
	})

	It("should reject other events", func() {
		Expect(tc.Handle("not a tick")).To(MatchError(ContainSubstring("TC")))
	})
})
