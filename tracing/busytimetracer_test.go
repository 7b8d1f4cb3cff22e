package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/sim"
)

var _ = Describe("BusyTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		t          *BusyTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)

		t = NewBusyTimeTracer(timeTeller, nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	at := func(cycle sim.VTimeInCycle) {
		timeTeller.EXPECT().CurrentTime().Return(cycle)
	}

	It("should track busy time, one task", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.EndTask(Task{ID: "1"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(1)))
	})

	It("should track busy time, two tasks", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.EndTask(Task{ID: "1"})

		at(3)
		t.StartTask(Task{ID: "2"})
		at(4)
		t.EndTask(Task{ID: "2"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(2)))
	})

	It("should track busy time, two tasks adjacent", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(2)
		t.EndTask(Task{ID: "1"})

		at(2)
		t.StartTask(Task{ID: "2"})
		at(4)
		t.EndTask(Task{ID: "2"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(3)))
	})

	It("should track busy time, overlapping tasks", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(3)
		t.StartTask(Task{ID: "2"})
		at(5)
		t.EndTask(Task{ID: "1"})
		at(8)
		t.EndTask(Task{ID: "2"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(7)))
	})

	It("should track busy time, nested tasks", func() {
		at(1)
		t.StartTask(Task{ID: "1"})
		at(3)
		t.StartTask(Task{ID: "2"})
		at(4)
		t.EndTask(Task{ID: "2"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(0)))

		at(10)
		t.EndTask(Task{ID: "1"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(9)))
	})

	It("should terminate running tasks at the end", func() {
		at(2)
		t.StartTask(Task{ID: "1"})

		t.Handle(6)

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(4)))
	})

	It("should ignore filtered tasks", func() {
		t = NewBusyTimeTracer(timeTeller, func(task Task) bool {
			return task.Kind == "burst"
		})

		at(1)
		t.StartTask(Task{ID: "1", Kind: "scalar"})
		at(5)
		t.EndTask(Task{ID: "1"})

		Expect(t.BusyTime()).To(Equal(sim.VTimeInCycle(0)))
	})
})

var _ = Describe("AverageTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		t          *AverageTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		t = NewAverageTimeTracer(timeTeller, nil)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should average task times", func() {
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInCycle(0))
		t.StartTask(Task{ID: "1"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInCycle(1))
		t.StartTask(Task{ID: "2"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInCycle(2))
		t.EndTask(Task{ID: "1"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInCycle(7))
		t.EndTask(Task{ID: "2"})

		Expect(t.TotalCount()).To(Equal(uint64(2)))
		Expect(t.TotalTime()).To(Equal(sim.VTimeInCycle(8)))
		Expect(t.AverageTime()).To(Equal(4.0))
		Expect(t.MaxTime()).To(Equal(sim.VTimeInCycle(6)))
	})

	It("should report zero without tasks", func() {
		Expect(t.AverageTime()).To(Equal(0.0))
	})
})
