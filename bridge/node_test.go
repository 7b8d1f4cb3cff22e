package bridge

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

var _ = Describe("Node", func() {
	var (
		storage *mem.Storage
		builder Builder
	)

	BeforeEach(func() {
		storage = mem.NewStorage(64 * mem.KB)
		builder = MakeBuilder().WithTarget(storage)
	})

	run := func(main func(n *Node) error) (*Bridge, error) {
		b := builder.Build("Bridge")
		b.Spawn(0, main)

		return b, b.Run(context.Background())
	}

	finish := func(n *Node) error {
		_, err := n.Tick(0, true, false)
		return err
	}

	It("should round trip every width", func() {
		var got []uint32

		b, err := run(func(n *Node) error {
			for _, w := range []Width{Width8, Width16, Width32} {
				if err := n.Write(0x100, 0xdeadbeef, w); err != nil {
					return err
				}

				v, err := n.Read(0x100, w)
				if err != nil {
					return err
				}

				got = append(got, v)
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal([]uint32{0xef, 0xbeef, 0xdeadbeef}))
		Expect(b.Passed()).To(BeTrue())
	})

	It("should execute asynchronous writes before a later read", func() {
		var got []uint32

		_, err := run(func(n *Node) error {
			for i := uint32(0); i < 16; i++ {
				if err := n.WriteAsync(uint64(i*4), i*0x01010101, Width32); err != nil {
					return err
				}
			}

			for i := uint32(0); i < 16; i++ {
				v, err := n.Read(uint64(i*4), Width32)
				if err != nil {
					return err
				}

				got = append(got, v)
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		for i, v := range got {
			Expect(v).To(Equal(uint32(i) * 0x01010101))
		}
	})

	It("should pair decoupled address and data phases in order", func() {
		var a, c uint32
		var match bool

		_, err := run(func(n *Node) error {
			_ = n.WriteDataAsync(0x11, Width8)
			_ = n.WriteDataAsync(0x2233, Width16)
			_ = n.WriteAddressAsync(0x10)
			_ = n.WriteAddressAsync(0x20)
			_ = n.WriteAddressAsync(0x32)
			_ = n.WriteDataLaneAsync(0x44, Width8, 2)

			var err error
			if a, err = n.Read(0x10, Width8); err != nil {
				return err
			}

			if c, err = n.Read(0x20, Width16); err != nil {
				return err
			}

			if match, err = n.ReadCheck(0x32, Width8, 0x44); err != nil {
				return err
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(uint32(0x11)))
		Expect(c).To(Equal(uint32(0x2233)))
		Expect(match).To(BeTrue())
	})

	It("should check asynchronous reads at their byte lane", func() {
		var matches []bool

		_, err := run(func(n *Node) error {
			_ = n.WriteAsync(0x200, 0x11223344, Width32)
			_ = n.ReadAddressAsync(0x200)
			_ = n.ReadAddressAsync(0x202)
			_ = n.ReadAddressAsync(0x201)
			_ = n.ReadAddressAsync(0x203)

			checks := []struct {
				exp uint32
				w   Width
			}{
				{0x11223344, Width32},
				{0x1122, Width16},
				{0x33, Width8},
				{0x12, Width8},
			}

			for _, c := range checks {
				m, err := n.ReadDataCheck(c.exp, c.w)
				if err != nil {
					return err
				}

				matches = append(matches, m)
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(matches).To(Equal([]bool{true, true, true, false}))
	})

	It("should fail a deferred check without an outstanding read", func() {
		b, err := run(func(n *Node) error {
			_, err := n.ReadDataCheck(0, Width32)
			return err
		})

		Expect(err).To(MatchError(ErrCheckUnderflow))
		Expect(b.Node(0).Err()).To(MatchError(ErrCheckUnderflow))
		Expect(b.Passed()).To(BeFalse())
	})

	It("should round trip bursts", func() {
		buf := make([]byte, 300)
		RandomPattern(5).Fill(buf)

		var got []byte

		_, err := run(func(n *Node) error {
			if err := n.BurstWriteAsync(0x400, buf); err != nil {
				return err
			}

			var err error
			if got, err = n.BurstRead(0x400, len(buf)); err != nil {
				return err
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(buf))
	})

	It("should verify patterned bursts", func() {
		var incMismatch, rndMismatch, wrongSeed int
		var pass bool

		b, err := run(func(n *Node) error {
			var err error

			_ = n.BurstWriteIncrementAsync(0x1000, 0xf0, 257)
			if incMismatch, err = n.BurstReadCheckIncrement(0x1000, 0xf0, 257); err != nil {
				return err
			}

			if err = n.BurstWriteRandom(0x2000, 77, 100); err != nil {
				return err
			}

			if rndMismatch, err = n.BurstReadCheckRandom(0x2000, 77, 100); err != nil {
				return err
			}

			if wrongSeed, err = n.BurstReadCheckRandom(0x2000, 78, 100); err != nil {
				return err
			}

			pass, err = n.Tick(0, true, false)

			return err
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(incMismatch).To(Equal(0))
		Expect(rndMismatch).To(Equal(0))
		Expect(wrongSeed).To(BeNumerically(">", 0))
		Expect(pass).To(BeFalse())
		Expect(b.Passed()).To(BeFalse())
		Expect(b.Node(0).Stats().Mismatches).To(Equal(uint64(wrongSeed)))
	})

	It("should advance the clock by the tick count", func() {
		var before, after sim.VTimeInCycle
		var pass bool

		_, err := run(func(n *Node) error {
			before = n.Now()

			var err error
			if pass, err = n.Tick(10, false, false); err != nil {
				return err
			}

			after = n.Now()

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(pass).To(BeTrue())
		Expect(after - before).To(BeNumerically(">=", 10))
	})

	It("should hold blocking calls for the latency", func() {
		builder = builder.WithLatency(10)

		var before, after sim.VTimeInCycle

		_, err := run(func(n *Node) error {
			before = n.Now()
			if err := n.Write(0, 1, Width8); err != nil {
				return err
			}
			after = n.Now()

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(after - before).To(BeNumerically(">=", 10))
	})

	It("should report the user error flag", func() {
		var pass bool
		var lateErr error

		b, err := run(func(n *Node) error {
			var err error
			if pass, err = n.Tick(0, true, true); err != nil {
				return err
			}

			lateErr = n.Write(0, 0, Width8)

			return nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(pass).To(BeFalse())
		Expect(lateErr).To(MatchError(ErrNodeFinished))
		Expect(b.Node(0).Finished()).To(BeTrue())
		Expect(b.Passed()).To(BeFalse())
	})

	It("should fail a blocking call with unpaired write phases", func() {
		_, err := run(func(n *Node) error {
			_ = n.WriteAddressAsync(0x10)
			_, err := n.Read(0x10, Width8)

			return err
		})

		Expect(err).To(MatchError(ErrPhaseMismatch))
	})

	It("should latch unpaired write phases left at detach", func() {
		b, err := run(func(n *Node) error {
			return n.WriteDataAsync(1, Width8)
		})

		Expect(err).To(MatchError(ErrPhaseMismatch))
		Expect(b.Node(0).Passed()).To(BeFalse())
	})

	It("should reject invalid widths", func() {
		_, err := run(func(n *Node) error {
			return n.Write(0, 1, Width(3))
		})

		Expect(err).To(MatchError(ErrInvalidWidth))
	})

	It("should return target errors", func() {
		_, err := run(func(n *Node) error {
			return n.Write(mem.MB, 1, Width8)
		})

		Expect(err).To(MatchError(mem.ErrOutOfRange))
	})

	It("should latch queue overflow", func() {
		b := builder.WithQueueCapacity(2).Build("Bridge")
		n := b.Node(0)

		Expect(n.WriteAsync(0, 1, Width8)).To(Succeed())
		Expect(n.WriteAsync(1, 1, Width8)).To(Succeed())
		Expect(n.WriteAsync(2, 1, Width8)).To(MatchError(ErrQueueOverflow))

		_, err := n.Read(0, Width8)
		Expect(err).To(MatchError(ErrQueueOverflow))
		Expect(n.Passed()).To(BeFalse())
	})

	It("should park the producer on overflow with the block policy", func() {
		builder = builder.WithQueueCapacity(1).WithOverflowPolicy(OverflowBlock)

		var got uint32

		b, err := run(func(n *Node) error {
			for i := 0; i < 32; i++ {
				if err := n.WriteAsync(0x80, uint32(i), Width8); err != nil {
					return err
				}
			}

			var err error
			if got, err = n.Read(0x80, Width8); err != nil {
				return err
			}

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(uint32(31)))
		Expect(b.Node(0).Stats().Completed).To(Equal(uint64(34)))
	})

	It("should wait until posted work is idle", func() {
		var outstanding int

		_, err := run(func(n *Node) error {
			for i := 0; i < 8; i++ {
				_ = n.WriteAsync(uint64(i), 1, Width8)
			}

			if err := n.WaitIdle(); err != nil {
				return err
			}

			outstanding = n.Stats().Outstanding

			return finish(n)
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(outstanding).To(Equal(0))
	})

	It("should invoke hooks for every transaction", func() {
		hook := &recordingHook{}
		b := builder.Build("Bridge")
		b.Spawn(0, func(n *Node) error {
			_ = n.WriteAsync(0, 1, Width8)
			_, _ = n.ReadCheck(0, Width8, 1)

			return finish(n)
		})
		b.AcceptHook(hook)

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(hook.count(HookPosTransStart)).To(Equal(3))
		Expect(hook.count(HookPosTransComplete)).To(Equal(3))
		Expect(hook.count(HookPosTransChecked)).To(Equal(1))
	})

	It("should abort nodes when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		release := make(chan struct{})

		b := builder.Build("Bridge")
		b.Spawn(0, func(n *Node) error {
			<-release
			return n.Write(0, 1, Width8)
		})

		done := make(chan error, 1)
		go func() { done <- b.Run(ctx) }()

		cancel()
		Eventually(b.Node(0).Stopped()).Should(BeClosed())
		close(release)

		Eventually(done).Should(Receive(MatchError(ErrAborted)))
	})
})

type recordingHook struct {
	mu     sync.Mutex
	counts map[*sim.HookPos]int
}

func (h *recordingHook) Func(ctx sim.HookCtx) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.counts == nil {
		h.counts = make(map[*sim.HookPos]int)
	}

	h.counts[ctx.Pos]++
}

func (h *recordingHook) count(pos *sim.HookPos) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.counts[pos]
}
