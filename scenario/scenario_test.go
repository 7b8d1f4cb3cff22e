package scenario_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/scenario"
)

var _ = Describe("AsyncTrans", func() {
	var (
		storage *mem.Storage
		builder bridge.Builder
	)

	BeforeEach(func() {
		storage = mem.NewStorage(4 * mem.GB)
		builder = bridge.MakeBuilder().WithTarget(storage)
	})

	It("should pass against a plain memory", func() {
		b := builder.Build("Bridge")
		b.Spawn(0, scenario.AsyncTrans)

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(b.Passed()).To(BeTrue())

		s := b.Node(0).Stats()
		Expect(s.Finished).To(BeTrue())
		Expect(s.Mismatches).To(BeZero())
		Expect(s.Checks).To(BeNumerically(">=", 12+7))
		Expect(s.DeferredReads).To(BeZero())
	})

	It("should pass with a deep pipeline and a long latency", func() {
		b := builder.
			WithLatency(5).
			WithPipelineDepth(4).
			WithTransPerCycle(2).
			WithQueueCapacity(8).
			WithOverflowPolicy(bridge.OverflowBlock).
			Build("Bridge")
		b.Spawn(0, scenario.AsyncTrans)

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(b.Passed()).To(BeTrue())
	})

	It("should leave the split phase words in memory", func() {
		b := builder.Build("Bridge")
		b.Spawn(0, scenario.AsyncTrans)

		Expect(b.Run(context.Background())).To(Succeed())

		data, err := storage.Read(0x80010000, 12)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{
			0x0d, 0xf0, 0xfe, 0xca,
			0xad, 0x0b, 0xab, 0x0f,
			0xaa, 0x55, 0xbb, 0xdd,
		}))
	})

	It("should fail when the memory corrupts a word", func() {
		b := builder.
			WithTarget(&corruptingTarget{Storage: storage, addr: 0x80001004}).
			Build("Bridge")
		b.Spawn(0, scenario.AsyncTrans)

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(b.Passed()).To(BeFalse())
		Expect(b.Node(0).Stats().Mismatches).To(Equal(uint64(1)))
	})
})

var _ = Describe("RandomBursts", func() {
	It("should pass on several nodes", func() {
		cfg := scenario.DefaultConfig()
		cfg.Bursts = 4

		b := bridge.MakeBuilder().
			WithTarget(mem.NewStorage(4 * mem.GB)).
			Build("Bridge")

		main, err := scenario.Lookup("random_bursts", cfg)
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 3; i++ {
			b.Spawn(i, main)
		}

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(b.Passed()).To(BeTrue())

		for _, n := range b.Nodes() {
			Expect(n.Stats().Completed).To(BeNumerically(">=", 8))
		}
	})

	It("should pass with one bus region per node", func() {
		cfg := scenario.DefaultConfig()
		bus := mem.NewBus()

		for i := 0; i < 2; i++ {
			Expect(bus.Map(mem.Region{
				Name:   fmt.Sprintf("Node[%d]", i),
				Base:   uint64(i) * scenario.NodeRegion,
				Size:   scenario.NodeRegion,
				Target: mem.NewStorage(scenario.NodeRegion),
			})).To(Succeed())
		}

		b := bridge.MakeBuilder().WithTarget(bus).Build("Bridge")
		b.Spawn(0, scenario.RandomBursts(cfg))
		b.Spawn(1, scenario.RandomBursts(cfg))

		Expect(b.Run(context.Background())).To(Succeed())
		Expect(b.Passed()).To(BeTrue())
	})

	It("should fail when a burst leaves the region of its node", func() {
		cfg := scenario.DefaultConfig()
		cfg.Bursts = 3

		bus := mem.NewBus()
		Expect(bus.Map(mem.Region{
			Name:   "Node[0]",
			Size:   uint64(2 * cfg.BurstLength),
			Target: mem.NewStorage(uint64(2 * cfg.BurstLength)),
		})).To(Succeed())

		b := bridge.MakeBuilder().WithTarget(bus).Build("Bridge")
		b.Spawn(0, scenario.RandomBursts(cfg))

		err := b.Run(context.Background())

		Expect(err).To(MatchError(mem.ErrUnmapped))
		Expect(b.Passed()).To(BeFalse())
	})

	It("should reject unknown scenarios", func() {
		_, err := scenario.Lookup("nope", scenario.DefaultConfig())
		Expect(err).To(MatchError(ContainSubstring("async_trans")))
	})

	It("should list the scenarios", func() {
		Expect(scenario.Names()).To(Equal(
			[]string{"async_trans", "random_bursts"}))
	})
})

// corruptingTarget flips the low bit of the byte at addr on every read.
type corruptingTarget struct {
	*mem.Storage
	addr uint64
}

func (t *corruptingTarget) Read(address, length uint64) ([]byte, error) {
	data, err := t.Storage.Read(address, length)
	if err != nil {
		return nil, err
	}

	if t.addr >= address && t.addr < address+length {
		data[t.addr-address] ^= 1
	}

	return data, nil
}
