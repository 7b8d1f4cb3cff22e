package tracing

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/mem"
)

var _ = Describe("LogHook", func() {
	It("should log the life of a transaction", func() {
		logger, entries := test.NewNullLogger()
		logger.SetLevel(log.DebugLevel)

		b := bridge.MakeBuilder().
			WithTarget(mem.NewStorage(mem.KB)).
			WithLogger(logger).
			Build("Bridge")
		b.Spawn(0, func(n *bridge.Node) error {
			if _, err := n.ReadCheck(0x20, bridge.Width32, 0); err != nil {
				return err
			}

			_, err := n.Tick(0, true, false)
			return err
		})
		b.AcceptHook(NewLogHook(logger))

		Expect(b.Run(context.Background())).To(Succeed())

		var messages []string
		for _, e := range entries.AllEntries() {
			if e.Level == log.DebugLevel {
				messages = append(messages, e.Message)
			}
		}

		Expect(messages).To(ContainElements("start", "complete", "check"))

		for _, e := range entries.AllEntries() {
			if e.Message == "check" {
				Expect(e.Data).To(HaveKeyWithValue("addr", "0x00000020"))
				Expect(e.Data).To(HaveKeyWithValue("match", true))
			}
		}
	})
})

var _ = Describe("BusyTimeTracer on a bridge", func() {
	It("should count the cycles a node is busy", func() {
		b := bridge.MakeBuilder().
			WithTarget(mem.NewStorage(mem.KB)).
			WithLatency(4).
			Build("Bridge")
		b.Spawn(0, func(n *bridge.Node) error {
			for i := 0; i < 3; i++ {
				if err := n.Write(uint64(i*4), 1, bridge.Width32); err != nil {
					return err
				}
			}

			_, err := n.Tick(0, true, false)
			return err
		})

		busy := NewBusyTimeTracer(b.Engine(), func(t Task) bool {
			return t.Kind == "scalar"
		})
		avg := NewAverageTimeTracer(b.Engine(), nil)
		CollectNodeTrace(b.Node(0), busy)
		CollectNodeTrace(b.Node(0), avg)

		Expect(b.Run(context.Background())).To(Succeed())

		Expect(busy.BusyTime()).To(BeNumerically(">=", 12))
		Expect(avg.MaxTime()).To(BeNumerically(">=", 4))
	})
})
