package scenario

import (
	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/bridge"
)

// NodeRegion is the address space that each node of RandomBursts owns. Node
// i writes into [i*NodeRegion, (i+1)*NodeRegion).
const NodeRegion = 0x0100_0000

// RandomBursts returns an actor that posts cfg.Bursts pseudo-random bursts
// into the region of its node, waits for them to drain, reads each one back
// with a blocking pattern check and finishes the node. Nodes do not touch
// each other's regions as long as Bursts*BurstLength fits in NodeRegion.
func RandomBursts(cfg Config) Main {
	return func(n *bridge.Node) error {
		base := uint64(n.ID()) * NodeRegion
		seed := cfg.Seed + uint32(n.ID())
		stride := uint64(cfg.BurstLength)

		for i := 0; i < cfg.Bursts; i++ {
			addr := base + uint64(i)*stride
			if err := n.BurstWriteRandomAsync(addr, seed+uint32(i), cfg.BurstLength); err != nil {
				return err
			}
		}

		if err := n.WaitIdle(); err != nil {
			return err
		}

		mismatches := 0

		for i := 0; i < cfg.Bursts; i++ {
			addr := base + uint64(i)*stride

			m, err := n.BurstReadCheckRandom(addr, seed+uint32(i), cfg.BurstLength)
			if err != nil {
				return err
			}

			mismatches += m
		}

		log.WithFields(log.Fields{
			"node":       n.ID(),
			"bursts":     cfg.Bursts,
			"mismatches": mismatches,
		}).Info("random bursts checked")

		_, err := n.Tick(0, true, false)

		return err
	}
}
