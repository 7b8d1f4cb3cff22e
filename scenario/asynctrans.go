// Package scenario provides software actors that drive bridge nodes.
package scenario

import (
	"bytes"

	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/bridge"
)

// AsyncTrans runs the asynchronous transaction test on a node. It covers
// posted scalar writes of every width, posted bursts, split address and data
// phases with byte lanes, deferred read checks, and the pattern bursts. The
// node is finished 10 cycles after the last transaction.
//
// AsyncTrans returns the first fatal error of the node. Mismatches are
// recorded on the node and fail it without stopping the test.
func AsyncTrans(n *bridge.Node) error {
	t := &asyncTrans{n: n, logger: log.WithField("node", n.ID())}

	steps := []func() error{
		t.scalar32,
		t.scalar16,
		t.scalar8,
		t.bursts,
		t.splitWrites,
		t.splitReads,
		t.patterns,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	_, err := n.Tick(10, true, t.failed)

	return err
}

type asyncTrans struct {
	n      *bridge.Node
	logger log.FieldLogger
	failed bool
}

func (t *asyncTrans) scalar32() error {
	const addr, wdata = 0x80001000, uint32(0x12ff34dd)

	for i := uint64(0); i < 3; i++ {
		if err := t.n.WriteAsync(addr+i*4, wdata+uint32(i), bridge.Width32); err != nil {
			return err
		}
	}

	// The blocking write returns after the posted ones have executed.
	if err := t.n.Write(addr+12, wdata+3, bridge.Width32); err != nil {
		return err
	}

	for i := uint64(0); i < 4; i++ {
		if _, err := t.n.ReadCheck(addr+i*4, bridge.Width32, wdata+uint32(i)); err != nil {
			return err
		}
	}

	return nil
}

func (t *asyncTrans) scalar16() error {
	const addr, wdata = 0x80002000, uint16(0x95b3)

	value := func(i uint64) uint32 {
		return uint32(wdata + uint16(i)*0x1111)
	}

	for i := uint64(0); i < 3; i++ {
		if err := t.n.WriteAsync(addr+i*2, value(i), bridge.Width16); err != nil {
			return err
		}
	}

	if err := t.n.Write(addr+6, value(3), bridge.Width16); err != nil {
		return err
	}

	for i := uint64(0); i < 4; i++ {
		if _, err := t.n.ReadCheck(addr+i*2, bridge.Width16, value(i)); err != nil {
			return err
		}
	}

	return nil
}

func (t *asyncTrans) scalar8() error {
	const addr, wdata = 0x80003001, uint8(0x17)

	value := func(i uint64) uint32 {
		return uint32(wdata + uint8(i)*0x22)
	}

	for i := uint64(0); i < 3; i++ {
		if err := t.n.WriteAsync(addr+i, value(i), bridge.Width8); err != nil {
			return err
		}
	}

	if err := t.n.Write(addr+3, value(3), bridge.Width8); err != nil {
		return err
	}

	for i := uint64(0); i < 4; i++ {
		if _, err := t.n.ReadCheck(addr+i, bridge.Width8, value(i)); err != nil {
			return err
		}
	}

	return nil
}

func (t *asyncTrans) bursts() error {
	const addr = 0x80004964

	wbuf := make([]byte, 128)
	for i := range wbuf {
		wbuf[i] = byte(0x23 + i*3)
	}

	for _, seg := range [][2]int{{0, 32}, {32, 64}, {64, 80}} {
		if err := t.n.BurstWriteAsync(addr+uint64(seg[0]), wbuf[seg[0]:seg[1]]); err != nil {
			return err
		}
	}

	if err := t.n.BurstWrite(addr+80, wbuf[80:]); err != nil {
		return err
	}

	rbuf, err := t.n.BurstRead(addr, len(wbuf))
	if err != nil {
		return err
	}

	if !bytes.Equal(rbuf, wbuf) {
		for i := range wbuf {
			if rbuf[i] != wbuf[i] {
				t.logger.Errorf("mismatch for async burst write at byte %d. "+
					"Got 0x%02x, exp 0x%02x", i, rbuf[i], wbuf[i])
			}
		}

		t.failed = true
	}

	return nil
}

// splitWriteBase is where the split phase writes and reads go.
const splitWriteBase = 0x80010000

var splitWords = [3]uint32{0xcafef00d, 0x0fab0bad, 0xddbb55aa}

func (t *asyncTrans) splitWrites() error {
	const addr = splitWriteBase

	// Data ahead of the addresses.
	if err := t.n.WriteDataAsync(0xcafef00d, bridge.Width32); err != nil {
		return err
	}

	if err := t.n.WriteDataAsync(0x0bad, bridge.Width16); err != nil {
		return err
	}

	for _, offset := range []uint64{0, 4, 6, 8, 9, 10, 11} {
		if err := t.n.WriteAddressAsync(addr + offset); err != nil {
			return err
		}
	}

	lanes := []struct {
		data  uint32
		width bridge.Width
		lane  int
	}{
		{0x0fab, bridge.Width16, 2},
		{0xaa, bridge.Width8, 0},
		{0x55, bridge.Width8, 1},
		{0xbb, bridge.Width8, 2},
		{0xdd, bridge.Width8, 3},
	}

	for _, l := range lanes {
		if err := t.n.WriteDataLaneAsync(l.data, l.width, l.lane); err != nil {
			return err
		}
	}

	for i, exp := range splitWords {
		got, err := t.n.Read(addr+uint64(i)*4, bridge.Width32)
		if err != nil {
			return err
		}

		if got != exp {
			t.logger.Errorf("mismatch for async write address/data. "+
				"Got 0x%08x, exp 0x%08x", got, exp)
			t.failed = true
		}
	}

	return nil
}

func (t *asyncTrans) splitReads() error {
	const addr = splitWriteBase

	for i := uint64(0); i < 4; i++ {
		if err := t.n.ReadAddressAsync(addr + i); err != nil {
			return err
		}
	}

	for _, exp := range []uint32{0x0d, 0xf0, 0xfe, 0xca} {
		if _, err := t.n.ReadDataCheck(exp, bridge.Width8); err != nil {
			return err
		}
	}

	if err := t.n.ReadAddressAsync(addr + 4); err != nil {
		return err
	}

	if _, err := t.n.ReadDataCheck(splitWords[1], bridge.Width32); err != nil {
		return err
	}

	for _, offset := range []uint64{8, 10} {
		if err := t.n.ReadAddressAsync(addr + offset); err != nil {
			return err
		}
	}

	for i := 0; i < 2; i++ {
		half := (splitWords[2] >> (i * 16)) & 0xffff
		if _, err := t.n.ReadDataCheck(half, bridge.Width16); err != nil {
			return err
		}
	}

	return nil
}

func (t *asyncTrans) patterns() error {
	const incAddr, start = 0x70091230, byte(0x57)

	if err := t.n.BurstWriteIncrementAsync(incAddr, start, 16); err != nil {
		return err
	}

	if err := t.n.BurstWriteIncrement(incAddr+16, start+16, 32); err != nil {
		return err
	}

	if _, err := t.n.BurstReadCheckIncrement(incAddr, start, 48); err != nil {
		return err
	}

	const rndAddr, seed = 0x5a9607a8, uint32(0xdf)

	if err := t.n.BurstWriteRandomAsync(rndAddr, seed, 64); err != nil {
		return err
	}

	if err := t.n.BurstWriteRandom(rndAddr+64, seed^0xff, 48); err != nil {
		return err
	}

	if _, err := t.n.BurstReadCheckRandom(rndAddr, seed, 64); err != nil {
		return err
	}

	_, err := t.n.BurstReadCheckRandom(rndAddr+64, seed^0xff, 48)

	return err
}
