package bridge

import (
	"fmt"
	"sync"
)

// NoLane marks a data slot that does not name a byte lane.
const NoLane = -1

// An AddressSlot is an address phase waiting for its data phase.
type AddressSlot struct {
	Seq     uint64
	Address uint64
}

// A DataSlot is a data phase waiting for its address phase.
type DataSlot struct {
	Seq   uint64
	Value uint32
	Width Width
	Lane  int
}

// An AddressDataJoiner pairs independently posted address and data phases
// into transactions. The Nth write address always pairs with the Nth write
// data, whatever the interleaving of the two streams.
//
// A read needs no data phase to execute, so a read address becomes a
// transaction as soon as it is posted. The data side of a read is the
// deferred check that the CompletionTracker matches against it.
type AddressDataJoiner struct {
	mu   sync.Mutex
	node int

	writeAddrs []AddressSlot
	writeData  []DataSlot
	addrSeq    [2]uint64
	dataSeq    uint64
}

// NewAddressDataJoiner creates a joiner for the given node.
func NewAddressDataJoiner(node int) *AddressDataJoiner {
	return &AddressDataJoiner{node: node}
}

// PostAddress records an address phase. It returns the transaction that the
// address completes, or nil if the address is still waiting for its data.
func (j *AddressDataJoiner) PostAddress(
	dir Direction,
	address uint64,
) (*Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	slot := AddressSlot{Seq: j.addrSeq[dir], Address: address}
	j.addrSeq[dir]++

	if dir == DirRead {
		return j.readTransaction(slot), nil
	}

	j.writeAddrs = append(j.writeAddrs, slot)

	return j.join()
}

// PostData records a write data phase of the given width. lane is the byte
// lane that the data is placed on, or NoLane.
func (j *AddressDataJoiner) PostData(
	dir Direction,
	value uint32,
	width Width,
	lane int,
) (*Transaction, error) {
	if dir != DirWrite {
		return nil, fmt.Errorf(
			"%w: read data is checked, not posted", ErrPhaseMismatch)
	}

	if err := checkWidth(width); err != nil {
		return nil, err
	}

	if lane != NoLane && (lane < 0 || lane+int(width) > BusWidth) {
		return nil, fmt.Errorf("%w: lane %d for %s data",
			ErrLaneMismatch, lane, width)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.writeData = append(j.writeData, DataSlot{
		Seq:   j.dataSeq,
		Value: value & width.Mask(),
		Width: width,
		Lane:  lane,
	})
	j.dataSeq++

	return j.join()
}

// Pending returns the number of unpaired write addresses and data phases.
func (j *AddressDataJoiner) Pending() (addrs, data int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.writeAddrs), len(j.writeData)
}

// CheckBalanced returns ErrPhaseMismatch if any write phase is unpaired.
func (j *AddressDataJoiner) CheckBalanced() error {
	addrs, data := j.Pending()
	if addrs != 0 || data != 0 {
		return fmt.Errorf("%w: node %d has %d addresses and %d data waiting",
			ErrPhaseMismatch, j.node, addrs, data)
	}

	return nil
}

func (j *AddressDataJoiner) join() (*Transaction, error) {
	if len(j.writeAddrs) == 0 || len(j.writeData) == 0 {
		return nil, nil
	}

	addr := j.writeAddrs[0]
	data := j.writeData[0]
	j.writeAddrs = j.writeAddrs[1:]
	j.writeData = j.writeData[1:]

	if data.Lane != NoLane && int(addr.Address%BusWidth) != data.Lane {
		return nil, fmt.Errorf(
			"%w: address 0x%08x (phase %d) paired with lane %d data (phase %d)",
			ErrLaneMismatch, addr.Address, addr.Seq, data.Lane, data.Seq)
	}

	txn := newTransaction(OpWrite)
	txn.Node = j.node
	txn.Address = addr.Address
	txn.Width = data.Width
	txn.Length = int(data.Width)
	txn.Data = scalarBytes(data.Value, data.Width)

	return txn, nil
}

func (j *AddressDataJoiner) readTransaction(slot AddressSlot) *Transaction {
	txn := newTransaction(OpRead)
	txn.Node = j.node
	txn.Address = slot.Address &^ (BusWidth - 1)
	txn.Lane = int(slot.Address % BusWidth)
	txn.Width = Width32
	txn.Length = BusWidth

	return txn
}
