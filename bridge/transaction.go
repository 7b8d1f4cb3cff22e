package bridge

import (
	"fmt"

	"github.com/sarchlab/cosim/sim"
)

// BusWidth is the number of bytes in one bus word. Asynchronous read
// addresses fetch a full, aligned bus word.
const BusWidth = 4

// Direction tells which way the data of a transaction moves.
type Direction int

// Directions of a bus transaction.
const (
	DirWrite Direction = iota
	DirRead
)

func (d Direction) String() string {
	switch d {
	case DirWrite:
		return "write"
	case DirRead:
		return "read"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Op is the operation that a queued transaction performs.
type Op int

// Operations that the executor knows.
const (
	OpWrite Op = iota
	OpRead
	// OpIdle holds the executor for a number of cycles without touching the
	// bus.
	OpIdle
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpIdle:
		return "idle"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Width is the size of a scalar transfer in bytes.
type Width int

// Supported scalar widths.
const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// Valid reports whether w is one of the supported widths.
func (w Width) Valid() bool {
	return w == Width8 || w == Width16 || w == Width32
}

// Bits returns the width in bits.
func (w Width) Bits() int {
	return int(w) * 8
}

// Mask returns the mask that keeps the bits covered by the width.
func (w Width) Mask() uint32 {
	if w >= Width32 {
		return 0xffffffff
	}

	return uint32(1)<<(uint(w)*8) - 1
}

func (w Width) String() string {
	return fmt.Sprintf("%d-bit", w.Bits())
}

func checkWidth(w Width) error {
	if !w.Valid() {
		return fmt.Errorf("%w: %d bytes", ErrInvalidWidth, int(w))
	}

	return nil
}

// Status is the lifecycle state of a transaction.
type Status int

// Transaction states.
const (
	StatusPending Status = iota
	StatusComplete
	StatusChecked
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusChecked:
		return "checked"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// A Transaction is one bus operation issued by a node.
type Transaction struct {
	ID   string
	Node int
	Op   Op

	// Address is the first byte accessed.
	Address uint64

	// Data is the write payload, or the read result once complete.
	Data []byte

	// Length is the number of bytes transferred.
	Length int

	// Width is the scalar width, zero for bursts.
	Width Width

	// Lane is the byte offset inside the bus word that a deferred check
	// extracts its value from.
	Lane int

	// Seq is the per-node issue sequence number.
	Seq uint64

	// Sync is set when the issuer waits for the completion.
	Sync bool

	// Cycles is how long an OpIdle transaction holds the executor.
	Cycles int

	// Finish marks the idle transaction that ends the node's run.
	Finish bool

	IssuedAt    sim.VTimeInCycle
	CompletedAt sim.VTimeInCycle

	status Status
	err    error
	done   chan struct{}
}

func newTransaction(op Op) *Transaction {
	return &Transaction{
		ID:   sim.GetIDGenerator().Generate(),
		Op:   op,
		done: make(chan struct{}),
	}
}

// IsBurst reports whether the transaction is a multi-byte burst rather than
// a scalar access.
func (t *Transaction) IsBurst() bool {
	return t.Width == 0 && t.Op != OpIdle
}

// Status returns the lifecycle state. It is only stable once Done is closed.
func (t *Transaction) Status() Status {
	return t.status
}

// Err returns the error that the execution of the transaction produced.
func (t *Transaction) Err() error {
	return t.err
}

// Done is closed when the executor completes the transaction.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

func (t *Transaction) String() string {
	if t.Op == OpIdle {
		return fmt.Sprintf("node %d #%d idle %d cycles", t.Node, t.Seq, t.Cycles)
	}

	return fmt.Sprintf("node %d #%d %s 0x%08x len %d",
		t.Node, t.Seq, t.Op, t.Address, t.Length)
}
