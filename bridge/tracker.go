package bridge

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

// HookPosTransChecked marks a read result being compared with its expected
// value. The item is a *CompletionRecord.
var HookPosTransChecked = &sim.HookPos{Name: "TransChecked"}

// A CompletionRecord is the outcome of comparing a read result with an
// expected value.
type CompletionRecord struct {
	Txn      *Transaction
	Address  uint64
	Width    Width
	Expected uint32
	Actual   uint32
	Match    bool
	Deferred bool
}

// A CompletionTracker follows the results of a node's reads. Asynchronous
// reads stay in the tracker, in issue order, until a deferred check consumes
// them. Mismatches are counted, never raised.
type CompletionTracker struct {
	*sim.HookableBase

	node   int
	queue  *TransactionQueue
	logger log.FieldLogger

	mu         sync.Mutex
	deferred   []*Transaction
	checks     uint64
	mismatches uint64
	failures   []CompletionRecord
	maxRecords int
}

// NewCompletionTracker creates a tracker that awaits transactions of the
// given queue.
func NewCompletionTracker(
	node int,
	queue *TransactionQueue,
	logger log.FieldLogger,
) *CompletionTracker {
	return &CompletionTracker{
		HookableBase: sim.NewHookableBase(),
		node:         node,
		queue:        queue,
		logger:       logger,
		maxRecords:   1024,
	}
}

// Await blocks until the executor completes txn.
func (t *CompletionTracker) Await(txn *Transaction) error {
	return t.queue.Await(txn)
}

// TrackRead registers an asynchronous read whose data a later deferred check
// consumes.
func (t *CompletionTracker) TrackRead(txn *Transaction) {
	t.mu.Lock()
	t.deferred = append(t.deferred, txn)
	t.mu.Unlock()
}

// Untrack removes the most recently tracked read. It undoes TrackRead when
// the read could not be queued.
func (t *CompletionTracker) Untrack(txn *Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.deferred)
	if n > 0 && t.deferred[n-1] == txn {
		t.deferred = t.deferred[:n-1]
	}
}

// Outstanding returns the number of asynchronous reads not checked yet.
func (t *CompletionTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.deferred)
}

// DeferredCheck compares the oldest unchecked asynchronous read with
// expected. The read is a full bus word; the width bytes at the lane of the
// read address are compared. If the read has not executed yet, DeferredCheck
// waits for it.
func (t *CompletionTracker) DeferredCheck(
	expected uint32,
	width Width,
) (bool, error) {
	if err := checkWidth(width); err != nil {
		return false, err
	}

	t.mu.Lock()
	if len(t.deferred) == 0 {
		t.mu.Unlock()
		return false, fmt.Errorf("%w: node %d, %d checks done",
			ErrCheckUnderflow, t.node, t.checks)
	}

	txn := t.deferred[0]
	t.deferred = t.deferred[1:]
	t.mu.Unlock()

	if err := t.Await(txn); err != nil {
		return false, err
	}

	if txn.Lane+int(width) > len(txn.Data) {
		return false, fmt.Errorf("%w: %s at lane %d of a %d-byte read",
			ErrLaneMismatch, width, txn.Lane, len(txn.Data))
	}

	actual := mem.Scalar(txn.Data[txn.Lane : txn.Lane+int(width)])

	return t.record(txn, txn.Address+uint64(txn.Lane), width,
		expected, actual, true), nil
}

// Check compares the result of a completed scalar read with expected.
func (t *CompletionTracker) Check(txn *Transaction, expected uint32) bool {
	return t.record(txn, txn.Address, txn.Width,
		expected, mem.Scalar(txn.Data), false)
}

// CheckBurst compares a completed burst read with the bytes that desc
// generates and returns the number of mismatching bytes.
func (t *CompletionTracker) CheckBurst(
	txn *Transaction,
	desc BurstDescriptor,
) int {
	return t.CompareBytes(txn, desc.Materialize())
}

// CompareBytes compares a completed burst read against expected bytes and
// returns the number of mismatching bytes.
func (t *CompletionTracker) CompareBytes(
	txn *Transaction,
	expected []byte,
) int {
	mismatches := 0

	for i := range expected {
		var actual byte
		if i < len(txn.Data) {
			actual = txn.Data[i]
		}

		if !t.record(txn, txn.Address+uint64(i), Width8,
			uint32(expected[i]), uint32(actual), false) {
			mismatches++
		}
	}

	return mismatches
}

func (t *CompletionTracker) record(
	txn *Transaction,
	address uint64,
	width Width,
	expected, actual uint32,
	deferred bool,
) bool {
	expected &= width.Mask()
	actual &= width.Mask()

	rec := CompletionRecord{
		Txn:      txn,
		Address:  address,
		Width:    width,
		Expected: expected,
		Actual:   actual,
		Match:    expected == actual,
		Deferred: deferred,
	}

	t.mu.Lock()
	t.checks++
	txn.status = StatusChecked
	if !rec.Match {
		t.mismatches++
		if len(t.failures) < t.maxRecords {
			t.failures = append(t.failures, rec)
		}
	}
	t.mu.Unlock()

	if !rec.Match {
		t.logger.WithFields(log.Fields{
			"node":  t.node,
			"seq":   txn.Seq,
			"addr":  fmt.Sprintf("0x%08x", address),
			"width": width.Bits(),
		}).Errorf("mismatch: got 0x%0*x, exp 0x%0*x",
			int(width)*2, actual, int(width)*2, expected)
	}

	if t.NumHooks() > 0 {
		t.InvokeHook(sim.HookCtx{
			Domain: t,
			Pos:    HookPosTransChecked,
			Item:   &rec,
		})
	}

	return rec.Match
}

// Mismatches returns the number of failed comparisons.
func (t *CompletionTracker) Mismatches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.mismatches
}

// Checks returns the number of comparisons made.
func (t *CompletionTracker) Checks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.checks
}

// Failures returns the first recorded mismatches.
func (t *CompletionTracker) Failures() []CompletionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]CompletionRecord, len(t.failures))
	copy(out, t.failures)

	return out
}
