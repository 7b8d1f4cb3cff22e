package bridge

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

// A Node is the transaction context of one software actor. All the bus
// operations of the actor go through its Node, and one Node must only be
// used from one goroutine at a time.
type Node struct {
	id     int
	name   string
	logger log.FieldLogger
	engine sim.TimeTeller

	queue    *TransactionQueue
	joiner   *AddressDataJoiner
	tracker  *CompletionTracker
	executor *Executor

	mu        sync.Mutex
	fatal     error
	userError bool
	finished  bool
	stopped   bool
	stoppedCh chan struct{}
}

// ID returns the node identifier.
func (n *Node) ID() int {
	return n.id
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Now returns the current simulation cycle.
func (n *Node) Now() sim.VTimeInCycle {
	return n.engine.CurrentTime()
}

// Executor returns the executor that drains the node's queue.
func (n *Node) Executor() *Executor {
	return n.executor
}

// Tracker returns the node's completion tracker.
func (n *Node) Tracker() *CompletionTracker {
	return n.tracker
}

// AcceptHook registers a hook on the executor and on the tracker of the
// node.
func (n *Node) AcceptHook(hook sim.Hook) {
	n.executor.AcceptHook(hook)
	n.tracker.AcceptHook(hook)
}

// Err returns the fatal error latched on the node, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.fatal
}

// Finished reports whether the node completed its end-of-run tick.
func (n *Node) Finished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.finished
}

// Passed reports whether the node ran without any mismatch, fatal error or
// user-reported error.
func (n *Node) Passed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.fatal == nil && !n.userError && n.tracker.Mismatches() == 0
}

func (n *Node) fail(err error) error {
	if err == nil {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fatal == nil {
		n.fatal = fmt.Errorf("%s: %w", n.name, err)
		n.logger.WithField("node", n.id).Errorf("fatal: %v", err)
	}

	return n.fatal
}

func (n *Node) usable() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fatal != nil {
		return n.fatal
	}

	if n.finished {
		return fmt.Errorf("%s: %w", n.name, ErrNodeFinished)
	}

	return nil
}

// post queues txn without waiting for it.
func (n *Node) post(txn *Transaction) error {
	if err := n.usable(); err != nil {
		return err
	}

	txn.Node = n.id

	if _, err := n.queue.Enqueue(txn); err != nil {
		return n.fail(err)
	}

	return nil
}

// call queues txn and waits for its completion. All the work posted before
// it is complete when call returns, since the queue executes in order.
func (n *Node) call(txn *Transaction) error {
	if err := n.usable(); err != nil {
		return err
	}

	if err := n.joiner.CheckBalanced(); err != nil {
		return n.fail(err)
	}

	txn.Sync = true
	if err := n.post(txn); err != nil {
		return err
	}

	return n.fail(n.tracker.Await(txn))
}

func scalarBytes(value uint32, width Width) []byte {
	return mem.PutScalar(value, int(width))
}

func newScalarWrite(address uint64, data uint32, width Width) *Transaction {
	txn := newTransaction(OpWrite)
	txn.Address = address
	txn.Width = width
	txn.Length = int(width)
	txn.Data = scalarBytes(data&width.Mask(), width)

	return txn
}

func newScalarRead(address uint64, width Width) *Transaction {
	txn := newTransaction(OpRead)
	txn.Address = address
	txn.Width = width
	txn.Length = int(width)

	return txn
}

// Write writes data of the given width and waits until it has executed.
func (n *Node) Write(address uint64, data uint32, width Width) error {
	if err := checkWidth(width); err != nil {
		return n.fail(err)
	}

	return n.call(newScalarWrite(address, data, width))
}

// WriteAsync posts a write and returns before it executes.
func (n *Node) WriteAsync(address uint64, data uint32, width Width) error {
	if err := checkWidth(width); err != nil {
		return n.fail(err)
	}

	return n.post(newScalarWrite(address, data, width))
}

// Read reads a value of the given width and waits for the result.
func (n *Node) Read(address uint64, width Width) (uint32, error) {
	if err := checkWidth(width); err != nil {
		return 0, n.fail(err)
	}

	txn := newScalarRead(address, width)
	if err := n.call(txn); err != nil {
		return 0, err
	}

	return mem.Scalar(txn.Data), nil
}

// ReadCheck reads a value and compares it with expected. A mismatch is
// recorded and reported as false; it is not an error.
func (n *Node) ReadCheck(
	address uint64,
	width Width,
	expected uint32,
) (bool, error) {
	if err := checkWidth(width); err != nil {
		return false, n.fail(err)
	}

	txn := newScalarRead(address, width)
	if err := n.call(txn); err != nil {
		return false, err
	}

	return n.tracker.Check(txn, expected), nil
}

// WriteAddressAsync posts the address phase of a write. The write executes
// once its data phase is posted.
func (n *Node) WriteAddressAsync(address uint64) error {
	if err := n.usable(); err != nil {
		return err
	}

	txn, err := n.joiner.PostAddress(DirWrite, address)
	if err != nil {
		return n.fail(err)
	}

	if txn == nil {
		return nil
	}

	return n.post(txn)
}

// WriteDataAsync posts the data phase of a write of the given width.
func (n *Node) WriteDataAsync(data uint32, width Width) error {
	return n.WriteDataLaneAsync(data, width, NoLane)
}

// WriteDataLaneAsync posts the data phase of a write, placed on the given
// byte lane of the bus word. The paired address must sit on that lane.
func (n *Node) WriteDataLaneAsync(data uint32, width Width, lane int) error {
	if err := n.usable(); err != nil {
		return err
	}

	txn, err := n.joiner.PostData(DirWrite, data, width, lane)
	if err != nil {
		return n.fail(err)
	}

	if txn == nil {
		return nil
	}

	return n.post(txn)
}

// ReadAddressAsync posts a read of the bus word holding address. Its data is
// checked later with ReadDataCheck.
func (n *Node) ReadAddressAsync(address uint64) error {
	if err := n.usable(); err != nil {
		return err
	}

	txn, err := n.joiner.PostAddress(DirRead, address)
	if err != nil {
		return n.fail(err)
	}

	n.tracker.TrackRead(txn)

	if err := n.post(txn); err != nil {
		n.tracker.Untrack(txn)
		return err
	}

	return nil
}

// ReadDataCheck compares the oldest unchecked asynchronous read with
// expected, taking width bytes from the lane of the read address. Calling it
// with no asynchronous read outstanding is a fatal ErrCheckUnderflow.
func (n *Node) ReadDataCheck(expected uint32, width Width) (bool, error) {
	if err := n.usable(); err != nil {
		return false, err
	}

	match, err := n.tracker.DeferredCheck(expected, width)
	if err != nil {
		return false, n.fail(err)
	}

	return match, nil
}

func newBurstWrite(address uint64, data []byte) *Transaction {
	txn := newTransaction(OpWrite)
	txn.Address = address
	txn.Length = len(data)
	txn.Data = data

	return txn
}

func newBurstRead(address uint64, length int) *Transaction {
	txn := newTransaction(OpRead)
	txn.Address = address
	txn.Length = length

	return txn
}

// BurstWrite writes buf starting at address and waits until it has executed.
func (n *Node) BurstWrite(address uint64, buf []byte) error {
	return n.call(newBurstWrite(address, cloneBytes(buf)))
}

// BurstWriteAsync posts a burst write. buf is copied, so the caller may reuse
// it right away.
func (n *Node) BurstWriteAsync(address uint64, buf []byte) error {
	return n.post(newBurstWrite(address, cloneBytes(buf)))
}

// BurstRead reads length bytes starting at address.
func (n *Node) BurstRead(address uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, n.fail(fmt.Errorf("negative burst length %d", length))
	}

	txn := newBurstRead(address, length)
	if err := n.call(txn); err != nil {
		return nil, err
	}

	return txn.Data, nil
}

// BurstWriteIncrement writes length incrementing bytes starting with start
// and waits until the burst has executed.
func (n *Node) BurstWriteIncrement(
	address uint64,
	start byte,
	length int,
) error {
	return n.burstWritePattern(address, IncrementPattern(start), length, true)
}

// BurstWriteIncrementAsync posts a burst of incrementing bytes.
func (n *Node) BurstWriteIncrementAsync(
	address uint64,
	start byte,
	length int,
) error {
	return n.burstWritePattern(address, IncrementPattern(start), length, false)
}

// BurstWriteRandom writes length pseudo-random bytes selected by seed and
// waits until the burst has executed.
func (n *Node) BurstWriteRandom(address uint64, seed uint32, length int) error {
	return n.burstWritePattern(address, RandomPattern(seed), length, true)
}

// BurstWriteRandomAsync posts a burst of pseudo-random bytes.
func (n *Node) BurstWriteRandomAsync(
	address uint64,
	seed uint32,
	length int,
) error {
	return n.burstWritePattern(address, RandomPattern(seed), length, false)
}

// BurstReadCheckIncrement reads length bytes and compares them with the
// incrementing sequence from start. It returns the number of mismatching
// bytes.
func (n *Node) BurstReadCheckIncrement(
	address uint64,
	start byte,
	length int,
) (int, error) {
	return n.burstReadCheck(address, IncrementPattern(start), length)
}

// BurstReadCheckRandom reads length bytes and compares them with the
// pseudo-random sequence of seed. It returns the number of mismatching bytes.
func (n *Node) BurstReadCheckRandom(
	address uint64,
	seed uint32,
	length int,
) (int, error) {
	return n.burstReadCheck(address, RandomPattern(seed), length)
}

func (n *Node) burstWritePattern(
	address uint64,
	p Pattern,
	length int,
	sync bool,
) error {
	desc := BurstDescriptor{Address: address, Length: length, Pattern: p}
	txn := newBurstWrite(address, desc.Materialize())

	if sync {
		return n.call(txn)
	}

	return n.post(txn)
}

func (n *Node) burstReadCheck(
	address uint64,
	p Pattern,
	length int,
) (int, error) {
	txn := newBurstRead(address, length)
	if err := n.call(txn); err != nil {
		return 0, err
	}

	desc := BurstDescriptor{Address: address, Length: length, Pattern: p}

	return n.tracker.CheckBurst(txn, desc), nil
}

// WaitIdle blocks until every transaction posted so far has executed.
func (n *Node) WaitIdle() error {
	if err := n.usable(); err != nil {
		return err
	}

	if err := n.joiner.CheckBalanced(); err != nil {
		return n.fail(err)
	}

	return n.fail(n.queue.WaitIdle())
}

// Tick lets the simulation run extraCycles more cycles for this node and
// waits for them. errorFlag adds the caller's own verdict to the node result.
// With finished set the node ends its run: the executor stops after the
// extra cycles and later calls fail with ErrNodeFinished.
//
// Tick returns whether the node has passed so far.
func (n *Node) Tick(extraCycles int, finished, errorFlag bool) (bool, error) {
	if extraCycles < 0 {
		return false, n.fail(fmt.Errorf("negative tick count %d", extraCycles))
	}

	n.mu.Lock()
	if errorFlag {
		n.userError = true
	}
	n.mu.Unlock()

	txn := newTransaction(OpIdle)
	txn.Cycles = extraCycles
	txn.Finish = finished

	if err := n.call(txn); err != nil {
		return false, err
	}

	if finished {
		n.markFinished()
	}

	return n.Passed(), nil
}

func (n *Node) markFinished() {
	n.mu.Lock()
	n.finished = true
	n.mu.Unlock()

	if left := n.tracker.Outstanding(); left > 0 {
		n.logger.WithField("node", n.id).
			Warnf("finished with %d asynchronous reads never checked", left)
	}
}

// Close tells the bridge that the software actor of this node is done. Work
// already posted still executes. Closing with unpaired write phases latches
// ErrPhaseMismatch.
func (n *Node) Close() {
	if !n.Finished() {
		if err := n.joiner.CheckBalanced(); err != nil {
			_ = n.fail(err)
		}
	}

	n.queue.Close()
}

func (n *Node) onExecutorStop(finished bool) {
	n.mu.Lock()
	alreadyStopped := n.stopped
	n.stopped = true
	n.mu.Unlock()

	if alreadyStopped {
		return
	}

	close(n.stoppedCh)

	if !finished {
		n.logger.WithField("node", n.id).
			Warn("software actor left without finishing the run")
	}
}

// Stopped is closed once the node's executor stopped ticking.
func (n *Node) Stopped() <-chan struct{} {
	return n.stoppedCh
}

func (n *Node) abort(err error) {
	n.queue.Abort(err)
}

// Stats is a snapshot of a node's progress.
type Stats struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	Enqueued      uint64 `json:"enqueued"`
	Completed     uint64 `json:"completed"`
	QueueLen      int    `json:"queue_len"`
	QueueCapacity int    `json:"queue_capacity"`
	Outstanding   int    `json:"outstanding"`
	PendingAddrs  int    `json:"pending_addrs"`
	PendingData   int    `json:"pending_data"`
	DeferredReads int    `json:"deferred_reads"`
	Checks        uint64 `json:"checks"`
	Mismatches    uint64 `json:"mismatches"`
	Finished      bool   `json:"finished"`
	Passed        bool   `json:"passed"`
	Error         string `json:"error,omitempty"`
}

// Stats returns a snapshot of the node. It is safe to call from any
// goroutine.
func (n *Node) Stats() Stats {
	enqueued, completed := n.queue.Counters()
	addrs, data := n.joiner.Pending()

	s := Stats{
		ID:            n.id,
		Name:          n.name,
		State:         n.stateName(),
		Enqueued:      enqueued,
		Completed:     completed,
		QueueLen:      n.queue.Len(),
		QueueCapacity: n.queue.Capacity(),
		Outstanding:   n.queue.Outstanding(),
		PendingAddrs:  addrs,
		PendingData:   data,
		DeferredReads: n.tracker.Outstanding(),
		Checks:        n.tracker.Checks(),
		Mismatches:    n.tracker.Mismatches(),
		Finished:      n.Finished(),
		Passed:        n.Passed(),
	}

	if err := n.Err(); err != nil {
		s.Error = err.Error()
	}

	return s
}

func (n *Node) stateName() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return ExecutorStopped.String()
	}

	if n.queue.Outstanding() > 0 {
		return ExecutorExecuting.String()
	}

	return ExecutorIdle.String()
}

func cloneBytes(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)

	return out
}

// IsProtocolError reports whether err is one of the fatal protocol misuse
// errors of the bridge.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrQueueOverflow) ||
		errors.Is(err, ErrCheckUnderflow) ||
		errors.Is(err, ErrPhaseMismatch) ||
		errors.Is(err, ErrLaneMismatch) ||
		errors.Is(err, ErrInvalidWidth) ||
		errors.Is(err, ErrNodeFinished)
}
