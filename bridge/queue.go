package bridge

import (
	"fmt"
	"strings"
	"sync"
)

// OverflowPolicy decides what happens when a node posts into a full queue.
type OverflowPolicy int

// Overflow policies.
const (
	// OverflowFail rejects the transaction with ErrQueueOverflow.
	OverflowFail OverflowPolicy = iota

	// OverflowBlock parks the producer until the executor frees a slot.
	OverflowBlock
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowFail:
		return "fail"
	case OverflowBlock:
		return "block"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy converts "fail" or "block" into an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail", "":
		return OverflowFail, nil
	case "block":
		return OverflowBlock, nil
	default:
		return OverflowFail, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// A TransactionQueue is the bounded single-producer single-consumer FIFO
// between one node's software actor and its executor.
type TransactionQueue struct {
	ch     chan *Transaction
	policy OverflowPolicy

	mu          sync.Mutex
	idle        *sync.Cond
	nextSeq     uint64
	outstanding int
	enqueued    uint64
	completed   uint64

	closeOnce sync.Once
	closed    chan struct{}

	abortOnce sync.Once
	aborted   chan struct{}
	abortErr  error
}

// NewTransactionQueue creates a queue that holds up to capacity transactions
// waiting for execution.
func NewTransactionQueue(
	capacity int,
	policy OverflowPolicy,
) *TransactionQueue {
	if capacity <= 0 {
		panic("transaction queue capacity must be positive")
	}

	q := &TransactionQueue{
		ch:      make(chan *Transaction, capacity),
		policy:  policy,
		closed:  make(chan struct{}),
		aborted: make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)

	return q
}

// Capacity returns the number of transactions the queue holds.
func (q *TransactionQueue) Capacity() int {
	return cap(q.ch)
}

// Len returns the number of transactions waiting for the executor.
func (q *TransactionQueue) Len() int {
	return len(q.ch)
}

// Outstanding returns the number of enqueued transactions that have not
// completed, including the ones being executed.
func (q *TransactionQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.outstanding
}

// Counters returns how many transactions were enqueued and completed.
func (q *TransactionQueue) Counters() (enqueued, completed uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.enqueued, q.completed
}

// Enqueue assigns the next issue sequence number to txn and appends it to the
// queue.
func (q *TransactionQueue) Enqueue(txn *Transaction) (*Transaction, error) {
	q.mu.Lock()
	if err := q.abortErrLocked(); err != nil {
		q.mu.Unlock()
		return nil, err
	}

	if q.IsClosed() {
		q.mu.Unlock()
		return nil, fmt.Errorf("enqueue on a closed queue: %w", ErrNodeFinished)
	}

	txn.Seq = q.nextSeq

	select {
	case q.ch <- txn:
		q.accept()
		q.mu.Unlock()
		return txn, nil
	default:
	}

	if q.policy == OverflowFail {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: capacity %d, %s",
			ErrQueueOverflow, cap(q.ch), txn)
	}

	// Only the producer assigns sequence numbers, so the reservation holds
	// while it waits for a free slot.
	q.accept()
	q.mu.Unlock()

	select {
	case q.ch <- txn:
		return txn, nil
	case <-q.aborted:
		return nil, q.abortErr
	}
}

func (q *TransactionQueue) accept() {
	q.nextSeq++
	q.outstanding++
	q.enqueued++
}

// next returns the next transaction. With wait set, it parks until the
// producer posts or closes the queue, or the queue is aborted. ok is false
// when nothing is available.
func (q *TransactionQueue) next(wait bool) (txn *Transaction, ok bool) {
	select {
	case txn = <-q.ch:
		return txn, true
	default:
	}

	if !wait {
		return nil, false
	}

	select {
	case txn = <-q.ch:
		return txn, true
	case <-q.closed:
		select {
		case txn = <-q.ch:
			return txn, true
		default:
			return nil, false
		}
	case <-q.aborted:
		return nil, false
	}
}

// complete marks txn done and releases anyone waiting on it.
func (q *TransactionQueue) complete(txn *Transaction) {
	q.mu.Lock()
	q.outstanding--
	q.completed++
	if q.outstanding == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()

	close(txn.done)
}

// Await blocks until txn completes and returns its execution error.
func (q *TransactionQueue) Await(txn *Transaction) error {
	select {
	case <-txn.done:
		return txn.err
	case <-q.aborted:
		select {
		case <-txn.done:
			return txn.err
		default:
			return q.abortErr
		}
	}
}

// WaitIdle blocks until every transaction enqueued so far has completed.
func (q *TransactionQueue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.outstanding > 0 {
		if err := q.abortErrLocked(); err != nil {
			return err
		}

		q.idle.Wait()
	}

	return nil
}

// Close tells the executor that the producer will not post anymore. The
// transactions already queued still execute.
func (q *TransactionQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// IsClosed reports whether Close was called.
func (q *TransactionQueue) IsClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Abort releases every waiter with err. It is used when the simulation stops
// before the queue drains.
func (q *TransactionQueue) Abort(err error) {
	q.abortOnce.Do(func() {
		q.mu.Lock()
		q.abortErr = ErrAborted
		if err != nil {
			q.abortErr = fmt.Errorf("%w: %w", ErrAborted, err)
		}
		close(q.aborted)
		q.idle.Broadcast()
		q.mu.Unlock()
	})
}

func (q *TransactionQueue) abortErrLocked() error {
	select {
	case <-q.aborted:
		return q.abortErr
	default:
		return nil
	}
}
