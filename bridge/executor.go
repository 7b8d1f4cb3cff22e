package bridge

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/mem"
	"github.com/sarchlab/cosim/sim"
)

// HookPosTransStart marks a transaction leaving the queue to execute. The
// item is the *Transaction.
var HookPosTransStart = &sim.HookPos{Name: "TransStart"}

// HookPosTransComplete marks a transaction finishing its execution. The item
// is the *Transaction.
var HookPosTransComplete = &sim.HookPos{Name: "TransComplete"}

// ExecutorState is the state of an executor.
type ExecutorState int

// Executor states.
const (
	ExecutorIdle ExecutorState = iota
	ExecutorExecuting
	ExecutorStopped
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorIdle:
		return "idle"
	case ExecutorExecuting:
		return "executing"
	case ExecutorStopped:
		return "stopped"
	default:
		return fmt.Sprintf("ExecutorState(%d)", int(s))
	}
}

type inflightTxn struct {
	txn       *Transaction
	remaining int
}

// An Executor drains one node's queue against the bus target, one simulation
// cycle at a time.
//
// Each cycle it retires the transactions whose latency has elapsed and then
// starts up to TransPerCycle new ones, as long as no more than PipelineDepth
// are in flight. Transactions complete in issue order. An idle transaction is
// a barrier: it starts on an empty pipeline and nothing starts while it
// holds the executor.
//
// When there is nothing to execute the executor parks the simulation until
// the node posts again, so that the simulated clock stays in lockstep with
// the software actor.
type Executor struct {
	*sim.TickingComponent

	queue  *TransactionQueue
	target mem.Target
	logger log.FieldLogger

	Latency       int
	TransPerCycle int
	PipelineDepth int

	state    ExecutorState
	head     *Transaction
	inflight []inflightTxn
	barrier  bool

	onStop func(finished bool)
}

// State returns the executor state.
func (e *Executor) State() ExecutorState {
	return e.state
}

// InFlight returns the number of transactions being executed.
func (e *Executor) InFlight() int {
	return len(e.inflight)
}

// Tick advances the executor by one cycle. It returns false once the node is
// done and the executor does not need to tick anymore.
func (e *Executor) Tick() bool {
	if e.state == ExecutorStopped {
		return false
	}

	e.retire()
	e.issue()
	e.updateState()

	return e.state != ExecutorStopped
}

func (e *Executor) retire() {
	for i := range e.inflight {
		e.inflight[i].remaining--
	}

	for len(e.inflight) > 0 && e.inflight[0].remaining <= 0 {
		txn := e.inflight[0].txn
		e.inflight = e.inflight[1:]

		e.complete(txn)

		if e.state == ExecutorStopped {
			return
		}
	}
}

func (e *Executor) issue() {
	if e.state == ExecutorStopped {
		return
	}

	for i := 0; i < e.TransPerCycle; i++ {
		if e.barrier || len(e.inflight) >= e.PipelineDepth {
			return
		}

		wait := len(e.inflight) == 0 && i == 0
		txn, ok := e.peek(wait)
		if !ok {
			if wait {
				e.stop(false)
			}

			return
		}

		if txn.Op == OpIdle && len(e.inflight) > 0 {
			return
		}

		e.head = nil
		e.start(txn)
	}
}

func (e *Executor) peek(wait bool) (*Transaction, bool) {
	if e.head != nil {
		return e.head, true
	}

	txn, ok := e.queue.next(wait)
	if ok {
		e.head = txn
	}

	return txn, ok
}

func (e *Executor) start(txn *Transaction) {
	txn.IssuedAt = e.CurrentTime()

	remaining := e.Latency
	if txn.Op == OpIdle {
		remaining = txn.Cycles
		e.barrier = true
	}

	e.inflight = append(e.inflight, inflightTxn{txn: txn, remaining: remaining})

	if e.NumHooks() > 0 {
		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Pos:    HookPosTransStart,
			Item:   txn,
		})
	}
}

func (e *Executor) complete(txn *Transaction) {
	txn.err = e.execute(txn)
	txn.CompletedAt = e.CurrentTime()
	txn.status = StatusComplete

	if txn.err != nil {
		e.logger.WithFields(log.Fields{
			"node": txn.Node,
			"seq":  txn.Seq,
		}).Errorf("%s failed: %v", txn, txn.err)
	}

	if e.NumHooks() > 0 {
		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Pos:    HookPosTransComplete,
			Item:   txn,
		})
	}

	if txn.Op == OpIdle {
		e.barrier = false
	}

	finish := txn.Finish

	e.queue.complete(txn)

	if finish {
		e.stop(true)
	}
}

func (e *Executor) execute(txn *Transaction) error {
	switch txn.Op {
	case OpWrite:
		return e.target.Write(txn.Address, txn.Data)
	case OpRead:
		data, err := e.target.Read(txn.Address, uint64(txn.Length))
		if err != nil {
			return err
		}

		txn.Data = data

		return nil
	case OpIdle:
		return nil
	default:
		return fmt.Errorf("unknown operation %s", txn.Op)
	}
}

func (e *Executor) updateState() {
	if e.state == ExecutorStopped {
		return
	}

	if len(e.inflight) > 0 {
		e.state = ExecutorExecuting
	} else {
		e.state = ExecutorIdle
	}
}

func (e *Executor) stop(finished bool) {
	e.state = ExecutorStopped

	if e.onStop != nil {
		e.onStop(finished)
	}
}
