package tracing

import (
	"sync"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/sim"
)

// Table names of a recording.
const (
	TransTableName = "trans"
	CheckTableName = "checks"
)

// TransEntry is a row of the transaction table.
type TransEntry struct {
	ID        string
	Node      int
	Seq       uint64
	Kind      string
	Op        string
	Location  string
	Address   uint64
	Length    int
	StartTime uint64
	EndTime   uint64
	Error     string
}

// CheckEntry is a row of the check table.
type CheckEntry struct {
	TransID  string
	Node     int
	Seq      uint64
	Address  uint64
	Width    int
	Expected uint32
	Actual   uint32
	Match    bool
	Deferred bool
}

// DBTracer is a tracer that stores transactions and checks into a data
// recorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInCycle

	tracingTasks map[string]Task
	numTrans     int
	numChecks    int
}

// NewDBTracer creates a new DBTracer and the tables it writes.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	backend datarecording.DataRecorder,
) *DBTracer {
	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		tracingTasks: make(map[string]Task),
	}

	backend.CreateTable(TransTableName, TransEntry{})
	backend.CreateTable(CheckTableName, CheckEntry{})

	return t
}

// SetTimeRange sets the cycles between which transactions are recorded. An
// end of 0 records until the end of the simulation.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInCycle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a transaction.
func (t *DBTracer) StartTask(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.timeTeller.CurrentTime()
	if now < t.startTime || (t.endTime > 0 && now > t.endTime) {
		return
	}

	task.StartTime = now
	t.tracingTasks[task.ID] = task
}

// EndTask marks the end of a transaction and records it.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	original.EndTime = t.timeTeller.CurrentTime()

	entry := TransEntry{
		ID:        original.ID,
		Kind:      original.Kind,
		Op:        original.What,
		Location:  original.Where,
		StartTime: uint64(original.StartTime),
		EndTime:   uint64(original.EndTime),
	}

	if txn, ok := task.Detail.(*bridge.Transaction); ok {
		entry.Node = txn.Node
		entry.Seq = txn.Seq
		entry.Address = txn.Address
		entry.Length = txn.Length

		if err := txn.Err(); err != nil {
			entry.Error = err.Error()
		}
	}

	t.backend.InsertData(TransTableName, entry)
	t.numTrans++
}

// Func records the checks that the completion tracker makes.
func (t *DBTracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != bridge.HookPosTransChecked {
		return
	}

	rec := ctx.Item.(*bridge.CompletionRecord)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.InsertData(CheckTableName, CheckEntry{
		TransID:  rec.Txn.ID,
		Node:     rec.Txn.Node,
		Seq:      rec.Txn.Seq,
		Address:  rec.Address,
		Width:    int(rec.Width),
		Expected: rec.Expected,
		Actual:   rec.Actual,
		Match:    rec.Match,
		Deferred: rec.Deferred,
	})
	t.numChecks++
}

// Counts returns the number of transactions and checks recorded.
func (t *DBTracer) Counts() (trans, checks int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.numTrans, t.numChecks
}

// Handle flushes the recorder when the simulation ends.
func (t *DBTracer) Handle(_ sim.VTimeInCycle) {
	t.backend.Flush()
}

// RecordNode attaches the tracer to the executor and the tracker of a node.
func (t *DBTracer) RecordNode(n *bridge.Node) {
	CollectNodeTrace(n, t)
	n.Tracker().AcceptHook(t)
}
