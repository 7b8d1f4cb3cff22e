package tracing

import (
	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/sim"
)

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	EndTask(task Task)
}

// NamedHookable is a hookable object with a name.
type NamedHookable interface {
	sim.Named
	sim.Hookable
}

// CollectTrace lets the tracer collect the transactions that domain executes.
func CollectTrace(domain NamedHookable, tracer Tracer) {
	domain.AcceptHook(&traceHook{t: tracer, where: domain.Name()})
}

// CollectNodeTrace lets the tracer collect the transactions of a node.
func CollectNodeTrace(n *bridge.Node, tracer Tracer) {
	CollectTrace(n.Executor(), tracer)
}

// A traceHook turns transaction hooks into tasks.
type traceHook struct {
	t     Tracer
	where string
}

// Func calls the tracer interfaces when the hook is triggered
func (h *traceHook) Func(ctx sim.HookCtx) {
	txn, ok := ctx.Item.(*bridge.Transaction)
	if !ok {
		return
	}

	switch ctx.Pos {
	case bridge.HookPosTransStart:
		h.t.StartTask(h.task(txn))
	case bridge.HookPosTransComplete:
		h.t.EndTask(h.task(txn))
	}
}

func (h *traceHook) task(txn *bridge.Transaction) Task {
	kind := "scalar"
	switch {
	case txn.Op == bridge.OpIdle:
		kind = "idle"
	case txn.IsBurst():
		kind = "burst"
	}

	return Task{
		ID:        txn.ID,
		Kind:      kind,
		What:      txn.Op.String(),
		Where:     h.where,
		StartTime: txn.IssuedAt,
		EndTime:   txn.CompletedAt,
		Detail:    txn,
	}
}
