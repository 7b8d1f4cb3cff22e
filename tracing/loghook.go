package tracing

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sarchlab/cosim/bridge"
	"github.com/sarchlab/cosim/sim"
)

// LogHook writes a debug line for every transaction that starts, completes,
// or is checked.
type LogHook struct {
	Logger log.FieldLogger
}

// NewLogHook creates a LogHook that writes into logger.
func NewLogHook(logger log.FieldLogger) *LogHook {
	return &LogHook{Logger: logger}
}

// Func writes the transaction information into the logger.
func (h *LogHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case bridge.HookPosTransStart:
		txn := ctx.Item.(*bridge.Transaction)
		h.entry(txn).WithField("cycle", txn.IssuedAt).Debug("start")
	case bridge.HookPosTransComplete:
		txn := ctx.Item.(*bridge.Transaction)
		entry := h.entry(txn).WithField("cycle", txn.CompletedAt)
		if err := txn.Err(); err != nil {
			entry = entry.WithError(err)
		}
		entry.Debug("complete")
	case bridge.HookPosTransChecked:
		rec := ctx.Item.(*bridge.CompletionRecord)
		h.entry(rec.Txn).WithFields(log.Fields{
			"addr":  fmt.Sprintf("0x%08x", rec.Address),
			"exp":   rec.Expected,
			"got":   rec.Actual,
			"match": rec.Match,
		}).Debug("check")
	}
}

func (h *LogHook) entry(txn *bridge.Transaction) *log.Entry {
	fields := log.Fields{
		"node": txn.Node,
		"seq":  txn.Seq,
		"op":   txn.Op.String(),
	}

	if txn.Op != bridge.OpIdle {
		fields["addr"] = fmt.Sprintf("0x%08x", txn.Address)
		fields["len"] = txn.Length
	} else {
		fields["cycles"] = txn.Cycles
	}

	return h.Logger.WithFields(fields)
}
