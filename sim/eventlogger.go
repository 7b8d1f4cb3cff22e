package sim

import (
	log "github.com/sirupsen/logrus"
)

// EventLogger is a hook that logs every event that the engine dispatches at
// trace level.
type EventLogger struct {
	Logger log.FieldLogger
}

// NewEventLogger returns a new EventLogger which writes into the logger.
func NewEventLogger(logger log.FieldLogger) *EventLogger {
	return &EventLogger{Logger: logger}
}

// Func writes the event information into the logger.
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}

	evt, ok := ctx.Item.(*ScheduledEvent)
	if !ok {
		return
	}

	entry := h.Logger.WithField("cycle", evt.Time)
	if comp, ok := evt.Handler.(Named); ok {
		entry = entry.WithField("component", comp.Name())
	}

	entry.Tracef("%T", evt.Event)
}
