package sim

// VTimeInCycle is the simulated time, counted in clock cycles since the
// simulation started.
type VTimeInCycle uint64

// A Handler processes the events that are scheduled for it. Events are plain
// values; handlers type-switch on them.
type Handler interface {
	Handle(evt any) error
}

// ScheduledEvent wraps an event payload with the metadata that the engine
// needs to dispatch it.
type ScheduledEvent struct {
	// ID uniquely identifies the scheduled event.
	ID string

	// Event is the payload delivered to the handler.
	Event any

	// Time is the cycle at which the event is handled.
	Time VTimeInCycle

	// Handler is the component that handles the event.
	Handler Handler

	// IsSecondary events are handled after all the primary events scheduled
	// at the same cycle.
	IsSecondary bool
}

// TickEvent asks a ticking component to update its state for one cycle.
type TickEvent struct{}
