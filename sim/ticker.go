package sim

import (
	"fmt"
	"sync"
)

// A Ticker is an object that updates states with ticks. Tick returns true if
// the ticker made progress and wants to tick again in the next cycle.
type Ticker interface {
	Tick() bool
}

// TickScheduler can help schedule tick events.
type TickScheduler struct {
	lock    sync.Mutex
	handler Handler
	Engine  EventScheduler

	scheduled    bool
	nextTickTime VTimeInCycle
}

// NewTickScheduler creates a scheduler for tick events.
func NewTickScheduler(handler Handler, engine EventScheduler) *TickScheduler {
	return &TickScheduler{
		handler: handler,
		Engine:  engine,
	}
}

// TickNow schedules a tick event at the current cycle.
func (t *TickScheduler) TickNow() {
	t.scheduleAt(t.Engine.CurrentTime())
}

// TickLater schedules a tick event at the next cycle.
func (t *TickScheduler) TickLater() {
	t.scheduleAt(t.Engine.CurrentTime() + 1)
}

func (t *TickScheduler) scheduleAt(cycle VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.scheduled && t.nextTickTime >= cycle {
		return
	}

	t.scheduled = true
	t.nextTickTime = cycle

	t.Engine.Schedule(ScheduledEvent{
		Event:   TickEvent{},
		Time:    cycle,
		Handler: t.handler,
	})
}

// CurrentTime returns the current cycle of the engine.
func (t *TickScheduler) CurrentTime() VTimeInCycle {
	return t.Engine.CurrentTime()
}

// TickingComponent is a type of component that updates states from cycle to
// cycle. A programmer only needs to provide the Tick function.
type TickingComponent struct {
	*ComponentBase
	*TickScheduler

	ticker Ticker
}

// Handle triggers the tick function of the TickingComponent.
func (c *TickingComponent) Handle(evt any) error {
	switch evt.(type) {
	case TickEvent:
		madeProgress := c.ticker.Tick()
		if madeProgress {
			c.TickLater()
		}
	default:
		return fmt.Errorf("%s: cannot handle event of type %T", c.Name(), evt)
	}

	return nil
}

// NewTickingComponent creates a new ticking component.
func NewTickingComponent(
	name string,
	engine EventScheduler,
	ticker Ticker,
) *TickingComponent {
	tc := new(TickingComponent)
	tc.TickScheduler = NewTickScheduler(tc, engine)
	tc.ComponentBase = NewComponentBase(name)
	tc.ticker = ticker

	return tc
}
