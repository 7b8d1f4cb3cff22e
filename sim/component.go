package sim

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Component is an element that is being simulated.
type Component interface {
	Named
	Handler
	Hookable
}

// ComponentBase provides some functions that other component can use.
type ComponentBase struct {
	*HookableBase
	name string
}

// NewComponentBase creates a new ComponentBase.
func NewComponentBase(name string) *ComponentBase {
	return &ComponentBase{
		HookableBase: NewHookableBase(),
		name:         name,
	}
}

// Name returns the name of the component.
func (c *ComponentBase) Name() string {
	return c.name
}
