package system

import (
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

// AccessMode says how a system touches one schema's store.
type AccessMode uint8

const (
	// Shared access allows any number of concurrent readers.
	Shared AccessMode = iota
	// Exclusive access allows exactly one writer and no readers.
	Exclusive
)

func (m AccessMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Access declares one store a system touches during Run.
type Access struct {
	Schema schema.SchemaID
	Mode   AccessMode
}

// Reads declares shared access to a store.
func Reads(id schema.SchemaID) Access { return Access{Schema: id, Mode: Shared} }

// Writes declares exclusive access to a store.
func Writes(id schema.SchemaID) Access { return Access{Schema: id, Mode: Exclusive} }

// Context is what a system's Run receives: the step being executed, the
// fixed timestep, and the views the dispatcher acquired on the system's
// behalf. Views are keyed by schema id and released by the dispatcher when
// Run returns, so systems never manage borrow lifetimes themselves.
type Context struct {
	Step  uint64
	Delta float64
	World *world.World

	shared    map[schema.SchemaID]*world.StoreView
	exclusive map[schema.SchemaID]*world.StoreMutView
}

// View returns the shared view the system declared for the schema, or nil
// when it declared none.
func (c *Context) View(id schema.SchemaID) *world.StoreView {
	return c.shared[id]
}

// ViewMut returns the exclusive view the system declared for the schema, or
// nil when it declared none.
func (c *Context) ViewMut(id schema.SchemaID) *world.StoreMutView {
	return c.exclusive[id]
}

// System is one unit of simulation logic: a name, the stores it touches,
// and a step function. Systems with only Shared declarations can never
// conflict with each other; an Exclusive declaration conflicts with every
// other declaration of the same schema.
type System struct {
	Name     string
	Accesses []Access
	Run      func(ctx *Context) error
}
