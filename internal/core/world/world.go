package world

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/lockstep-engine/lockstep/internal/core/events/bus"
	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/storage"
	"github.com/lockstep-engine/lockstep/internal/core/value"
	"github.com/lockstep-engine/lockstep/pkg/sequence"
)

// Lifecycle event types published on the world's bus.
const (
	EventEntityCreated   = "world.entity.created"
	EventEntityDestroyed = "world.entity.destroyed"
	EventStoreInit       = "world.store.init"
	EventResourceSet     = "world.resource.set"
	EventSnapshotTaken   = "world.snapshot.taken"
	EventRestored        = "world.restored"
	EventReset           = "world.reset"
)

type storeCell struct {
	borrow borrowCell
	store  *storage.ComponentStore
}

type resourceCell struct {
	borrow borrowCell
	box    *value.Box
}

// World owns the entity allocator, one component store per initialized
// schema, and one resource slot per schema. All component access flows
// through borrow-checked views; a conflicting borrow panics with
// *BorrowError while a missing store stays a recoverable error.
//
// A World is confined to one goroutine. Determinism comes from that
// confinement plus ascending-index iteration everywhere.
type World struct {
	id       uuid.UUID
	registry *schema.Registry
	log      log.Log
	bus      *bus.Bus

	entities  Allocator
	stores    map[schema.SchemaID]*storeCell
	resources map[schema.SchemaID]*resourceCell
}

// Option configures a World at construction.
type Option func(*World)

// WithLogger overrides the default process logger.
func WithLogger(l log.Log) Option { return func(w *World) { w.log = l } }

// WithBus attaches an event bus for lifecycle events. Without one the world
// publishes nothing.
func WithBus(b *bus.Bus) Option { return func(w *World) { w.bus = b } }

// New creates an empty world over the registry.
func New(r *schema.Registry, opts ...Option) *World {
	w := &World{
		id:        uuid.New(),
		registry:  r,
		log:       log.Default(),
		stores:    make(map[schema.SchemaID]*storeCell),
		resources: make(map[schema.SchemaID]*resourceCell),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(log.String("world", w.id.String()))
	return w
}

// ID returns the world's identity.
func (w *World) ID() uuid.UUID { return w.id }

// Registry returns the schema registry the world was built over.
func (w *World) Registry() *schema.Registry { return w.registry }

// Bus returns the attached event bus, or nil.
func (w *World) Bus() *bus.Bus { return w.bus }

func (w *World) publish(typ string, data any) {
	if w.bus != nil {
		w.bus.Publish(bus.NewEvent(typ, w.id.String(), data))
	}
}

// CreateEntity allocates a live entity handle.
func (w *World) CreateEntity() Entity {
	e := w.entities.Create()
	w.publish(EventEntityCreated, e)
	return e
}

// DestroyEntity frees the entity and discards its components from every
// initialized store. Destroying while any store is borrowed is a borrow
// violation and panics.
func (w *World) DestroyEntity(e Entity) bool {
	if !w.entities.Alive(e) {
		return false
	}
	for _, cell := range w.stores {
		cell.borrow.acquireExclusive()
		cell.store.Discard(int(e.Index))
		cell.borrow.releaseExclusive()
	}
	w.entities.Destroy(e)
	w.publish(EventEntityDestroyed, e)
	return true
}

// Alive reports whether the handle names a live entity.
func (w *World) Alive(e Entity) bool { return w.entities.Alive(e) }

// EntityCount returns the number of live entities.
func (w *World) EntityCount() int { return w.entities.Count() }

// InitStore creates the component store for a schema. Initializing twice is
// a no-op; a pointer-bearing schema without a Go type fails with the
// storage layer's representability error.
func (w *World) InitStore(s *schema.Schema) error {
	if _, ok := w.stores[s.ID()]; ok {
		return nil
	}
	store, err := storage.NewComponentStore(s)
	if err != nil {
		return fmt.Errorf("world: init store %q: %w", s.Name(), err)
	}
	w.stores[s.ID()] = &storeCell{
		borrow: borrowCell{name: s.Name()},
		store:  store,
	}
	w.log.Debug("component store initialized",
		log.String("schema", s.Name()),
		log.Uint32("schema_id", uint32(s.ID())))
	w.publish(EventStoreInit, s.ID())
	return nil
}

// StoreInitialized reports whether a store exists for the schema id.
func (w *World) StoreInitialized(id schema.SchemaID) bool {
	_, ok := w.stores[id]
	return ok
}

func (w *World) cell(id schema.SchemaID) (*storeCell, error) {
	cell, ok := w.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: schema id %d", ErrStoreNotInitialized, id)
	}
	return cell, nil
}

// View borrows the store for shared access.
func (w *World) View(id schema.SchemaID) (*StoreView, error) {
	cell, err := w.cell(id)
	if err != nil {
		return nil, err
	}
	cell.borrow.acquireShared()
	return &StoreView{world: w, cell: cell}, nil
}

// ViewMut borrows the store for exclusive access.
func (w *World) ViewMut(id schema.SchemaID) (*StoreMutView, error) {
	cell, err := w.cell(id)
	if err != nil {
		return nil, err
	}
	cell.borrow.acquireExclusive()
	return &StoreMutView{StoreView: StoreView{world: w, cell: cell}}, nil
}

// Mask intersects the liveness bitset with the occupancy bitsets of every
// listed store: the classic "entities having all of these components"
// query mask.
func (w *World) Mask(ids ...schema.SchemaID) (storage.Bitset, error) {
	mask := w.entities.Bits().Clone()
	for _, id := range ids {
		cell, err := w.cell(id)
		if err != nil {
			return storage.Bitset{}, err
		}
		mask.And(cell.store.Bits())
	}
	return mask, nil
}

// EntitiesWith returns an iterator over live entities holding all the listed
// components, in ascending index order.
func (w *World) EntitiesWith(ids ...schema.SchemaID) (*sequence.Iterator[Entity], error) {
	mask, err := w.Mask(ids...)
	if err != nil {
		return nil, err
	}
	var out []Entity
	mask.Iter(func(i int) bool {
		out = append(out, Entity{Index: uint32(i), Generation: w.entities.generations[i]})
		return true
	})
	return sequence.From(out), nil
}

// SetResource installs or replaces the singleton resource for the box's
// schema, consuming the box. Replacement drops the previous value.
func (w *World) SetResource(b *value.Box) {
	id := b.Schema().ID()
	cell, ok := w.resources[id]
	if !ok {
		cell = &resourceCell{borrow: borrowCell{name: "resource " + b.Schema().Name()}}
		w.resources[id] = cell
	}
	cell.borrow.acquireExclusive()
	if cell.box != nil {
		cell.box.Drop()
	}
	cell.box = b
	cell.borrow.releaseExclusive()
	w.publish(EventResourceSet, id)
}

// Resource borrows the resource for shared access.
func (w *World) Resource(id schema.SchemaID) (*ResourceView, error) {
	cell, ok := w.resources[id]
	if !ok || cell.box == nil {
		return nil, fmt.Errorf("%w: schema id %d", ErrResourceNotInitialized, id)
	}
	cell.borrow.acquireShared()
	return &ResourceView{cell: cell}, nil
}

// ResourceMut borrows the resource for exclusive access.
func (w *World) ResourceMut(id schema.SchemaID) (*ResourceMutView, error) {
	cell, ok := w.resources[id]
	if !ok || cell.box == nil {
		return nil, fmt.Errorf("%w: schema id %d", ErrResourceNotInitialized, id)
	}
	cell.borrow.acquireExclusive()
	return &ResourceMutView{ResourceView: ResourceView{cell: cell, exclusive: true}}, nil
}

// RemoveResource drops the resource, returning false when it was absent.
// Removing a borrowed resource is a borrow violation.
func (w *World) RemoveResource(id schema.SchemaID) bool {
	cell, ok := w.resources[id]
	if !ok || cell.box == nil {
		return false
	}
	cell.borrow.acquireExclusive()
	cell.box.Drop()
	cell.box = nil
	cell.borrow.releaseExclusive()
	return true
}

// Reset destroys every entity, clears every component store, and drops every
// resource except those whose schema id is listed in keep. Requires no live
// borrows anywhere.
func (w *World) Reset(keep ...schema.SchemaID) {
	kept := make(map[schema.SchemaID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	for _, cell := range w.stores {
		cell.borrow.acquireExclusive()
	}
	for _, cell := range w.resources {
		cell.borrow.acquireExclusive()
	}
	w.entities.Reset()
	for _, cell := range w.stores {
		cell.store.Reset()
		cell.borrow.releaseExclusive()
	}
	for id, cell := range w.resources {
		if cell.box != nil && !kept[id] {
			cell.box.Drop()
			cell.box = nil
		}
		cell.borrow.releaseExclusive()
	}
	w.publish(EventReset, nil)
}

// StoreView is a shared borrow of one component store. Release it when done;
// a forgotten release wedges every future exclusive borrow, which the borrow
// cell reports as a violation at the next conflicting access.
type StoreView struct {
	world    *World
	cell     *storeCell
	released bool
}

// Schema returns the viewed store's schema.
func (v *StoreView) Schema() *schema.Schema { return v.cell.store.Schema() }

// Count returns the number of entities holding this component.
func (v *StoreView) Count() int { return v.cell.store.Count() }

// Bits exposes the occupancy bitset for mask building.
func (v *StoreView) Bits() *storage.Bitset { return v.cell.store.Bits() }

// Get returns a shared reference to the entity's component.
func (v *StoreView) Get(e Entity) (value.Ref, bool) {
	v.check()
	if !v.world.entities.Alive(e) {
		return value.Ref{}, false
	}
	return v.cell.store.Get(int(e.Index))
}

// Iter visits components of entities set in mask, ascending by index.
func (v *StoreView) Iter(mask *storage.Bitset, fn func(e Entity, r value.Ref) bool) {
	v.check()
	v.cell.store.IterMasked(mask, func(i int, r value.Ref) bool {
		return fn(Entity{Index: uint32(i), Generation: v.world.entities.generations[i]}, r)
	})
}

// Release returns the shared borrow. Idempotent.
func (v *StoreView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.cell.borrow.releaseShared()
}

func (v *StoreView) check() {
	if v.released {
		panic("world: use of a released store view")
	}
}

// StoreMutView is an exclusive borrow of one component store.
type StoreMutView struct {
	StoreView
}

// Insert moves the boxed component onto the entity, consuming the box.
func (v *StoreMutView) Insert(e Entity, b *value.Box) error {
	v.check()
	if !v.world.entities.Alive(e) {
		return ErrDeadEntity
	}
	v.cell.store.Insert(int(e.Index), b)
	return nil
}

// InsertDefault default-constructs the component in place.
func (v *StoreMutView) InsertDefault(e Entity) (value.RefMut, error) {
	v.check()
	if !v.world.entities.Alive(e) {
		return value.RefMut{}, ErrDeadEntity
	}
	return v.cell.store.InsertDefault(int(e.Index))
}

// GetMut returns an exclusive reference to the entity's component.
func (v *StoreMutView) GetMut(e Entity) (value.RefMut, bool) {
	v.check()
	if !v.world.entities.Alive(e) {
		return value.RefMut{}, false
	}
	return v.cell.store.GetMut(int(e.Index))
}

// Remove takes the component off the entity, returning ownership, or nil.
func (v *StoreMutView) Remove(e Entity) *value.Box {
	v.check()
	if !v.world.entities.Alive(e) {
		return nil
	}
	return v.cell.store.Remove(int(e.Index))
}

// Discard drops the component in place.
func (v *StoreMutView) Discard(e Entity) bool {
	v.check()
	if !v.world.entities.Alive(e) {
		return false
	}
	return v.cell.store.Discard(int(e.Index))
}

// IterMut visits components of entities set in mask with exclusive
// references, ascending by index.
func (v *StoreMutView) IterMut(mask *storage.Bitset, fn func(e Entity, r value.RefMut) bool) {
	v.check()
	v.cell.store.IterMaskedMut(mask, func(i int, r value.RefMut) bool {
		return fn(Entity{Index: uint32(i), Generation: v.world.entities.generations[i]}, r)
	})
}

// Release returns the exclusive borrow. Idempotent.
func (v *StoreMutView) Release() {
	if v.released {
		return
	}
	v.released = true
	v.cell.borrow.releaseExclusive()
}

// ResourceView is a shared borrow of a resource slot.
type ResourceView struct {
	cell      *resourceCell
	exclusive bool
	released  bool
}

// Ref returns a shared reference to the resource value.
func (v *ResourceView) Ref() value.Ref {
	v.check()
	return v.cell.box.Ref()
}

// Schema returns the resource's schema.
func (v *ResourceView) Schema() *schema.Schema { return v.cell.box.Schema() }

// Release returns the borrow. Idempotent.
func (v *ResourceView) Release() {
	if v.released {
		return
	}
	v.released = true
	if v.exclusive {
		v.cell.borrow.releaseExclusive()
	} else {
		v.cell.borrow.releaseShared()
	}
}

func (v *ResourceView) check() {
	if v.released {
		panic("world: use of a released resource view")
	}
}

// ResourceMutView is an exclusive borrow of a resource slot.
type ResourceMutView struct {
	ResourceView
}

// Mut returns an exclusive reference to the resource value.
func (v *ResourceMutView) Mut() value.RefMut {
	v.check()
	return v.cell.box.Mut()
}
