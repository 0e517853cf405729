package world

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/storage"
	"github.com/lockstep-engine/lockstep/internal/core/value"
)

// Snapshot is a deep copy of a world's simulation state: allocator,
// component stores, resources. It shares nothing with the world, so it can
// be restored more than once and outlives resets. Release it when done so
// value drops run.
type Snapshot struct {
	WorldID uuid.UUID
	TakenAt time.Time

	entities  *Allocator
	stores    map[schema.SchemaID]*storage.ComponentStore
	resources map[schema.SchemaID]*value.Box
}

// EntityCount returns the number of live entities captured.
func (s *Snapshot) EntityCount() int { return s.entities.Count() }

// Release drops every captured value. The snapshot is unusable afterwards.
func (s *Snapshot) Release() {
	for _, store := range s.stores {
		store.Reset()
	}
	for _, box := range s.resources {
		box.Drop()
	}
	s.stores = nil
	s.resources = nil
}

// Snapshot deep-copies the world's state. It takes shared borrows on every
// store and resource for the duration, so taking one while an exclusive
// borrow is live panics.
func (w *World) Snapshot() (*Snapshot, error) {
	for _, cell := range w.stores {
		cell.borrow.acquireShared()
		defer cell.borrow.releaseShared()
	}
	for _, cell := range w.resources {
		cell.borrow.acquireShared()
		defer cell.borrow.releaseShared()
	}

	snap := &Snapshot{
		WorldID:   w.id,
		TakenAt:   time.Now(),
		entities:  w.entities.Clone(),
		stores:    make(map[schema.SchemaID]*storage.ComponentStore, len(w.stores)),
		resources: make(map[schema.SchemaID]*value.Box, len(w.resources)),
	}
	for id, cell := range w.stores {
		dst, err := storage.NewComponentStore(cell.store.Schema())
		if err != nil {
			return nil, fmt.Errorf("world: snapshot store %q: %w", cell.store.Schema().Name(), err)
		}
		if err := cell.store.CloneInto(dst); err != nil {
			return nil, fmt.Errorf("world: snapshot store %q: %w", cell.store.Schema().Name(), err)
		}
		snap.stores[id] = dst
	}
	for id, cell := range w.resources {
		if cell.box == nil {
			continue
		}
		clone, err := cell.box.Clone()
		if err != nil {
			return nil, fmt.Errorf("world: snapshot resource %q: %w", cell.box.Schema().Name(), err)
		}
		snap.resources[id] = clone
	}
	w.log.Debug("snapshot taken",
		log.Int("entities", snap.entities.Count()),
		log.Int("stores", len(snap.stores)))
	w.publish(EventSnapshotTaken, snap.TakenAt)
	return snap, nil
}

// Restore replaces the world's state with a deep copy of the snapshot. The
// snapshot stays valid. Requires no live borrows anywhere. Stores the
// snapshot captured are initialized on demand; stores the world gained
// since are cleared.
func (w *World) Restore(snap *Snapshot) error {
	for _, cell := range w.stores {
		cell.borrow.acquireExclusive()
		defer cell.borrow.releaseExclusive()
	}
	for _, cell := range w.resources {
		cell.borrow.acquireExclusive()
		defer cell.borrow.releaseExclusive()
	}

	w.entities = *snap.entities.Clone()

	for _, cell := range w.stores {
		cell.store.Reset()
	}
	for id, src := range snap.stores {
		cell, ok := w.stores[id]
		if !ok {
			store, err := storage.NewComponentStore(src.Schema())
			if err != nil {
				return fmt.Errorf("world: restore store %q: %w", src.Schema().Name(), err)
			}
			cell = &storeCell{borrow: borrowCell{name: src.Schema().Name()}, store: store}
			w.stores[id] = cell
		}
		if err := src.CloneInto(cell.store); err != nil {
			return fmt.Errorf("world: restore store %q: %w", src.Schema().Name(), err)
		}
	}

	for _, cell := range w.resources {
		if cell.box != nil {
			cell.box.Drop()
			cell.box = nil
		}
	}
	for id, src := range snap.resources {
		clone, err := src.Clone()
		if err != nil {
			return fmt.Errorf("world: restore resource %q: %w", src.Schema().Name(), err)
		}
		cell, ok := w.resources[id]
		if !ok {
			cell = &resourceCell{borrow: borrowCell{name: "resource " + src.Schema().Name()}}
			w.resources[id] = cell
		}
		cell.box = clone
	}

	w.publish(EventRestored, snap.TakenAt)
	return nil
}
