package world

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-engine/lockstep/internal/core/events/bus"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/value"
)

type position struct{ X, Y float32 }
type health struct{ HP uint32 }

type fixture struct {
	registry *schema.Registry
	world    *World
	pos      *schema.Schema
	hp       *schema.Schema
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	r := schema.NewRegistry(nil)
	b, err := schema.RegisterBuiltins(r)
	require.NoError(t, err)
	pos, err := schema.RegisterFor[position](r, "position", schema.StructOf(
		schema.Field{Name: "x", Schema: b.F32},
		schema.Field{Name: "y", Schema: b.F32},
	))
	require.NoError(t, err)
	hp, err := schema.RegisterFor[health](r, "health", schema.StructOf(
		schema.Field{Name: "hp", Schema: b.U32},
	))
	require.NoError(t, err)

	w := New(r, opts...)
	require.NoError(t, w.InitStore(pos))
	require.NoError(t, w.InitStore(hp))
	return &fixture{registry: r, world: w, pos: pos, hp: hp}
}

func TestEntityGenerationReuse(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e1 := w.CreateEntity()
	require.True(t, w.Alive(e1))
	require.True(t, w.DestroyEntity(e1))
	require.False(t, w.Alive(e1))

	// The freed index comes back with a strictly greater generation, so
	// the stale handle cannot alias the new entity.
	e2 := w.CreateEntity()
	require.Equal(t, e1.Index, e2.Index)
	require.Greater(t, e2.Generation, e1.Generation)
	require.True(t, w.Alive(e2))
	require.False(t, w.Alive(e1))
	require.False(t, w.DestroyEntity(e1))
}

func TestStaleHandleCannotTouchComponents(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e1 := w.CreateEntity()
	v, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	require.NoError(t, v.Insert(e1, value.MustBox(f.registry, position{X: 1})))
	v.Release()

	w.DestroyEntity(e1)
	e2 := w.CreateEntity() // same index, new generation

	v, err = w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	defer v.Release()

	_, ok := v.GetMut(e1)
	require.False(t, ok)
	require.ErrorIs(t, v.Insert(e1, value.MustBox(f.registry, position{})), ErrDeadEntity)

	// The destroyed entity's component never leaks onto its successor.
	_, ok = v.GetMut(e2)
	require.False(t, ok)
}

func TestUninitializedStoreIsRecoverable(t *testing.T) {
	f := newFixture(t)

	_, err := f.world.View(schema.SchemaID(9999))
	require.ErrorIs(t, err, ErrStoreNotInitialized)
	_, err = f.world.ViewMut(schema.SchemaID(9999))
	require.ErrorIs(t, err, ErrStoreNotInitialized)

	// Initializing twice is fine.
	require.NoError(t, f.world.InitStore(f.pos))
	require.True(t, f.world.StoreInitialized(f.pos.ID()))
}

func TestBorrowDiscipline(t *testing.T) {
	f := newFixture(t)
	w := f.world

	// Shared borrows stack.
	v1, err := w.View(f.pos.ID())
	require.NoError(t, err)
	v2, err := w.View(f.pos.ID())
	require.NoError(t, err)

	// Exclusive over shared faults.
	func() {
		defer func() {
			rec := recover()
			require.NotNil(t, rec)
			be, ok := rec.(*BorrowError)
			require.True(t, ok, "panic payload %T", rec)
			require.True(t, be.Exclusive)
		}()
		_, _ = w.ViewMut(f.pos.ID())
	}()

	v1.Release()
	v2.Release()

	// Exclusive then shared faults the shared side.
	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	func() {
		defer func() {
			rec := recover()
			require.NotNil(t, rec)
			be, ok := rec.(*BorrowError)
			require.True(t, ok)
			require.False(t, be.Exclusive)
		}()
		_, _ = w.View(f.pos.ID())
	}()
	m.Release()
	m.Release() // idempotent

	// Fully released: both modes work again.
	m2, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	m2.Release()
	s2, err := w.View(f.pos.ID())
	require.NoError(t, err)
	s2.Release()
}

func TestDestroyWhileBorrowedPanics(t *testing.T) {
	f := newFixture(t)
	w := f.world
	e := w.CreateEntity()

	v, err := w.View(f.pos.ID())
	require.NoError(t, err)
	defer v.Release()
	require.Panics(t, func() { w.DestroyEntity(e) })
}

func TestUseAfterReleasePanics(t *testing.T) {
	f := newFixture(t)
	e := f.world.CreateEntity()

	v, err := f.world.View(f.pos.ID())
	require.NoError(t, err)
	v.Release()
	require.Panics(t, func() { v.Get(e) })
}

func TestDestroyDiscardsComponents(t *testing.T) {
	f := newFixture(t)
	w := f.world
	e := w.CreateEntity()

	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e, value.MustBox(f.registry, position{X: 5})))
	m.Release()

	require.True(t, w.DestroyEntity(e))

	v, err := w.View(f.pos.ID())
	require.NoError(t, err)
	defer v.Release()
	require.Equal(t, 0, v.Count())
}

func TestEntitiesWithMask(t *testing.T) {
	f := newFixture(t)
	w := f.world

	both := make(map[Entity]bool)
	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	h, err := w.ViewMut(f.hp.ID())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		e := w.CreateEntity()
		if i%2 == 0 {
			require.NoError(t, m.Insert(e, value.MustBox(f.registry, position{})))
		}
		if i%3 == 0 {
			require.NoError(t, h.Insert(e, value.MustBox(f.registry, health{HP: 10})))
		}
		if i%2 == 0 && i%3 == 0 {
			both[e] = true
		}
	}
	m.Release()
	h.Release()

	it, err := w.EntitiesWith(f.pos.ID(), f.hp.ID())
	require.NoError(t, err)
	got := it.Collect()
	require.Len(t, got, len(both))
	for _, e := range got {
		require.True(t, both[e])
	}

	_, err = w.EntitiesWith(schema.SchemaID(404))
	require.ErrorIs(t, err, ErrStoreNotInitialized)
}

func TestResources(t *testing.T) {
	f := newFixture(t)
	w := f.world

	_, err := w.Resource(f.hp.ID())
	require.ErrorIs(t, err, ErrResourceNotInitialized)

	w.SetResource(value.MustBox(f.registry, health{HP: 100}))

	v, err := w.Resource(f.hp.ID())
	require.NoError(t, err)
	require.Equal(t, uint32(100), value.Cast[health](v.Ref()).HP)

	// Shared resource borrow blocks exclusive.
	require.Panics(t, func() { _, _ = w.ResourceMut(f.hp.ID()) })
	v.Release()

	mv, err := w.ResourceMut(f.hp.ID())
	require.NoError(t, err)
	value.CastMut[health](mv.Mut()).HP = 55
	mv.Release()

	v, err = w.Resource(f.hp.ID())
	require.NoError(t, err)
	require.Equal(t, uint32(55), value.Cast[health](v.Ref()).HP)
	v.Release()

	require.True(t, w.RemoveResource(f.hp.ID()))
	require.False(t, w.RemoveResource(f.hp.ID()))
	_, err = w.Resource(f.hp.ID())
	require.ErrorIs(t, err, ErrResourceNotInitialized)
}

func TestResetKeepsWhitelistedResources(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e := w.CreateEntity()
	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e, value.MustBox(f.registry, position{X: 1})))
	m.Release()

	w.SetResource(value.MustBox(f.registry, health{HP: 1}))
	w.SetResource(value.MustBox(f.registry, position{X: 2}))

	w.Reset(f.pos.ID())

	require.Equal(t, 0, w.EntityCount())
	require.False(t, w.Alive(e))
	v, err := w.View(f.pos.ID())
	require.NoError(t, err)
	require.Equal(t, 0, v.Count())
	v.Release()

	_, err = w.Resource(f.hp.ID())
	require.ErrorIs(t, err, ErrResourceNotInitialized)
	rv, err := w.Resource(f.pos.ID())
	require.NoError(t, err)
	require.Equal(t, float32(2), value.Cast[position](rv.Ref()).X)
	rv.Release()
}

func TestLifecycleEvents(t *testing.T) {
	b := bus.New()
	f := newFixture(t, WithBus(b))

	var types []string
	b.Subscribe(EventEntityCreated, func(e bus.Event) { types = append(types, e.Type) })
	b.Subscribe(EventEntityDestroyed, func(e bus.Event) { types = append(types, e.Type) })

	e := f.world.CreateEntity()
	f.world.DestroyEntity(e)
	require.Equal(t, []string{EventEntityCreated, EventEntityDestroyed}, types)
}
