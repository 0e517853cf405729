package world

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-engine/lockstep/internal/core/value"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e1 := w.CreateEntity()
	e2 := w.CreateEntity()
	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e1, value.MustBox(f.registry, position{X: 1})))
	require.NoError(t, m.Insert(e2, value.MustBox(f.registry, position{X: 2})))
	m.Release()
	w.SetResource(value.MustBox(f.registry, health{HP: 77}))

	snap, err := w.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	require.Equal(t, 2, snap.EntityCount())

	// Diverge: mutate, destroy, overwrite the resource.
	m, err = w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	got, ok := m.GetMut(e1)
	require.True(t, ok)
	value.CastMut[position](got).X = 100
	m.Release()
	w.DestroyEntity(e2)
	w.SetResource(value.MustBox(f.registry, health{HP: 1}))

	require.NoError(t, w.Restore(snap))

	require.True(t, w.Alive(e1))
	require.True(t, w.Alive(e2))
	v, err := w.View(f.pos.ID())
	require.NoError(t, err)
	r1, ok := v.Get(e1)
	require.True(t, ok)
	require.Equal(t, float32(1), value.Cast[position](r1).X)
	r2, ok := v.Get(e2)
	require.True(t, ok)
	require.Equal(t, float32(2), value.Cast[position](r2).X)
	v.Release()

	rv, err := w.Resource(f.hp.ID())
	require.NoError(t, err)
	require.Equal(t, uint32(77), value.Cast[health](rv.Ref()).HP)
	rv.Release()
}

func TestSnapshotIsIsolatedFromWorld(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e := w.CreateEntity()
	m, err := w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e, value.MustBox(f.registry, position{X: 3})))
	m.Release()

	snap, err := w.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	// Mutations after the snapshot must not leak into it.
	m, err = w.ViewMut(f.pos.ID())
	require.NoError(t, err)
	got, _ := m.GetMut(e)
	value.CastMut[position](got).X = -3
	m.Release()

	require.NoError(t, w.Restore(snap))
	v, err := w.View(f.pos.ID())
	require.NoError(t, err)
	r, ok := v.Get(e)
	require.True(t, ok)
	require.Equal(t, float32(3), value.Cast[position](r).X)
	v.Release()
}

func TestSnapshotRestorableTwice(t *testing.T) {
	f := newFixture(t)
	w := f.world

	e := w.CreateEntity()
	m, err := w.ViewMut(f.hp.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e, value.MustBox(f.registry, health{HP: 9})))
	m.Release()

	snap, err := w.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	for i := 0; i < 2; i++ {
		w.Reset()
		require.Equal(t, 0, w.EntityCount())
		require.NoError(t, w.Restore(snap))
		require.Equal(t, 1, w.EntityCount())
		v, err := w.View(f.hp.ID())
		require.NoError(t, err)
		r, ok := v.Get(e)
		require.True(t, ok)
		require.Equal(t, uint32(9), value.Cast[health](r).HP)
		v.Release()
	}
}

func TestSnapshotWhileExclusivelyBorrowedPanics(t *testing.T) {
	f := newFixture(t)
	m, err := f.world.ViewMut(f.pos.ID())
	require.NoError(t, err)
	defer m.Release()
	require.Panics(t, func() { _, _ = f.world.Snapshot() })
}
