package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/value"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

type pos struct{ X, Y float32 }
type vel struct{ DX, DY float32 }

type harness struct {
	registry *schema.Registry
	world    *world.World
	disp     *Dispatcher
	pos      *schema.Schema
	vel      *schema.Schema
}

func newHarness(t *testing.T, stages ...string) *harness {
	t.Helper()
	r := schema.NewRegistry(nil)
	b, err := schema.RegisterBuiltins(r)
	require.NoError(t, err)
	posSchema, err := schema.RegisterFor[pos](r, "pos", schema.StructOf(
		schema.Field{Name: "x", Schema: b.F32},
		schema.Field{Name: "y", Schema: b.F32},
	))
	require.NoError(t, err)
	velSchema, err := schema.RegisterFor[vel](r, "vel", schema.StructOf(
		schema.Field{Name: "dx", Schema: b.F32},
		schema.Field{Name: "dy", Schema: b.F32},
	))
	require.NoError(t, err)

	w := world.New(r)
	require.NoError(t, w.InitStore(posSchema))
	require.NoError(t, w.InitStore(velSchema))
	if len(stages) == 0 {
		stages = []string{"input", "simulate", "commit"}
	}
	return &harness{
		registry: r,
		world:    w,
		disp:     NewDispatcher(w, stages...),
		pos:      posSchema,
		vel:      velSchema,
	}
}

func TestDispatcherRunsInDeclarationOrder(t *testing.T) {
	h := newHarness(t)

	var order []string
	mk := func(name string) *System {
		return &System{
			Name: name,
			Run: func(ctx *Context) error {
				order = append(order, name)
				return nil
			},
		}
	}
	require.NoError(t, h.disp.Register("commit", mk("c1")))
	require.NoError(t, h.disp.Register("input", mk("i1")))
	require.NoError(t, h.disp.Register("simulate", mk("s1")))
	require.NoError(t, h.disp.Register("input", mk("i2")))

	require.NoError(t, h.disp.RunStep(1.0/30))
	require.Equal(t, []string{"i1", "i2", "s1", "c1"}, order)
	require.Equal(t, uint64(1), h.disp.Step())

	order = order[:0]
	require.NoError(t, h.disp.RunStep(1.0/30))
	require.Equal(t, []string{"i1", "i2", "s1", "c1"}, order)
	require.Equal(t, uint64(2), h.disp.Step())
}

func TestDispatcherRegistrationErrors(t *testing.T) {
	h := newHarness(t)
	sys := &System{Name: "dup", Run: func(*Context) error { return nil }}
	require.NoError(t, h.disp.Register("input", sys))
	require.ErrorIs(t, h.disp.Register("input", sys), ErrDuplicateSystem)
	require.ErrorIs(t, h.disp.Register("nope", sys), ErrUnknownStage)
}

func TestDispatcherProvidesDeclaredViews(t *testing.T) {
	h := newHarness(t)
	e := h.world.CreateEntity()
	m, err := h.world.ViewMut(h.pos.ID())
	require.NoError(t, err)
	require.NoError(t, m.Insert(e, value.MustBox(h.registry, pos{X: 1})))
	m.Release()

	ran := false
	require.NoError(t, h.disp.Register("simulate", &System{
		Name:     "probe",
		Accesses: []Access{Writes(h.pos.ID()), Reads(h.vel.ID())},
		Run: func(ctx *Context) error {
			ran = true
			require.NotNil(t, ctx.ViewMut(h.pos.ID()))
			require.NotNil(t, ctx.View(h.vel.ID()))
			// Undeclared access yields nothing.
			require.Nil(t, ctx.View(h.pos.ID()))
			require.Nil(t, ctx.ViewMut(h.vel.ID()))

			got, ok := ctx.ViewMut(h.pos.ID()).GetMut(e)
			require.True(t, ok)
			value.CastMut[pos](got).X += 10
			return nil
		},
	}))
	require.NoError(t, h.disp.RunStep(0.5))
	require.True(t, ran)

	v, err := h.world.View(h.pos.ID())
	require.NoError(t, err)
	r, _ := v.Get(e)
	require.Equal(t, float32(11), value.Cast[pos](r).X)
	v.Release()
}

func TestDispatcherReleasesViewsBetweenSystems(t *testing.T) {
	h := newHarness(t)

	// Two systems writing the same store must not see each other's borrow.
	for _, name := range []string{"w1", "w2"} {
		require.NoError(t, h.disp.Register("simulate", &System{
			Name:     name,
			Accesses: []Access{Writes(h.pos.ID())},
			Run:      func(*Context) error { return nil },
		}))
	}
	require.NoError(t, h.disp.RunStep(1))

	// And the borrow is released even when Run panics.
	require.NoError(t, h.disp.Register("commit", &System{
		Name:     "boom",
		Accesses: []Access{Writes(h.pos.ID())},
		Run:      func(*Context) error { panic("kaboom") },
	}))
	require.Panics(t, func() { _ = h.disp.RunStep(1) })
	v, err := h.world.ViewMut(h.pos.ID())
	require.NoError(t, err)
	v.Release()
}

func TestStepErrorBatchesFailures(t *testing.T) {
	h := newHarness(t)

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var ran []string
	add := func(stage, name string, err error) {
		require.NoError(t, h.disp.Register(stage, &System{
			Name: name,
			Run: func(*Context) error {
				ran = append(ran, name)
				return err
			},
		}))
	}
	add("input", "a", errA)
	add("simulate", "ok", nil)
	add("commit", "b", errB)

	err := h.disp.RunStep(1)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, uint64(1), stepErr.Step)
	require.Len(t, stepErr.Failures, 2)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)

	// Every system ran despite the failures.
	require.Equal(t, []string{"a", "ok", "b"}, ran)
}

func TestSystemAgainstUninitializedStoreFailsSoft(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.disp.Register("simulate", &System{
		Name:     "ghost",
		Accesses: []Access{Reads(schema.SchemaID(777))},
		Run:      func(*Context) error { return nil },
	}))

	err := h.disp.RunStep(1)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.ErrorIs(t, err, world.ErrStoreNotInitialized)
}
