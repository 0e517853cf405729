package sim

import (
	"fmt"

	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/system"
	"github.com/lockstep-engine/lockstep/internal/core/value"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

// Position is a demo component: a point in 2D space.
type Position struct {
	X, Y float32
}

// Velocity is a demo component: units per second.
type Velocity struct {
	DX, DY float32
}

// Demo holds the handles the demo scenario registers.
type Demo struct {
	Position *schema.Schema
	Velocity *schema.Schema
}

// SetupDemo registers the demo components, spawns n entities on a diagonal
// with unit velocities, and installs an integration system into the
// simulate stage. It exists so `sim` runs a real workload out of the box.
func SetupDemo(h *Host, n int) (*Demo, error) {
	b := h.Builtins()
	pos, err := schema.RegisterFor[Position](h.Registry(), "demo.position", schema.StructOf(
		schema.Field{Name: "x", Schema: b.F32},
		schema.Field{Name: "y", Schema: b.F32},
	))
	if err != nil {
		return nil, fmt.Errorf("sim: register position: %w", err)
	}
	vel, err := schema.RegisterFor[Velocity](h.Registry(), "demo.velocity", schema.StructOf(
		schema.Field{Name: "dx", Schema: b.F32},
		schema.Field{Name: "dy", Schema: b.F32},
	))
	if err != nil {
		return nil, fmt.Errorf("sim: register velocity: %w", err)
	}

	w := h.World()
	if err := w.InitStore(pos); err != nil {
		return nil, err
	}
	if err := w.InitStore(vel); err != nil {
		return nil, err
	}

	posView, err := w.ViewMut(pos.ID())
	if err != nil {
		return nil, err
	}
	velView, err := w.ViewMut(vel.ID())
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		e := w.CreateEntity()
		if err := posView.Insert(e, value.MustBox(h.Registry(), Position{X: float32(i), Y: float32(i)})); err != nil {
			return nil, err
		}
		if err := velView.Insert(e, value.MustBox(h.Registry(), Velocity{DX: 1, DY: -1})); err != nil {
			return nil, err
		}
	}
	posView.Release()
	velView.Release()

	integrate := &system.System{
		Name: "integrate",
		Accesses: []system.Access{
			system.Writes(pos.ID()),
			system.Reads(vel.ID()),
		},
		Run: func(ctx *system.Context) error {
			mask, err := ctx.World.Mask(pos.ID(), vel.ID())
			if err != nil {
				return err
			}
			positions := ctx.ViewMut(pos.ID())
			velocities := ctx.View(vel.ID())
			positions.IterMut(&mask, func(e world.Entity, r value.RefMut) bool {
				v, ok := velocities.Get(e)
				if !ok {
					return true
				}
				p := value.CastMut[Position](r)
				d := value.Cast[Velocity](v)
				p.X += d.DX * float32(ctx.Delta)
				p.Y += d.DY * float32(ctx.Delta)
				return true
			})
			return nil
		},
	}
	if err := h.Dispatcher().Register("simulate", integrate); err != nil {
		return nil, err
	}
	return &Demo{Position: pos, Velocity: vel}, nil
}
