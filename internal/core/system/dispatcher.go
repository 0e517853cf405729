package system

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

var (
	// ErrDuplicateSystem is returned when a stage already holds a system
	// with the same name.
	ErrDuplicateSystem = errors.New("system: duplicate system name")

	// ErrUnknownStage is returned when a system names a stage that was
	// never declared.
	ErrUnknownStage = errors.New("system: unknown stage")
)

// SystemError is one system's failure inside a step.
type SystemError struct {
	Stage  string
	System string
	Err    error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("system %q in stage %q: %v", e.System, e.Stage, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

// StepError batches every system failure from one step. A failing system
// never prevents later systems from running; the step completes and the
// caller gets everything that went wrong at once, which keeps peers that
// share the failure deterministic with each other.
type StepError struct {
	Step     uint64
	Failures []*SystemError
}

func (e *StepError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("step %d: %d system(s) failed: %s",
		e.Step, len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *StepError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

type stage struct {
	name    string
	systems []*System
}

// Dispatcher runs systems against a world in a fixed, fully deterministic
// order: stages in declaration order, systems within a stage in registration
// order. Everything executes on the calling goroutine; parallelism would buy
// nothing here and would cost the determinism that makes lockstep work.
//
// Before each system runs, the dispatcher acquires the views the system
// declared and releases them afterwards, panics included. Two systems with
// conflicting declarations therefore cannot interleave; a system touching a
// store it never declared simply finds no view in its context.
type Dispatcher struct {
	w      *world.World
	log    log.Log
	stages []*stage
	byName map[string]*stage
	step   uint64
}

// NewDispatcher builds a dispatcher with the given stage order. At least one
// stage is required; the conventional set is "input", "simulate", "commit".
func NewDispatcher(w *world.World, stageNames ...string) *Dispatcher {
	if len(stageNames) == 0 {
		stageNames = []string{"simulate"}
	}
	d := &Dispatcher{
		w:      w,
		log:    log.Default().With(log.String("world", w.ID().String())),
		byName: make(map[string]*stage, len(stageNames)),
	}
	for _, name := range stageNames {
		st := &stage{name: name}
		d.stages = append(d.stages, st)
		d.byName[name] = st
	}
	return d
}

// Register appends a system to a stage. Names are unique per stage.
func (d *Dispatcher) Register(stageName string, sys *System) error {
	st, ok := d.byName[stageName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stageName)
	}
	for _, existing := range st.systems {
		if existing.Name == sys.Name {
			return fmt.Errorf("%w: %q in stage %q", ErrDuplicateSystem, sys.Name, stageName)
		}
	}
	st.systems = append(st.systems, sys)
	d.log.Debug("system registered",
		log.String("stage", stageName),
		log.String("system", sys.Name))
	return nil
}

// MustRegister is Register for bootstrap paths.
func (d *Dispatcher) MustRegister(stageName string, sys *System) {
	if err := d.Register(stageName, sys); err != nil {
		panic(err)
	}
}

// Step returns the number of completed steps.
func (d *Dispatcher) Step() uint64 { return d.step }

// RunStep executes every stage once with the given timestep. System errors
// are collected into a single *StepError; borrow violations and schema
// mismatches stay panics because they are bugs, not step outcomes.
func (d *Dispatcher) RunStep(delta float64) error {
	stepStart := time.Now()
	var failures []*SystemError

	for _, st := range d.stages {
		for _, sys := range st.systems {
			if err := d.runSystem(sys, delta); err != nil {
				failures = append(failures, &SystemError{
					Stage:  st.name,
					System: sys.Name,
					Err:    err,
				})
			}
		}
	}

	d.step++
	d.log.Debug("step complete",
		log.Uint64("step", d.step),
		log.Duration("elapsed", time.Since(stepStart)),
		log.Int("failures", len(failures)))

	if len(failures) > 0 {
		return &StepError{Step: d.step, Failures: failures}
	}
	return nil
}

// runSystem acquires the declared views, runs the system, and releases the
// views whether Run returns or panics.
func (d *Dispatcher) runSystem(sys *System, delta float64) error {
	ctx := &Context{
		Step:      d.step + 1,
		Delta:     delta,
		World:     d.w,
		shared:    make(map[schema.SchemaID]*world.StoreView, len(sys.Accesses)),
		exclusive: make(map[schema.SchemaID]*world.StoreMutView, len(sys.Accesses)),
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		for _, v := range ctx.shared {
			v.Release()
		}
		for _, v := range ctx.exclusive {
			v.Release()
		}
	}
	defer release()

	for _, acc := range sys.Accesses {
		switch acc.Mode {
		case Exclusive:
			v, err := d.w.ViewMut(acc.Schema)
			if err != nil {
				return err
			}
			ctx.exclusive[acc.Schema] = v
		default:
			v, err := d.w.View(acc.Schema)
			if err != nil {
				return err
			}
			ctx.shared[acc.Schema] = v
		}
	}
	return sys.Run(ctx)
}
