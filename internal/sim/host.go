package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lockstep-engine/lockstep/internal/core/config"
	"github.com/lockstep-engine/lockstep/internal/core/events/bus"
	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
	"github.com/lockstep-engine/lockstep/internal/core/schema"
	"github.com/lockstep-engine/lockstep/internal/core/system"
	"github.com/lockstep-engine/lockstep/internal/core/world"
)

// Host owns one simulation: registry, world, dispatcher, and the fixed-step
// loop driving them. The loop runs on its own goroutine; everything the loop
// touches stays confined to it.
type Host struct {
	cfg      *config.Config
	logger   log.Log
	registry *schema.Registry
	builtins *schema.Builtins
	bus      *bus.Bus
	world    *world.World
	disp     *system.Dispatcher

	running  int32
	stopChan chan struct{}
	workers  sync.WaitGroup
}

// NewHost assembles a simulation host from configuration.
func NewHost(cfg *config.Config) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.New(cfg.Level())
	registry := schema.NewRegistry(logger)
	builtins, err := schema.RegisterBuiltins(registry)
	if err != nil {
		return nil, err
	}
	if _, err := world.RegisterCustomHashKind(registry); err != nil {
		return nil, err
	}
	b := bus.New()
	w := world.New(registry, world.WithLogger(logger), world.WithBus(b))
	h := &Host{
		cfg:      cfg,
		logger:   logger.With(log.String("component", "sim")),
		registry: registry,
		builtins: builtins,
		bus:      b,
		world:    w,
		disp:     system.NewDispatcher(w, cfg.Stages...),
		stopChan: make(chan struct{}),
	}
	return h, nil
}

// World returns the simulation world.
func (h *Host) World() *world.World { return h.world }

// Dispatcher returns the system dispatcher.
func (h *Host) Dispatcher() *system.Dispatcher { return h.disp }

// Registry returns the schema registry.
func (h *Host) Registry() *schema.Registry { return h.registry }

// Builtins returns the primitive schemas.
func (h *Host) Builtins() *schema.Builtins { return h.builtins }

// Bus returns the lifecycle event bus.
func (h *Host) Bus() *bus.Bus { return h.bus }

// Start launches the fixed-step loop. Stops when ctx is done or Stop is
// called.
func (h *Host) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&h.running, 0, 1) {
		return nil
	}
	interval := time.Second / time.Duration(h.cfg.TickRate)
	delta := interval.Seconds()

	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		h.logger.Info("simulation loop started",
			log.Int("tick_rate", h.cfg.TickRate),
			log.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopChan:
				return
			case <-ticker.C:
				h.tick(delta)
			}
		}
	}()
	return nil
}

func (h *Host) tick(delta float64) {
	if err := h.disp.RunStep(delta); err != nil {
		// A step error is a batch of system failures; the step itself
		// completed, so the loop keeps going.
		h.logger.Error("step finished with failures", log.Err(err))
	}
	step := h.disp.Step()
	if h.cfg.HashEvery > 0 && step%uint64(h.cfg.HashEvery) == 0 {
		hash, err := h.world.StateHash(world.HashParallel(h.cfg.HashParallelism))
		if err != nil {
			h.logger.Error("state hash failed", log.Err(err))
			return
		}
		h.logger.Debug("state hash",
			log.Uint64("step", step),
			log.Uint64("hash", hash))
	}
}

// Stop halts the loop and waits for the in-flight tick.
func (h *Host) Stop() error {
	if !atomic.CompareAndSwapInt32(&h.running, 1, 0) {
		return nil
	}
	close(h.stopChan)
	h.workers.Wait()
	h.logger.Info("simulation loop stopped", log.Uint64("steps", h.disp.Step()))
	return nil
}
