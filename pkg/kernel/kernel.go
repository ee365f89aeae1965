package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taskcore/pkg/config"
)

// Kernel ties a Manager and a Dispatcher to a run loop.
type Kernel struct {
	// ID identifies this boot in logs.
	ID  uuid.UUID
	cfg config.Kernel
	m   *Manager
	d   *Dispatcher
	log *zap.Logger
}

// New creates a kernel using the scheduler named by cfg.Policy.
func New(cfg config.Kernel, log *zap.Logger) (*Kernel, error) {
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	log = log.With(zap.String("boot_id", id.String()))

	m, err := NewManager(cfg, nil, log)
	if err != nil {
		return nil, err
	}
	return &Kernel{
		ID:  id,
		cfg: cfg,
		m:   m,
		d:   NewDispatcher(m),
		log: log,
	}, nil
}

// Manager returns the task table.
func (k *Kernel) Manager() *Manager {
	return k.m
}

// Dispatcher returns the dispatcher.
func (k *Kernel) Dispatcher() *Dispatcher {
	return k.d
}

// Spawn creates a task.
func (k *Kernel) Spawn(spec Spec) (*Proc, error) {
	return k.m.Spawn(spec)
}

// Run dispatches tasks until none is live, until MaxIdleTicks steps pass
// without a runnable task, or until ctx is done. Terminated tasks are
// reaped concurrently.
func (k *Kernel) Run(ctx context.Context) error {
	k.log.Info("kernel running",
		zap.String("policy", k.cfg.Policy),
		zap.Int("tasks", k.m.Count()),
		zap.Int("stack_budget", k.m.StackBudget()))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)

	g.Go(func() error {
		defer cancel()
		return k.loop(runCtx)
	})
	g.Go(func() error {
		k.m.reapLoop(runCtx)
		return nil
	})

	err := g.Wait()
	k.log.Info("kernel stopped", zap.Uint64("ticks", k.m.Now()), zap.Int("live", k.m.Live()))
	return err
}

func (k *Kernel) loop(ctx context.Context) error {
	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if k.d.Step() {
			idle = 0
			continue
		}
		if k.m.Live() == 0 {
			k.d.sweep(k.m.Now())
			return nil
		}
		idle++
		if k.cfg.MaxIdleTicks > 0 && idle >= k.cfg.MaxIdleTicks {
			k.log.Warn("kernel idle, stopping", zap.Int("idle_ticks", idle), zap.Int("live", k.m.Live()))
			return nil
		}
		if k.cfg.TickInterval > 0 {
			t := time.NewTimer(k.cfg.TickInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// Shutdown kills every live task and releases all stacks.
func (k *Kernel) Shutdown() {
	k.m.Shutdown()
}
