// Package engine drives tasks through their lifecycle: workers claim
// pending work, route it, and execute it locally or hand it off to a
// detached external-agent process. Startup recovery requeues or
// reconciles work orphaned by a restart.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/guardian"
	"piebrain/internal/registry"
	"piebrain/internal/router"
	"piebrain/internal/store"
)

const (
	DefaultPollInterval    = 2 * time.Second
	DefaultWorkers         = 2
	DefaultStalenessWindow = 30 * time.Minute
)

// Config tunes the worker loop and crash recovery.
type Config struct {
	PollInterval    time.Duration
	Workers         int
	StalenessWindow time.Duration
}

// Engine owns the worker pool. Claims are arbitrated by the store and
// heavy work is lease-bounded, so worker count only controls how much
// cheap work overlaps.
type Engine struct {
	store     *store.Store
	router    *router.Router
	locals    *registry.Locals
	agents    *registry.Agents
	guard     *guardian.Guardian
	artifacts *capability.ArtifactWriter
	cfg       Config
	log       *zap.Logger

	launch launchFunc
	alive  func(pid int) bool
}

// New assembles an engine. Zero config fields fall back to defaults.
func New(st *store.Store, rt *router.Router, locals *registry.Locals, agents *registry.Agents,
	guard *guardian.Guardian, artifacts *capability.ArtifactWriter, cfg Config, log *zap.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     st,
		router:    rt,
		locals:    locals,
		agents:    agents,
		guard:     guard,
		artifacts: artifacts,
		cfg:       cfg,
		log:       log,
		launch:    launchDetached,
		alive:     pidAlive,
	}
}

// Run recovers orphaned work, then starts the workers and the
// reconciler and blocks until ctx ends and every goroutine has joined.
// A worker finishes its current task before exiting; in-flight work is
// never cancelled mid-task.
func (e *Engine) Run(ctx context.Context) error {
	orphans, err := e.recoverStartup()
	if err != nil {
		return err
	}

	e.log.Info("engine started",
		zap.Int("workers", e.cfg.Workers),
		zap.Duration("poll", e.cfg.PollInterval),
		zap.String("agent", e.agents.ActiveName()))

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reconcileLoop(ctx, orphans)
	}()

	wg.Wait()
	e.log.Info("engine stopped")
	return ctx.Err()
}

func (e *Engine) workerLoop(ctx context.Context, worker int) {
	for {
		task, err := e.store.ClaimNextPending()
		if err != nil {
			e.log.Error("claim failed", zap.Int("worker", worker), zap.Error(err))
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.PollInterval):
			}
			continue
		}

		// Detach the task from shutdown so a cancelled engine drains
		// the claim instead of abandoning it half-routed.
		e.process(context.WithoutCancel(ctx), task)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process walks one claimed task to a terminal state. Any error fails
// the task and the loop moves on; a task error never stops a worker.
func (e *Engine) process(ctx context.Context, task *store.Task) {
	decision, err := e.router.Route(ctx, task.ID, task.RequestText)
	if err != nil {
		e.fail(task.ID, err.Error())
		return
	}

	if err := e.store.RecordDecision(task.ID, decision); err != nil {
		e.fail(task.ID, "routing decision not recorded: "+err.Error())
		return
	}

	if decision.Handoff {
		err = e.dispatchAgent(ctx, task.ID, decision)
	} else {
		err = e.dispatchLocal(ctx, task.ID, decision)
	}
	if err != nil {
		e.fail(task.ID, err.Error())
	}
}

func (e *Engine) dispatchLocal(ctx context.Context, id int64, d store.RoutingDecision) error {
	impl, ok := e.locals.Get(d.Capability)
	if !ok {
		return fmt.Errorf("capability %q vanished before dispatch", d.Capability)
	}

	path, err := impl.Run(ctx, d.Params, e.artifacts)
	if err != nil {
		var te *capability.ToolExecutionError
		if errors.As(err, &te) {
			return err
		}
		return &capability.ToolExecutionError{Tool: d.Capability, Err: err}
	}
	return e.store.Finish(id, path)
}

// fail marks a task failed, logging rather than propagating a refused
// transition so callers can treat it as fire-and-forget.
func (e *Engine) fail(id int64, detail string) {
	if err := e.store.Fail(id, detail); err != nil {
		e.log.Error("could not mark task failed", zap.Int64("task", id), zap.Error(err))
	}
}
