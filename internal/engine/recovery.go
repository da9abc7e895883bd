package engine

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/store"
)

// recoverStartup resets work a previous run left behind. Routing tasks
// go back to pending (routing has no external effects, redoing it is
// safe). Executing local tasks died with the process and are not
// assumed idempotent, so they fail. Executing handoff tasks may have a
// live detached child and are returned for the reconciler.
func (e *Engine) recoverStartup() ([]*store.Task, error) {
	if _, err := e.store.ResetRouting(); err != nil {
		return nil, err
	}

	locals, err := e.store.ListExecuting(false)
	if err != nil {
		return nil, err
	}
	for _, t := range locals {
		e.fail(t.ID, "engine restarted during local execution")
	}

	orphans, err := e.store.ListExecuting(true)
	if err != nil {
		return nil, err
	}
	if len(orphans) > 0 {
		e.log.Info("reconciling detached tasks from previous run", zap.Int("count", len(orphans)))
	}
	return orphans, nil
}

// reconcileLoop resolves the startup orphans and then exits. Handoff
// tasks spawned during this run are owned by their workers; only the
// snapshot taken before the workers started is reconciled here.
func (e *Engine) reconcileLoop(ctx context.Context, orphans []*store.Task) {
	for len(orphans) > 0 {
		var unresolved []*store.Task
		for _, t := range orphans {
			if !e.reconcile(t) {
				unresolved = append(unresolved, t)
			}
		}
		orphans = unresolved
		if len(orphans) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// reconcile settles one orphaned handoff task, reporting whether it
// reached a terminal state. While the recorded child is alive the
// outcome is still being produced and the task is left alone.
func (e *Engine) reconcile(t *store.Task) bool {
	if t.SpawnPID > 0 && e.alive(int(t.SpawnPID)) {
		return false
	}

	if t.ArtifactPath != "" {
		if fileExists(t.ArtifactPath) {
			if err := e.store.Finish(t.ID, t.ArtifactPath); err != nil {
				e.log.Error("reconcile finish failed", zap.Int64("task", t.ID), zap.Error(err))
			}
			return true
		}
		partial := capability.PartialPath(t.ArtifactPath)
		if fileExists(partial) {
			final, err := capability.Promote(partial)
			if err != nil {
				e.log.Error("reconcile promote failed", zap.Int64("task", t.ID), zap.Error(err))
				return false
			}
			if err := e.store.Finish(t.ID, final); err != nil {
				e.log.Error("reconcile finish failed", zap.Int64("task", t.ID), zap.Error(err))
			}
			return true
		}
	}

	// No child and no artifact. A late child started before the pid
	// was recorded could still deliver, so wait out the window.
	if time.Since(t.UpdatedAt) > e.cfg.StalenessWindow {
		e.fail(t.ID, "external agent unreachable after restart")
		return true
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
