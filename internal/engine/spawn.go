package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/guardian"
	"piebrain/internal/registry"
	"piebrain/internal/store"
)

// launchFunc starts argv as a detached process with both output streams
// on out, returning the child pid and a wait that blocks until exit.
type launchFunc func(argv []string, out *os.File) (pid int, wait func() error, err error)

// launchDetached runs the child in its own session so it survives an
// engine restart. Plain exec.Command on purpose: a cancelled context
// must not kill a delegate we promised could outlive us.
func launchDetached(argv []string, out *os.File) (int, func() error, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, nil, err
	}
	return cmd.Process.Pid, cmd.Wait, nil
}

// pidAlive reports whether a process with the given pid exists. Signal
// zero probes without delivering anything.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// dispatchAgent hands a task to the active external agent under the
// one-slot external lease: render the command, sanitize it, split it
// into argv, launch detached, await exit, promote the artifact.
func (e *Engine) dispatchAgent(ctx context.Context, id int64, d store.RoutingDecision) error {
	bound, err := e.agents.Active()
	if err != nil {
		return err
	}
	return bound.WithLease(ctx, id, func(ctx context.Context) error {
		return e.spawnAndAwait(id, bound, d)
	})
}

func (e *Engine) spawnAndAwait(id int64, agent *registry.BoundAgent, d store.RoutingDecision) error {
	cmdStr, err := agent.Command(d.Capability, d.Params)
	if err != nil {
		return fmt.Errorf("agent %s: %w", agent.Name(), err)
	}
	if err := e.guard.SanitizeCommand(cmdStr); err != nil {
		return err
	}
	argv, err := guardian.Split(cmdStr)
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return fmt.Errorf("agent %s rendered an empty command", agent.Name())
	}

	final := e.artifacts.NewPath(artifactSlug(d.Capability))
	partial := capability.PartialPath(final)
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open partial artifact: %w", err)
	}

	pid, wait, err := e.launch(argv, out)
	if err != nil {
		out.Close()
		os.Remove(partial)
		return fmt.Errorf("failed to spawn %s: %w", argv[0], err)
	}

	// Recorded before waiting so a restart can find the child again.
	if err := e.store.RecordSpawn(id, pid, final); err != nil {
		e.log.Error("spawn not recorded", zap.Int64("task", id), zap.Error(err))
	}
	e.log.Info("external agent spawned",
		zap.Int64("task", id),
		zap.String("agent", agent.Name()),
		zap.Int("pid", pid),
		zap.String("artifact", final))

	waitErr := wait()
	out.Close()
	if waitErr != nil {
		// Keep the partial; whatever the delegate managed to say is
		// the only trace of what went wrong.
		e.log.Warn("external agent failed",
			zap.Int64("task", id),
			zap.Int("pid", pid),
			zap.String("partial", partial),
			zap.Error(waitErr))
		return fmt.Errorf("agent process exited: %w", waitErr)
	}

	promoted, err := capability.Promote(partial)
	if err != nil {
		return err
	}
	return e.store.Finish(id, promoted)
}

// artifactSlug tames a handoff capability name into a file-name slug.
// The name is model output and must never steer the artifact path.
func artifactSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "handoff"
	}
	if len(s) > 40 {
		s = strings.Trim(s[:40], "-")
	}
	return s
}
