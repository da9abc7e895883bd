package guardian

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"piebrain/internal/capability"
)

// smokeTimeout bounds a probe run. Probes are no-ops; a candidate that
// cannot answer within this window is not trusted for routing.
const smokeTimeout = 10 * time.Second

// SmokeLocal exercises a candidate with the synthetic probe before it is
// admitted. A panic, error, or empty output fails the check. The probe
// writes into a throwaway artifact directory.
func (g *Guardian) SmokeLocal(ctx context.Context, impl capability.Local) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	dir, err := os.MkdirTemp("", "piebrain-probe-")
	if err != nil {
		return fmt.Errorf("probe workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	writer, err := capability.NewArtifactWriter(dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, smokeTimeout)
	defer cancel()

	out, err := impl.Run(ctx, map[string]string{capability.SmokeProbe: "1"}, writer)
	if err != nil {
		return fmt.Errorf("probe run: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return errors.New("probe produced no output")
	}
	return nil
}

// SmokeAgent asks the candidate for a no-op command and vets it with the
// spawn sanitizer. No subprocess is created.
func (g *Guardian) SmokeAgent(impl capability.ExternalAgent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	cmd, err := impl.Command("noop", map[string]string{capability.SmokeProbe: "1"})
	if err != nil {
		return fmt.Errorf("probe command: %w", err)
	}
	if strings.TrimSpace(cmd) == "" {
		return errors.New("probe produced empty command")
	}
	return g.SanitizeCommand(cmd)
}
