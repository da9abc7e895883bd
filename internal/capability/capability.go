// Package capability defines the contracts pluggable modules satisfy and
// the artifact writer they produce their output through. Dispatch is a
// registry lookup against these interfaces; there is no runtime
// introspection anywhere.
package capability

import (
	"context"
	"fmt"
)

// SmokeProbe marks the synthetic no-op request the Guardian exercises a
// candidate with before admitting it. Implementations must answer a probe
// quickly and without side effects.
const SmokeProbe = "smoke_probe"

// IsProbe reports whether params carry the Guardian's smoke probe marker.
func IsProbe(params map[string]string) bool {
	return params[SmokeProbe] != ""
}

// Local is a capability the engine executes in-process. Run produces a
// Markdown artifact through the writer and returns its path. Command
// produces the command string used when this capability's work is handed
// off for delegated execution.
type Local interface {
	Name() string
	Run(ctx context.Context, params map[string]string, artifacts *ArtifactWriter) (string, error)
	Command(params map[string]string) (string, error)
}

// ExternalAgent turns a capability name plus parameters into a single
// command-line string for a heavy off-device delegate.
type ExternalAgent interface {
	Name() string
	Command(capability string, params map[string]string) (string, error)
}

// EnqueueFunc is the validated path into the task store handed to intake
// providers.
type EnqueueFunc func(text string) (int64, error)

// IntakeProvider is a long-lived loop that listens upstream and enqueues
// request text. Run blocks until ctx ends.
type IntakeProvider interface {
	Name() string
	Run(ctx context.Context, enqueue EnqueueFunc) error
}

// ToolExecutionError reports a local capability failure.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}
