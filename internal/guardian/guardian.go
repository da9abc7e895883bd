// Package guardian validates everything that crosses a trust boundary:
// candidate capability modules before registry admission, spawn commands
// before a subprocess is created, and inbound message text before it
// reaches the task store. Every check fails safe; a rejection quarantines
// or blocks the offending item without stopping the engine.
package guardian

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/store"
)

// engineBinary is the orchestrator's own command name. Spawn commands and
// extension sources that reference it are rejected so a capability cannot
// re-invoke the engine recursively.
const engineBinary = "piebrain"

// Guardian holds the validation policy shared by all checks.
type Guardian struct {
	allowedRoots  []string
	maxRequestLen int
	log           *zap.Logger
}

// New creates a Guardian. allowedRoots are the filesystem locations spawn
// commands and extension sources may reference; maxRequestLen <= 0 uses
// the store default.
func New(allowedRoots []string, maxRequestLen int, log *zap.Logger) *Guardian {
	if maxRequestLen <= 0 {
		maxRequestLen = store.DefaultMaxRequestLen
	}
	if log == nil {
		log = zap.NewNop()
	}
	roots := make([]string, 0, len(allowedRoots))
	for _, r := range allowedRoots {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, filepath.Clean(r))
		}
	}
	return &Guardian{
		allowedRoots:  roots,
		maxRequestLen: maxRequestLen,
		log:           log,
	}
}

// ValidateMessage gates inbound text before it reaches enqueue. The store
// applies the same rules; intake providers come through here first so bad
// input is dropped at the edge.
func (g *Guardian) ValidateMessage(text string) error {
	switch {
	case text == "":
		return &store.ValidationError{Reason: "empty request"}
	case !utf8.ValidString(text):
		return &store.ValidationError{Reason: "request is not valid UTF-8"}
	case utf8.RuneCountInString(text) > g.maxRequestLen:
		return &store.ValidationError{Reason: fmt.Sprintf("request exceeds %d characters", g.maxRequestLen)}
	}
	return nil
}

// AdmitLocal runs the admission pipeline for a local capability: name
// check, then smoke probe.
func (g *Guardian) AdmitLocal(ctx context.Context, impl capability.Local) error {
	if err := g.CheckName(impl.Name()); err != nil {
		return err
	}
	return g.SmokeLocal(ctx, impl)
}

// AdmitAgent runs the admission pipeline for an external agent: name
// check, then a no-op command probe through the sanitizer.
func (g *Guardian) AdmitAgent(impl capability.ExternalAgent) error {
	if err := g.CheckName(impl.Name()); err != nil {
		return err
	}
	return g.SmokeAgent(impl)
}

// AdmitProvider checks an intake provider structurally. Its run loop is
// long-lived, so there is no behavioral probe.
func (g *Guardian) AdmitProvider(impl capability.IntakeProvider) error {
	return g.CheckName(impl.Name())
}

// underAllowedRoot reports whether path falls inside one of the
// configured allowed roots.
func (g *Guardian) underAllowedRoot(path string) bool {
	path = filepath.Clean(path)
	for _, root := range g.allowedRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}
