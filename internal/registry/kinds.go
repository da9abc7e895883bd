package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"piebrain/internal/capability"
	"piebrain/internal/governor"
)

// Locals is the local-capability registry.
type Locals struct {
	t table
}

// NewLocals creates an empty local-capability registry.
func NewLocals(log *zap.Logger) *Locals {
	return &Locals{t: newTable(KindLocal, log)}
}

func (r *Locals) Publish(name, source string, impl capability.Local) error {
	return r.t.publish(name, source, impl)
}

func (r *Locals) Get(name string) (capability.Local, bool) {
	impl, ok := r.t.get(name)
	if !ok {
		return nil, false
	}
	return impl.(capability.Local), true
}

func (r *Locals) Quarantine(name, reason string)     { r.t.quarantine(name, reason) }
func (r *Locals) Reject(name, source, reason string) { r.t.reject(name, source, reason) }
func (r *Locals) Records() []ModuleRecord            { return r.t.list() }
func (r *Locals) ValidNames() []string               { return r.t.validNames() }

// ExternalAgentUnavailableError reports that the configured active agent
// cannot serve dispatches.
type ExternalAgentUnavailableError struct {
	Name string
}

func (e *ExternalAgentUnavailableError) Error() string {
	return fmt.Sprintf("external agent %q unavailable", e.Name)
}

// Agents is the external-agent registry. Exactly one entry, selected by
// configuration, is active; callers receive it pre-bound to the Governor
// so every spawn it triggers is lease-guarded.
type Agents struct {
	t      table
	gov    *governor.Governor
	active string
}

// NewAgents creates an empty external-agent registry with the given
// active-agent selection.
func NewAgents(log *zap.Logger, gov *governor.Governor, active string) *Agents {
	return &Agents{t: newTable(KindExternalAgent, log), gov: gov, active: active}
}

func (r *Agents) Publish(name, source string, impl capability.ExternalAgent) error {
	return r.t.publish(name, source, impl)
}

func (r *Agents) Get(name string) (capability.ExternalAgent, bool) {
	impl, ok := r.t.get(name)
	if !ok {
		return nil, false
	}
	return impl.(capability.ExternalAgent), true
}

func (r *Agents) Quarantine(name, reason string)     { r.t.quarantine(name, reason) }
func (r *Agents) Reject(name, source, reason string) { r.t.reject(name, source, reason) }
func (r *Agents) Records() []ModuleRecord            { return r.t.list() }
func (r *Agents) ValidNames() []string               { return r.t.validNames() }

// ActiveName returns the configured active agent name.
func (r *Agents) ActiveName() string { return r.active }

// Active returns the active agent bound to the Governor, or
// ExternalAgentUnavailableError when it is absent or quarantined.
func (r *Agents) Active() (*BoundAgent, error) {
	agent, ok := r.Get(r.active)
	if !ok {
		return nil, &ExternalAgentUnavailableError{Name: r.active}
	}
	return &BoundAgent{agent: agent, gov: r.gov}, nil
}

// BoundAgent couples an external agent with the Governor. The spawn path
// goes through WithLease, so callers cannot bypass resource exclusivity.
// The wrapper pins the agent implementation it was created with; a
// concurrent quarantine never disturbs an in-flight dispatch.
type BoundAgent struct {
	agent capability.ExternalAgent
	gov   *governor.Governor
}

func (b *BoundAgent) Name() string {
	return b.agent.Name()
}

func (b *BoundAgent) Command(capabilityName string, params map[string]string) (string, error) {
	return b.agent.Command(capabilityName, params)
}

// WithLease runs fn while holding the external-agent lease.
func (b *BoundAgent) WithLease(ctx context.Context, taskID int64, fn func(ctx context.Context) error) error {
	return b.gov.With(ctx, governor.LeaseExternalAgent, taskID, fn)
}

// Providers is the intake-provider registry.
type Providers struct {
	t table
}

// NewProviders creates an empty intake-provider registry.
func NewProviders(log *zap.Logger) *Providers {
	return &Providers{t: newTable(KindIntakeProvider, log)}
}

func (r *Providers) Publish(name, source string, impl capability.IntakeProvider) error {
	return r.t.publish(name, source, impl)
}

func (r *Providers) Get(name string) (capability.IntakeProvider, bool) {
	impl, ok := r.t.get(name)
	if !ok {
		return nil, false
	}
	return impl.(capability.IntakeProvider), true
}

func (r *Providers) Quarantine(name, reason string) { r.t.quarantine(name, reason) }
func (r *Providers) Records() []ModuleRecord        { return r.t.list() }

// All returns every currently valid provider, for the engine to start.
func (r *Providers) All() []capability.IntakeProvider {
	var out []capability.IntakeProvider
	for _, name := range r.t.validNames() {
		if impl, ok := r.Get(name); ok {
			out = append(out, impl)
		}
	}
	return out
}
