// Package router turns raw request text into a structured routing
// decision through the inference capability, enforcing a strict
// three-field JSON contract with bounded retries.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"piebrain/internal/governor"
	"piebrain/internal/registry"
	"piebrain/internal/store"
)

const (
	// DefaultRetries is the attempt budget per routing call.
	DefaultRetries = 3
	// DefaultTimeout bounds a single inference attempt.
	DefaultTimeout = 300 * time.Second
)

// Completer is the inference capability the router decides with. It is
// invoked exactly once per attempt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// RouterError reports that the inference protocol was violated on every
// attempt.
type RouterError struct {
	Attempts int
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("routing failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// UnknownCapabilityError reports a syntactically valid decision that
// cannot be dispatched: a local capability absent or quarantined, or a
// handoff with no usable external agent. It does not consume a routing
// retry.
type UnknownCapabilityError struct {
	Capability string
	Handoff    bool
}

func (e *UnknownCapabilityError) Error() string {
	if e.Handoff {
		return fmt.Sprintf("no external agent available for capability %q", e.Capability)
	}
	return fmt.Sprintf("unknown local capability %q", e.Capability)
}

// Config carries the routing knobs. Zero values select the defaults.
type Config struct {
	Retries  int
	Timeout  time.Duration
	Preamble string
}

// Router drives the decision protocol. Each attempt runs under the
// inference lease with its own timeout.
type Router struct {
	completer   Completer
	gov         *governor.Governor
	locals      *registry.Locals
	agents      *registry.Agents
	retries     int
	timeout     time.Duration
	preamble    string
	backoffBase time.Duration
	log         *zap.Logger
}

func New(completer Completer, gov *governor.Governor, locals *registry.Locals, agents *registry.Agents, cfg Config, log *zap.Logger) *Router {
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		completer:   completer,
		gov:         gov,
		locals:      locals,
		agents:      agents,
		retries:     cfg.Retries,
		timeout:     cfg.Timeout,
		preamble:    cfg.Preamble,
		backoffBase: time.Second,
		log:         log,
	}
}

// Route classifies text into a decision. Malformed output, wrong types,
// and timeouts each consume one attempt; attempts are separated by
// exponential backoff. A decision that parses but cannot be dispatched
// returns UnknownCapabilityError immediately.
func (r *Router) Route(ctx context.Context, taskID int64, text string) (store.RoutingDecision, error) {
	prompt := text
	if r.preamble != "" {
		prompt = r.preamble + "\n\n---\nUser request: " + text
	}
	system := r.systemPrompt()

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(r.backoffDelay(attempt)):
			case <-ctx.Done():
				return store.RoutingDecision{}, &RouterError{Attempts: attempt - 1, Err: lastErr}
			}
		}

		var raw string
		err := r.gov.With(ctx, governor.LeaseInference, taskID, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			var cerr error
			raw, cerr = r.completer.Complete(ctx, system, prompt)
			return cerr
		})
		if err != nil {
			r.log.Warn("inference attempt failed",
				zap.Int64("task", taskID),
				zap.Int("attempt", attempt),
				zap.Int("max", r.retries),
				zap.Error(err))
			lastErr = err
			continue
		}

		decision, err := parseDecision(raw)
		if err != nil {
			r.log.Warn("malformed routing output",
				zap.Int64("task", taskID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			lastErr = err
			continue
		}

		if err := r.checkDispatchable(decision); err != nil {
			return store.RoutingDecision{}, err
		}

		r.log.Info("routed",
			zap.Int64("task", taskID),
			zap.String("capability", decision.Capability),
			zap.Bool("handoff", decision.Handoff))
		return decision, nil
	}

	return store.RoutingDecision{}, &RouterError{Attempts: r.retries, Err: lastErr}
}

// checkDispatchable cross-checks a parsed decision against the live
// registries: handoff=false requires a valid local entry under the
// capability name; handoff=true requires a usable active external agent.
func (r *Router) checkDispatchable(d store.RoutingDecision) error {
	if d.Handoff {
		if _, err := r.agents.Active(); err != nil {
			return &UnknownCapabilityError{Capability: d.Capability, Handoff: true}
		}
		return nil
	}
	if _, ok := r.locals.Get(d.Capability); !ok {
		return &UnknownCapabilityError{Capability: d.Capability}
	}
	return nil
}

func (r *Router) systemPrompt() string {
	names := r.locals.ValidNames()
	available := "none registered"
	if len(names) > 0 {
		available = strings.Join(names, ", ")
	}
	return "You are a task router. Respond with ONLY a valid JSON object with exactly these keys:\n" +
		"  \"capability\": string  (one of: " + available + ")\n" +
		"  \"params\":     object  (capability-specific string parameters)\n" +
		"  \"handoff\":    boolean (true if the task needs the external agent)\n" +
		"Do NOT include any explanation or markdown fences."
}

func (r *Router) backoffDelay(attempt int) time.Duration {
	d := r.backoffBase << (attempt - 2)
	if max := 4 * r.backoffBase; d > max {
		d = max
	}
	return d
}
