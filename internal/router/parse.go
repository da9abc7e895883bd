package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"piebrain/internal/store"
)

// parseDecision decodes inference output under the strict contract:
// exactly the three recognized fields, capability a non-empty string,
// params an object of string values, handoff a boolean. Anything else,
// including unrecognized extra fields or trailing data, fails the
// attempt.
func parseDecision(raw string) (store.RoutingDecision, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return store.RoutingDecision{}, errors.New("empty inference output")
	}

	var out struct {
		Capability *string            `json:"capability"`
		Params     *map[string]string `json:"params"`
		Handoff    *bool              `json:"handoff"`
	}
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return store.RoutingDecision{}, fmt.Errorf("decode decision: %w", err)
	}
	if dec.More() {
		return store.RoutingDecision{}, errors.New("trailing data after decision object")
	}

	switch {
	case out.Capability == nil:
		return store.RoutingDecision{}, errors.New("decision missing capability")
	case *out.Capability == "":
		return store.RoutingDecision{}, errors.New("decision capability is empty")
	case out.Params == nil:
		return store.RoutingDecision{}, errors.New("decision missing params")
	case out.Handoff == nil:
		return store.RoutingDecision{}, errors.New("decision missing handoff")
	}

	return store.RoutingDecision{
		Capability: *out.Capability,
		Params:     *out.Params,
		Handoff:    *out.Handoff,
	}, nil
}

// stripFences drops Markdown fence lines so fenced JSON still parses.
// Small models add fences despite instructions.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
