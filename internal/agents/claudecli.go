// Package agents holds the built-in external agents. An external agent
// never runs work itself; it renders a spawn command for a detached
// heavy-lift delegate.
package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"piebrain/internal/guardian"
)

const claudeCLIName = "claude-cli"

// ClaudeCLI delegates a capability's work to the claude command-line
// agent in non-interactive mode. The whole prompt travels as one
// single-quoted argument; the delegate's stdout becomes the task
// artifact.
type ClaudeCLI struct{}

func NewClaudeCLI() *ClaudeCLI { return &ClaudeCLI{} }

func (c *ClaudeCLI) Name() string { return claudeCLIName }

func (c *ClaudeCLI) Command(capabilityName string, params map[string]string) (string, error) {
	if capabilityName == "" {
		return "", fmt.Errorf("handoff requires a capability name")
	}
	return "claude --print " + guardian.Quote(buildPrompt(capabilityName, params)), nil
}

func buildPrompt(capabilityName string, params map[string]string) string {
	var b strings.Builder
	b.WriteString("You are the heavy-lift delegate for a small single-board task engine.\n")
	fmt.Fprintf(&b, "Capability requested: %s\n", capabilityName)
	fmt.Fprintf(&b, "Parameters:\n%s\n", paramsJSON(params))
	b.WriteString("Complete the work and write your full Markdown result to stdout; stdout is captured as the task artifact.")
	return b.String()
}

func paramsJSON(params map[string]string) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
