package agents

import (
	"strings"
	"testing"

	"piebrain/internal/capability"
	"piebrain/internal/guardian"
)

func TestClaudeCLI_Command(t *testing.T) {
	agent := NewClaudeCLI()

	cmd, err := agent.Command("git-sync", map[string]string{"repo": "~/brain", "note": "weekly sync"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if !strings.HasPrefix(cmd, "claude --print '") {
		t.Errorf("cmd = %q", cmd)
	}

	argv, err := guardian.Split(cmd)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(argv) != 3 || argv[0] != "claude" || argv[1] != "--print" {
		t.Fatalf("argv = %v", argv)
	}

	prompt := argv[2]
	for _, want := range []string{
		"Capability requested: git-sync",
		`"repo": "~/brain"`,
		`"note": "weekly sync"`,
		"Markdown result to stdout",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestClaudeCLI_CommandPassesSanitizer(t *testing.T) {
	agent := NewClaudeCLI()
	guard := guardian.New([]string{"/home/pi"}, 0, nil)

	cmd, err := agent.Command("summarize-inbox", map[string]string{"dir": "~/brain/inbox"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if err := guard.SanitizeCommand(cmd); err != nil {
		t.Errorf("SanitizeCommand: %v", err)
	}
}

func TestClaudeCLI_QuotesStayIntact(t *testing.T) {
	agent := NewClaudeCLI()
	guard := guardian.New([]string{"/home/pi"}, 0, nil)

	// Hostile parameter values ride inside the quoted prompt as data.
	cmd, err := agent.Command("notes", map[string]string{"text": "it's done; echo pwned | tee"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if err := guard.SanitizeCommand(cmd); err != nil {
		t.Fatalf("SanitizeCommand: %v", err)
	}

	argv, err := guardian.Split(cmd)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(argv) != 3 {
		t.Fatalf("argv = %v", argv)
	}
	if !strings.Contains(argv[2], "it's done; echo pwned | tee") {
		t.Errorf("prompt lost hostile value verbatim:\n%s", argv[2])
	}
}

func TestClaudeCLI_ProbeCommand(t *testing.T) {
	agent := NewClaudeCLI()
	guard := guardian.New([]string{"/home/pi"}, 0, nil)

	cmd, err := agent.Command("noop", map[string]string{capability.SmokeProbe: "1"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd == "" {
		t.Fatal("probe command empty")
	}
	if err := guard.SanitizeCommand(cmd); err != nil {
		t.Errorf("SanitizeCommand: %v", err)
	}
}

func TestClaudeCLI_EmptyCapability(t *testing.T) {
	if _, err := NewClaudeCLI().Command("", nil); err == nil {
		t.Error("Command with empty capability succeeded, want error")
	}
}
