package guardian

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"piebrain/internal/capability"
	"piebrain/internal/governor"
	"piebrain/internal/registry"
)

const toolV1 = `package main

import (
	"fmt"
	"strings"
)

func Name() string { return "word-count" }

func Run(params map[string]string) (string, error) {
	if params["smoke_probe"] != "" {
		return "# probe\n", nil
	}
	n := len(strings.Fields(params["text"]))
	return fmt.Sprintf("# Word Count\n\n%d words\n", n), nil
}

func Command(params map[string]string) (string, error) {
	return "echo word-count", nil
}
`

const toolV2 = `package main

func Name() string { return "word-count" }

func Run(params map[string]string) (string, error) {
	return "# v2\n", nil
}

func Command(params map[string]string) (string, error) {
	return "echo word-count", nil
}
`

const toolForbiddenImport = `package main

import "os"

func Name() string { return "snoop" }

func Run(params map[string]string) (string, error) { return os.Getwd() }

func Command(params map[string]string) (string, error) { return "echo snoop", nil }
`

const toolBadSignature = `package main

func Name() string { return "odd" }

func Run(n int) (string, error) { return "", nil }

func Command(params map[string]string) (string, error) { return "echo odd", nil }
`

const toolFailsProbe = `package main

import "errors"

func Name() string { return "always-fails" }

func Run(params map[string]string) (string, error) {
	return "", errors.New("broken tool")
}

func Command(params map[string]string) (string, error) {
	return "echo always-fails", nil
}
`

const agentExtension = `package main

func Name() string { return "echo-agent" }

func Command(capability string, params map[string]string) (string, error) {
	return "echo " + capability, nil
}
`

type watcherFixture struct {
	w         *Watcher
	locals    *registry.Locals
	agents    *registry.Agents
	toolsDir  string
	agentsDir string
}

func newWatcherFixture(t *testing.T) *watcherFixture {
	t.Helper()

	base := t.TempDir()
	toolsDir := filepath.Join(base, "tools.d")
	agentsDir := filepath.Join(base, "agents.d")
	for _, dir := range []string{toolsDir, agentsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	g := New([]string{base}, 0, nil)
	locals := registry.NewLocals(nil)
	agents := registry.NewAgents(nil, governor.New(nil), "claude-cli")

	w, err := NewWatcher(g, locals, agents, toolsDir, agentsDir, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	return &watcherFixture{w: w, locals: locals, agents: agents, toolsDir: toolsDir, agentsDir: agentsDir}
}

func writeExtension(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestWatcher_AdmitsDropInTool(t *testing.T) {
	fx := newWatcherFixture(t)
	writeExtension(t, fx.toolsDir, "word_count.go", toolV1)

	fx.w.Rescan(context.Background())

	impl, ok := fx.locals.Get("word-count")
	if !ok {
		t.Fatal("extension not registered after rescan")
	}

	writer, err := capability.NewArtifactWriter(t.TempDir())
	if err != nil {
		t.Fatalf("artifact writer: %v", err)
	}
	path, err := impl.Run(context.Background(), map[string]string{"text": "alpha beta"}, writer)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(body), "2 words") {
		t.Errorf("artifact = %q, want word count", body)
	}

	cmd, err := impl.Command(nil)
	if err != nil || cmd != "echo word-count" {
		t.Errorf("Command = %q, %v", cmd, err)
	}
}

func TestWatcher_AdmitsDropInAgent(t *testing.T) {
	fx := newWatcherFixture(t)
	writeExtension(t, fx.agentsDir, "echo_agent.go", agentExtension)

	fx.w.Rescan(context.Background())

	impl, ok := fx.agents.Get("echo-agent")
	if !ok {
		t.Fatal("agent extension not registered after rescan")
	}
	cmd, err := impl.Command("deep_research", nil)
	if err != nil || cmd != "echo deep_research" {
		t.Errorf("Command = %q, %v", cmd, err)
	}
}

func TestWatcher_QuarantinesForbiddenImport(t *testing.T) {
	fx := newWatcherFixture(t)
	path := writeExtension(t, fx.toolsDir, "snoop.go", toolForbiddenImport)

	fx.w.Rescan(context.Background())

	if _, ok := fx.locals.Get("snoop"); ok {
		t.Error("candidate with forbidden import registered")
	}

	recs := fx.locals.Records()
	if len(recs) != 1 || recs[0].Status != registry.StatusQuarantined {
		t.Fatalf("records = %+v, want one quarantined entry", recs)
	}
	if !strings.Contains(recs[0].QuarantineReason, "forbidden import") {
		t.Errorf("reason = %q", recs[0].QuarantineReason)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed candidate still in extension dir")
	}
	moved := filepath.Join(fx.toolsDir, "quarantine", "snoop.go")
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("candidate not moved aside: %v", err)
	}
}

func TestWatcher_QuarantinesBadSignature(t *testing.T) {
	fx := newWatcherFixture(t)
	writeExtension(t, fx.toolsDir, "odd.go", toolBadSignature)

	fx.w.Rescan(context.Background())

	if _, ok := fx.locals.Get("odd"); ok {
		t.Error("candidate with bad signature registered")
	}
	recs := fx.locals.Records()
	if len(recs) != 1 || !strings.Contains(recs[0].QuarantineReason, "wrong signature") {
		t.Errorf("records = %+v, want wrong signature quarantine", recs)
	}
}

func TestWatcher_QuarantinesFailedProbe(t *testing.T) {
	fx := newWatcherFixture(t)
	writeExtension(t, fx.toolsDir, "always_fails.go", toolFailsProbe)

	fx.w.Rescan(context.Background())

	if _, ok := fx.locals.Get("always-fails"); ok {
		t.Error("candidate failing its probe registered")
	}
	recs := fx.locals.Records()
	if len(recs) != 1 || recs[0].Name != "always-fails" {
		t.Fatalf("records = %+v", recs)
	}
	if !strings.Contains(recs[0].QuarantineReason, "admission") {
		t.Errorf("reason = %q", recs[0].QuarantineReason)
	}
}

func TestWatcher_ReloadsChangedFile(t *testing.T) {
	fx := newWatcherFixture(t)
	path := writeExtension(t, fx.toolsDir, "word_count.go", toolV1)
	ctx := context.Background()

	fx.w.Rescan(ctx)
	if _, ok := fx.locals.Get("word-count"); !ok {
		t.Fatal("initial registration missing")
	}

	writeExtension(t, fx.toolsDir, "word_count.go", toolV2)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fx.w.Rescan(ctx)

	impl, ok := fx.locals.Get("word-count")
	if !ok {
		t.Fatal("registration lost after reload")
	}
	writer, err := capability.NewArtifactWriter(t.TempDir())
	if err != nil {
		t.Fatalf("artifact writer: %v", err)
	}
	artifact, err := impl.Run(ctx, nil, writer)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	body, _ := os.ReadFile(artifact)
	if !strings.Contains(string(body), "# v2") {
		t.Errorf("artifact = %q, want reloaded implementation", body)
	}
}

func TestWatcher_QuarantinesModuleWhenFileGoesBad(t *testing.T) {
	fx := newWatcherFixture(t)
	path := writeExtension(t, fx.toolsDir, "word_count.go", toolV1)
	ctx := context.Background()

	fx.w.Rescan(ctx)
	if _, ok := fx.locals.Get("word-count"); !ok {
		t.Fatal("initial registration missing")
	}

	writeExtension(t, fx.toolsDir, "word_count.go", toolForbiddenImport)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fx.w.Rescan(ctx)

	if _, ok := fx.locals.Get("word-count"); ok {
		t.Error("module still dispatchable after its file went bad")
	}
	recs := fx.locals.Records()
	if len(recs) != 1 || recs[0].Name != "word-count" || recs[0].Status != registry.StatusQuarantined {
		t.Fatalf("records = %+v, want word-count quarantined", recs)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("bad file still in extension dir")
	}
}

func TestWatcher_CollisionPreservesFirstRegistration(t *testing.T) {
	fx := newWatcherFixture(t)

	builtin := &probeLocal{name: "word-count", out: "# builtin\n"}
	if err := fx.locals.Publish("word-count", "builtin", builtin); err != nil {
		t.Fatalf("Publish builtin: %v", err)
	}

	writeExtension(t, fx.toolsDir, "word_count.go", toolV1)
	fx.w.Rescan(context.Background())

	recs := fx.locals.Records()
	if len(recs) != 1 || recs[0].Source != "builtin" {
		t.Fatalf("records = %+v, want the builtin registration only", recs)
	}
}

func TestWatcher_HotLoadThroughEvents(t *testing.T) {
	fx := newWatcherFixture(t)
	fx.w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := fx.w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	writeExtension(t, fx.toolsDir, "word_count.go", toolV1)

	deadline := time.After(5 * time.Second)
	for {
		if _, ok := fx.locals.Get("word-count"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("extension never registered through watch events")
		case <-time.After(25 * time.Millisecond):
		}
	}

	fx.w.Stop()
}
