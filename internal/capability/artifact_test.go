package capability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArtifactWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w, err := NewArtifactWriter(filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("NewArtifactWriter failed: %v", err)
	}

	path, err := w.Write("arxiv-search", "# Papers\n\nnone today\n")
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact not readable: %v", err)
	}
	if string(data) != "# Papers\n\nnone today\n" {
		t.Errorf("unexpected content: %q", data)
	}
	if !strings.HasPrefix(filepath.Base(path), "arxiv-search-") {
		t.Errorf("unexpected artifact name: %s", filepath.Base(path))
	}
	if !strings.HasSuffix(path, ".md") {
		t.Errorf("artifact must be markdown, got %s", path)
	}

	// No temp droppings remain.
	entries, _ := os.ReadDir(w.Dir())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArtifactWriter_InterruptedWriteInvisible(t *testing.T) {
	w, err := NewArtifactWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactWriter failed: %v", err)
	}

	// A crash mid-write leaves only a dot-prefixed temp file; the final
	// name never appears.
	final := w.NewPath("git-sync")
	tmp := filepath.Join(w.Dir(), ".git-sync-crash.tmp")
	if err := os.WriteFile(tmp, []byte("half written"), 0644); err != nil {
		t.Fatalf("failed to simulate interrupted write: %v", err)
	}

	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Errorf("final path must not exist after interrupted write: %v", err)
	}
}

func TestPartialPromote(t *testing.T) {
	w, err := NewArtifactWriter(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactWriter failed: %v", err)
	}

	final := w.NewPath("claude-cli")
	partial := PartialPath(final)
	if err := os.WriteFile(partial, []byte("agent output"), 0644); err != nil {
		t.Fatalf("failed to write partial: %v", err)
	}

	// While partial, the final path is invisible.
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Fatal("final path visible before promotion")
	}

	got, err := Promote(partial)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if got != final {
		t.Errorf("Promote returned %s, want %s", got, final)
	}

	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("promoted artifact not readable: %v", err)
	}
	if string(data) != "agent output" {
		t.Errorf("unexpected content: %q", data)
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("partial file must be gone after promotion")
	}
}

func TestPromote_RejectsNonPartial(t *testing.T) {
	if _, err := Promote("/tmp/inbox/note.md"); err == nil {
		t.Fatal("expected error promoting a non-partial path")
	}
}

func TestIsProbe(t *testing.T) {
	if IsProbe(map[string]string{"query": "x"}) {
		t.Error("plain params must not read as probe")
	}
	if !IsProbe(map[string]string{SmokeProbe: "1"}) {
		t.Error("probe marker not detected")
	}
	if IsProbe(nil) {
		t.Error("nil params must not read as probe")
	}
}
