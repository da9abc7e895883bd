package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// partialSuffix marks an artifact still being produced. Readers polling
// the inbox only ever see completed files at their final names.
const partialSuffix = ".partial"

// ArtifactWriter writes Markdown artifacts into the inbox directory using
// a scoped temporary file and an atomic rename, so an interrupted write
// never exposes partial content at the final path.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates the inbox directory if needed.
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Dir returns the inbox directory.
func (w *ArtifactWriter) Dir() string {
	return w.dir
}

// Write stores content under a fresh "<slug>-<date>-<id>.md" name and
// returns the final path.
func (w *ArtifactWriter) Write(slug, content string) (string, error) {
	final := filepath.Join(w.dir, w.fileName(slug))

	tmp, err := os.CreateTemp(w.dir, "."+slug+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	return final, nil
}

// NewPath reserves a fresh final path for a detached producer. Nothing is
// created; the producer writes to PartialPath(final) and the engine
// promotes it on completion.
func (w *ArtifactWriter) NewPath(slug string) string {
	return filepath.Join(w.dir, w.fileName(slug))
}

func (w *ArtifactWriter) fileName(slug string) string {
	return fmt.Sprintf("%s-%s-%s.md",
		slug, time.Now().UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// PartialPath returns the in-progress name for a final artifact path.
func PartialPath(final string) string {
	return final + partialSuffix
}

// Promote atomically renames a completed partial file to its final path.
func Promote(partial string) (string, error) {
	final := strings.TrimSuffix(partial, partialSuffix)
	if final == partial {
		return "", fmt.Errorf("not a partial artifact: %s", partial)
	}
	if err := os.Rename(partial, final); err != nil {
		return "", fmt.Errorf("failed to promote artifact: %w", err)
	}
	return final, nil
}
