package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"piebrain/internal/governor"
)

// StatusSnapshot is the daemon state published to a file so the CLI can
// inspect modules and live leases without talking to the running process.
type StatusSnapshot struct {
	RefreshedAt time.Time        `json:"refreshed_at"`
	Modules     []ModuleRecord   `json:"modules"`
	Leases      []governor.Lease `json:"leases,omitempty"`
}

// WriteStatus replaces the snapshot file atomically.
func WriteStatus(path string, records []ModuleRecord, leases []governor.Lease) error {
	snap := StatusSnapshot{RefreshedAt: time.Now().UTC(), Modules: records, Leases: leases}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode module status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".modules-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create status temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write module status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close module status: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish module status: %w", err)
	}
	return nil
}

// ReadStatus loads a snapshot written by WriteStatus. A missing file
// surfaces as os.ErrNotExist.
func ReadStatus(path string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode module status: %w", err)
	}
	return &snap, nil
}
