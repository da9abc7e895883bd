package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"piebrain/internal/governor"
)

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.json")
	records := []ModuleRecord{
		{
			Name:         "arxiv-search",
			Kind:         KindLocal,
			Status:       StatusValid,
			Source:       "builtin",
			RegisteredAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		},
		{
			Name:             "broken-tool",
			Kind:             KindLocal,
			Status:           StatusQuarantined,
			Source:           "/home/pi/.piebrain/extensions/tools.d/broken.go",
			RegisteredAt:     time.Date(2026, 8, 21, 14, 30, 0, 0, time.UTC),
			QuarantineReason: "probe panicked: nil map write",
		},
	}
	leases := []governor.Lease{
		{
			ID:         "4a5ad0bc-1111-2222-3333-444455556666",
			Kind:       governor.LeaseInference,
			TaskID:     14,
			AcquiredAt: time.Date(2026, 8, 21, 15, 0, 0, 0, time.UTC),
		},
	}

	if err := WriteStatus(path, records, leases); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	snap, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if snap.RefreshedAt.IsZero() {
		t.Error("snapshot has no refresh time")
	}
	if diff := cmp.Diff(records, snap.Modules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(leases, snap.Leases); diff != "" {
		t.Errorf("leases mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteStatusOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.json")

	first := []ModuleRecord{{Name: "one", Kind: KindLocal, Status: StatusValid, Source: "builtin"}}
	if err := WriteStatus(path, first, nil); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	second := []ModuleRecord{
		{Name: "one", Kind: KindLocal, Status: StatusValid, Source: "builtin"},
		{Name: "two", Kind: KindExternalAgent, Status: StatusValid, Source: "builtin"},
	}
	if err := WriteStatus(path, second, nil); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	snap, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if len(snap.Modules) != 2 {
		t.Errorf("got %d modules after overwrite, want 2", len(snap.Modules))
	}
}

func TestWriteStatusCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "modules.json")
	if err := WriteStatus(path, nil, nil); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("status file missing: %v", err)
	}
}

func TestReadStatusMissingFile(t *testing.T) {
	_, err := ReadStatus(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v, want os.ErrNotExist", err)
	}
}

func TestReadStatusRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadStatus(path); err == nil {
		t.Error("garbage file did not error")
	}
}
