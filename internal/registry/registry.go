// Package registry holds the validated capability modules, one registry
// per kind. Entries are published only through the Guardian admission
// pipeline; quarantine marks a record rather than removing it, so bad
// modules stay observable while being excluded from dispatch.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies which registry a module belongs to.
type Kind string

const (
	KindLocal          Kind = "local-capability"
	KindExternalAgent  Kind = "external-agent"
	KindIntakeProvider Kind = "intake-provider"
)

// ModuleStatus is a record's validation state.
type ModuleStatus string

const (
	StatusValid       ModuleStatus = "valid"
	StatusQuarantined ModuleStatus = "quarantined"
)

// ModuleRecord describes one registered module.
type ModuleRecord struct {
	Name             string       `json:"name"`
	Kind             Kind         `json:"kind"`
	Status           ModuleStatus `json:"status"`
	Source           string       `json:"source"`
	RegisteredAt     time.Time    `json:"registered_at"`
	QuarantineReason string       `json:"quarantine_reason,omitempty"`
}

// table is the shared bookkeeping behind each typed registry.
type table struct {
	kind Kind
	log  *zap.Logger

	mu      sync.RWMutex
	records map[string]*ModuleRecord
	impls   map[string]any
}

func newTable(kind Kind, log *zap.Logger) table {
	if log == nil {
		log = zap.NewNop()
	}
	return table{
		kind:    kind,
		log:     log,
		records: make(map[string]*ModuleRecord),
		impls:   make(map[string]any),
	}
}

// publish inserts or updates an entry. Rules: a new name registers; the
// same source may republish (hot reload of a changed file); a valid entry
// from another source wins over later claimants to its name; a
// quarantined entry is replaced by any newly validated claimant.
func (t *table) publish(name, source string, impl any) error {
	if name == "" {
		return fmt.Errorf("module name is empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.records[name]
	if ok && existing.Source != source && existing.Status == StatusValid {
		t.log.Warn("module name collision, first registration wins",
			zap.String("kind", string(t.kind)),
			zap.String("name", name),
			zap.String("held_by", existing.Source),
			zap.String("rejected", source))
		return fmt.Errorf("module %q already registered from %s", name, existing.Source)
	}

	t.records[name] = &ModuleRecord{
		Name:         name,
		Kind:         t.kind,
		Status:       StatusValid,
		Source:       source,
		RegisteredAt: time.Now(),
	}
	t.impls[name] = impl

	t.log.Info("module published",
		zap.String("kind", string(t.kind)),
		zap.String("name", name),
		zap.String("source", source))
	return nil
}

// reject records a candidate that failed admission. Unlike quarantine it
// creates the record when none exists, so a failed discovery stays
// observable. A valid entry owned by another source is left untouched.
func (t *table) reject(name, source, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[name]
	if ok && rec.Status == StatusValid && rec.Source != source {
		t.log.Warn("rejected candidate does not own this name",
			zap.String("kind", string(t.kind)),
			zap.String("name", name),
			zap.String("held_by", rec.Source),
			zap.String("candidate", source))
		return
	}
	if ok {
		rec.Status = StatusQuarantined
		rec.QuarantineReason = reason
	} else {
		t.records[name] = &ModuleRecord{
			Name:             name,
			Kind:             t.kind,
			Status:           StatusQuarantined,
			Source:           source,
			RegisteredAt:     time.Now(),
			QuarantineReason: reason,
		}
	}

	t.log.Warn("candidate rejected",
		zap.String("kind", string(t.kind)),
		zap.String("name", name),
		zap.String("source", source),
		zap.String("reason", reason))
}

// quarantine marks a record invalid without removing it. In-flight
// dispatches keep the reference they already hold.
func (t *table) quarantine(name, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[name]
	if !ok {
		return
	}
	rec.Status = StatusQuarantined
	rec.QuarantineReason = reason

	t.log.Warn("module quarantined",
		zap.String("kind", string(t.kind)),
		zap.String("name", name),
		zap.String("reason", reason))
}

// get returns the implementation only while its record is valid.
func (t *table) get(name string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[name]
	if !ok || rec.Status != StatusValid {
		return nil, false
	}
	return t.impls[name], true
}

// list returns record snapshots sorted by name.
func (t *table) list() []ModuleRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ModuleRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validNames returns the names currently eligible for dispatch.
func (t *table) validNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var names []string
	for name, rec := range t.records {
		if rec.Status == StatusValid {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
