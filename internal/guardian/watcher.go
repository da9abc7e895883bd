package guardian

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"piebrain/internal/extension"
	"piebrain/internal/registry"
)

// Watcher keeps the extension directories under observation. Every new or
// changed candidate file runs through source check, interpreter load, and
// admission; success publishes into the registry, failure quarantines the
// record and moves the file aside so it does not re-trigger each rescan.
type Watcher struct {
	guard  *Guardian
	locals *registry.Locals
	agents *registry.Agents

	toolsDir  string
	agentsDir string
	interval  time.Duration

	fs          *fsnotify.Watcher
	debounceMu  sync.Mutex
	debounce    map[string]time.Time
	debounceDur time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	log *zap.Logger
}

// NewWatcher creates a Watcher over the given extension directories.
// interval <= 0 selects the default full-rescan period of one minute.
func NewWatcher(guard *Guardian, locals *registry.Locals, agents *registry.Agents, toolsDir, agentsDir string, interval time.Duration, log *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	if toolsDir != "" {
		toolsDir = filepath.Clean(toolsDir)
	}
	if agentsDir != "" {
		agentsDir = filepath.Clean(agentsDir)
	}
	return &Watcher{
		guard:       guard,
		locals:      locals,
		agents:      agents,
		toolsDir:    toolsDir,
		agentsDir:   agentsDir,
		interval:    interval,
		fs:          fs,
		debounce:    make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         log,
	}, nil
}

// Start performs the initial discovery scan synchronously, then begins
// watching in a goroutine. Calling Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range []string{w.toolsDir, w.agentsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			w.log.Warn("extension dir unavailable", zap.String("dir", dir), zap.Error(err))
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.log.Warn("watch failed", zap.String("dir", dir), zap.Error(err))
		} else {
			w.log.Info("watching extension dir", zap.String("dir", dir))
		}
	}

	w.Rescan(ctx)

	go w.run(ctx)
	return nil
}

// Stop halts the watch loop, waits for it to drain, and closes the
// filesystem watcher. Safe to call without Start and safe to call twice.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}

	if err := w.fs.Close(); err != nil {
		w.log.Warn("close watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()
	rescanTicker := time.NewTicker(w.interval)
	defer rescanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-debounceTicker.C:
			w.processDebounced(ctx)
		case <-rescanTicker.C:
			w.Rescan(ctx)
		}
	}
}

// handleEvent records candidate file activity; rapid saves settle in the
// debounce map before examination.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".go") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	w.debounceMu.Lock()
	w.debounce[event.Name] = time.Now()
	w.debounceMu.Unlock()
}

func (w *Watcher) processDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounce {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounce, path)
		}
	}
	w.debounceMu.Unlock()

	for _, path := range settled {
		w.examine(ctx, path)
	}
}

// Rescan walks the extension directories and examines files that are new
// or changed since their registration.
func (w *Watcher) Rescan(ctx context.Context) {
	w.rescanDir(ctx, w.toolsDir, w.locals.Records())
	w.rescanDir(ctx, w.agentsDir, w.agents.Records())
}

func (w *Watcher) rescanDir(ctx context.Context, dir string, records []registry.ModuleRecord) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("rescan failed", zap.String("dir", dir), zap.Error(err))
		}
		return
	}

	bySource := make(map[string]registry.ModuleRecord, len(records))
	for _, rec := range records {
		bySource[rec.Source] = rec
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".go") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if rec, seen := bySource[path]; seen && rec.Status == registry.StatusValid {
			info, err := entry.Info()
			if err == nil && !info.ModTime().After(rec.RegisteredAt) {
				continue
			}
		}
		w.examine(ctx, path)
	}
}

// examine runs one candidate file through the admission pipeline.
func (w *Watcher) examine(ctx context.Context, path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("read candidate", zap.String("path", path), zap.Error(err))
		}
		return
	}

	switch filepath.Dir(path) {
	case w.toolsDir:
		w.examineLocal(ctx, path, src)
	case w.agentsDir:
		w.examineAgent(path, src)
	}
}

func (w *Watcher) examineLocal(ctx context.Context, path string, src []byte) {
	if err := w.guard.CheckSource(src); err != nil {
		w.condemnLocal(candidateName(path), path, "source check: "+err.Error())
		return
	}
	impl, err := extension.LoadLocal(src)
	if err != nil {
		w.condemnLocal(candidateName(path), path, "load: "+err.Error())
		return
	}
	if err := w.guard.AdmitLocal(ctx, impl); err != nil {
		w.condemnLocal(impl.Name(), path, "admission: "+err.Error())
		return
	}
	if err := w.locals.Publish(impl.Name(), path, impl); err != nil {
		return
	}
}

func (w *Watcher) examineAgent(path string, src []byte) {
	if err := w.guard.CheckSource(src); err != nil {
		w.condemnAgent(candidateName(path), path, "source check: "+err.Error())
		return
	}
	impl, err := extension.LoadAgent(src)
	if err != nil {
		w.condemnAgent(candidateName(path), path, "load: "+err.Error())
		return
	}
	if err := w.guard.AdmitAgent(impl); err != nil {
		w.condemnAgent(impl.Name(), path, "admission: "+err.Error())
		return
	}
	if err := w.agents.Publish(impl.Name(), path, impl); err != nil {
		return
	}
}

// condemnLocal quarantines the module owning this source, or records the
// failed candidate when nothing does, then moves the file aside.
func (w *Watcher) condemnLocal(name, path, reason string) {
	if rec, ok := recordBySource(w.locals.Records(), path); ok {
		w.locals.Quarantine(rec.Name, reason)
	} else {
		w.locals.Reject(name, path, reason)
	}
	w.moveAside(path)
}

func (w *Watcher) condemnAgent(name, path, reason string) {
	if rec, ok := recordBySource(w.agents.Records(), path); ok {
		w.agents.Quarantine(rec.Name, reason)
	} else {
		w.agents.Reject(name, path, reason)
	}
	w.moveAside(path)
}

// moveAside relocates a failed candidate into a quarantine/ sibling so it
// does not re-trigger every rescan. The registry record keeps the
// original source path.
func (w *Watcher) moveAside(path string) {
	qdir := filepath.Join(filepath.Dir(path), "quarantine")
	if err := os.MkdirAll(qdir, 0755); err != nil {
		w.log.Warn("quarantine dir", zap.String("dir", qdir), zap.Error(err))
		return
	}
	dest := filepath.Join(qdir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn("quarantine move", zap.String("path", path), zap.Error(err))
		return
	}
	w.log.Warn("candidate moved to quarantine", zap.String("path", path), zap.String("dest", dest))
}

func recordBySource(records []registry.ModuleRecord, source string) (registry.ModuleRecord, bool) {
	for _, rec := range records {
		if rec.Source == source {
			return rec, true
		}
	}
	return registry.ModuleRecord{}, false
}

func candidateName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".go")
}
