package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"project-companion/internal/domain"
	"project-companion/internal/security"
)

const (
	defaultWatchDebounce = 150 * time.Millisecond
	watchTick            = 50 * time.Millisecond
)

var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long a file must stay quiet before it is read.
	Debounce time.Duration
	Bus      domain.EventBus // optional
	Logger   *slog.Logger
}

// Watcher copies local edits of mirrored files back into a workspace. Only
// files the workspace already holds are synced; new files and deletions are
// ignored.
type Watcher struct {
	sandbox  *security.Sandbox
	ws       domain.Workspace
	fsw      *fsnotify.Watcher
	debounce time.Duration
	bus      domain.EventBus
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a Watcher for dir feeding ws.
func NewWatcher(dir string, ws domain.Workspace, opts WatcherOptions) (*Watcher, error) {
	sb, err := security.NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace watcher: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workspace watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultWatchDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		sandbox:  sb,
		ws:       ws,
		fsw:      fsw,
		debounce: opts.Debounce,
		bus:      opts.Bus,
		logger:   opts.Logger,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run watches until ctx is done, then releases the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	if err := w.addRecursive(w.sandbox.Root()); err != nil {
		return err
	}

	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("workspace watch error", "error", err)
		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch new directory", "dir", ev.Name, "error", err)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	if strings.HasSuffix(ev.Name, ".tmp") {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context, now time.Time) {
	w.mu.Lock()
	var ready []string
	for name, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()

	for _, name := range ready {
		w.sync(ctx, name)
	}
}

func (w *Watcher) sync(ctx context.Context, name string) {
	rel, err := w.sandbox.Rel(name)
	if err != nil {
		return
	}
	current, ok := w.ws.Get(rel)
	if !ok {
		return
	}
	data, err := os.ReadFile(name)
	if err != nil {
		w.logger.Debug("workspace file unreadable", "path", rel, "error", err)
		return
	}
	if string(data) == current {
		return
	}
	if err := w.ws.Set(rel, string(data)); err != nil {
		w.logger.Warn("local edit not applied", "path", rel, "error", err)
		return
	}
	w.logger.Info("local edit applied", "path", rel, "bytes", len(data))
	if w.bus != nil {
		w.bus.Publish(ctx, domain.NewEvent(domain.EventWorkspaceExternalEdit, "",
			domain.FileAppliedPayload{Path: rel, Bytes: len(data)}))
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && ignoredDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
