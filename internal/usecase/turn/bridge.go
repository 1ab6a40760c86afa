// Package turn drives assistant chat turns: it feeds streamed text through
// the markup parser, applies file edits to the workspace and tracks each
// turn's lifecycle.
package turn

import (
	"errors"
	"fmt"
	"sync"

	"project-companion/internal/domain"
)

// Accumulator records the distinct paths edited during one turn, in the
// order they were first edited. It is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{seen: make(map[string]struct{})}
}

// Add records path and reports whether it was new.
func (a *Accumulator) Add(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.seen[path]; ok {
		return false
	}
	a.seen[path] = struct{}{}
	a.paths = append(a.paths, path)
	return true
}

// Paths returns a copy of the recorded paths.
func (a *Accumulator) Paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.paths) == 0 {
		return nil
	}
	out := make([]string, len(a.paths))
	copy(out, a.paths)
	return out
}

// Len returns the number of recorded paths.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.paths)
}

// Bridge pushes file edits from successive event lists into a workspace.
// A path is written again only when its content differs from what the
// bridge last wrote, so re-applying the same list is a no-op.
//
// A Bridge belongs to one turn and is not safe for concurrent use.
type Bridge struct {
	ws      domain.Workspace
	acc     *Accumulator
	applied map[string]string
}

// NewBridge creates a Bridge writing to ws and recording edited paths in acc.
func NewBridge(ws domain.Workspace, acc *Accumulator) *Bridge {
	return &Bridge{ws: ws, acc: acc, applied: make(map[string]string)}
}

// Apply writes every file edit in events whose content changed since the
// last Apply. When a path appears more than once, the last occurrence wins.
// It returns the written paths in order of first appearance; write failures
// are joined into the error and do not stop other paths.
func (b *Bridge) Apply(events []domain.StreamEvent) ([]string, error) {
	latest := make(map[string]string)
	var order []string
	for _, ev := range events {
		if ev.Kind != domain.KindFileEdit || ev.FilePath == "" {
			continue
		}
		if _, ok := latest[ev.FilePath]; !ok {
			order = append(order, ev.FilePath)
		}
		latest[ev.FilePath] = ev.Content
	}

	var (
		changed []string
		errs    []error
	)
	for _, path := range order {
		content := latest[path]
		if prev, ok := b.applied[path]; ok && prev == content {
			continue
		}
		if err := b.ws.Set(path, content); err != nil {
			errs = append(errs, fmt.Errorf("apply %s: %w", path, err))
			continue
		}
		b.applied[path] = content
		b.acc.Add(path)
		changed = append(changed, path)
	}
	return changed, errors.Join(errs...)
}
