// Package workspace holds the editable project files: an in-memory map, an
// on-disk mirror of it and a watcher that picks up local edits.
package workspace

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"project-companion/internal/domain"
)

// Map is a goroutine-safe, in-memory domain.Workspace. Paths are stored in
// cleaned, slash-separated form without a leading slash.
type Map struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMap creates a Map seeded with files.
func NewMap(files map[string]string) *Map {
	m := &Map{files: make(map[string]string, len(files))}
	for p, c := range files {
		if key, err := CleanPath(p); err == nil {
			m.files[key] = c
		}
	}
	return m
}

// CleanPath normalizes a workspace path.
func CleanPath(p string) (string, error) {
	key := strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if strings.TrimSpace(p) == "" || key == "" {
		return "", fmt.Errorf("%w: empty workspace path", domain.ErrInvalidInput)
	}
	return key, nil
}

// Get returns the content of path.
func (m *Map) Get(p string) (string, bool) {
	key, err := CleanPath(p)
	if err != nil {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.files[key]
	return c, ok
}

// Set stores content at path, replacing any previous content.
func (m *Map) Set(p, content string) error {
	key, err := CleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[key] = content
	m.mu.Unlock()
	return nil
}

// Snapshot returns a copy of every file.
func (m *Map) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.files))
	for p, c := range m.files {
		out[p] = c
	}
	return out
}

// Paths returns every path in sorted order.
func (m *Map) Paths() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of files.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

var (
	_ domain.Workspace            = (*Map)(nil)
	_ domain.WorkspaceSnapshotter = (*Map)(nil)
)
