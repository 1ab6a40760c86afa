package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"project-companion/internal/domain"
	"project-companion/internal/security"
)

// Mirror is a domain.Workspace that writes every Set through to a directory
// on disk as well as to the wrapped workspace. Paths that would land outside
// the directory are rejected with domain.ErrPathOutsideSandbox before
// anything is written.
type Mirror struct {
	inner   domain.Workspace
	sandbox *security.Sandbox
	logger  *slog.Logger
}

// NewMirror creates a Mirror rooted at dir, creating dir if needed.
func NewMirror(inner domain.Workspace, dir string, logger *slog.Logger) (*Mirror, error) {
	sb, err := security.NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace mirror: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{inner: inner, sandbox: sb, logger: logger}, nil
}

// Root returns the mirror directory.
func (m *Mirror) Root() string { return m.sandbox.Root() }

// Get reads from the wrapped workspace.
func (m *Mirror) Get(p string) (string, bool) { return m.inner.Get(p) }

// Set stores content in the wrapped workspace and writes it to disk.
func (m *Mirror) Set(p, content string) error {
	target, err := m.sandbox.Resolve(p)
	if err != nil {
		return err
	}
	if err := m.inner.Set(p, content); err != nil {
		return err
	}
	if err := writeAtomic(target, content); err != nil {
		return fmt.Errorf("mirror %s: %w", p, err)
	}
	m.logger.Debug("workspace file mirrored", "path", p, "bytes", len(content))
	return nil
}

// Snapshot copies the wrapped workspace when it supports snapshots.
func (m *Mirror) Snapshot() map[string]string {
	if s, ok := m.inner.(domain.WorkspaceSnapshotter); ok {
		return s.Snapshot()
	}
	return nil
}

// Load sets every file in files, in path order. Failures are joined and do
// not stop the remaining files.
func (m *Mirror) Load(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		if err := m.Set(p, files[p]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeAtomic writes content to a temp file next to target and renames it
// into place so readers never see a partial file.
func writeAtomic(target, content string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, target)
}

var (
	_ domain.Workspace            = (*Mirror)(nil)
	_ domain.WorkspaceSnapshotter = (*Mirror)(nil)
)
